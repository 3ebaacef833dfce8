package ioc

import (
	"errors"
	"fmt"
	"strings"
)

// ── Sentinel errors ───────────────────────────────────────────────────────────

var (
	// ErrDuplicateIdentity is returned when a component id (or alias) is
	// registered twice.
	ErrDuplicateIdentity = errors.New("ioc: component id already registered")

	// ErrRegistryClosed is returned when registering after Seal.
	ErrRegistryClosed = errors.New("ioc: registry is sealed")

	// ErrNotSealed is returned when resolving before Seal.
	ErrNotSealed = errors.New("ioc: container is not sealed")

	// ErrNotFound is returned when an id lookup matches nothing.
	ErrNotFound = errors.New("ioc: component not found")

	// ErrCircularDependency is returned when a resolution chain revisits a
	// component that is already under construction.
	ErrCircularDependency = errors.New("ioc: circular dependency detected")

	// ErrUnsatisfiedDependency is returned when a required injection point
	// matches no registered component.
	ErrUnsatisfiedDependency = errors.New("ioc: unsatisfied dependency")

	// ErrAmbiguousDependency is returned when an injection point matches more
	// than one registered component.
	ErrAmbiguousDependency = errors.New("ioc: ambiguous dependency")

	// ErrConstruction is returned when a constructor, factory, initializer or
	// field injection fails. The original failure stays reachable through
	// errors.Is / errors.As.
	ErrConstruction = errors.New("ioc: construction failed")

	// ErrContainerClosed is returned when resolving after Shutdown.
	ErrContainerClosed = errors.New("ioc: container is shut down")
)

// ── Typed errors ──────────────────────────────────────────────────────────────

// CircularDependencyError carries the full resolution chain that closed the
// cycle, first offender repeated at the end: [A B A].
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("ioc: circular dependency detected: %s", strings.Join(e.Chain, " -> "))
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// AmbiguityError lists every candidate id that matched an injection point, so
// the caller can see exactly which registration to qualify.
type AmbiguityError struct {
	Type       string
	Qualifier  string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	if e.Qualifier != "" {
		return fmt.Sprintf("ioc: ambiguous dependency %s (qualifier %q): candidates [%s]",
			e.Type, e.Qualifier, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("ioc: ambiguous dependency %s: candidates [%s]",
		e.Type, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousDependency }

// UnsatisfiedError describes an injection point no registration can satisfy.
// Target is the id of the component whose construction needed it, or empty for
// a top-level resolve.
type UnsatisfiedError struct {
	Type      string
	Qualifier string
	Target    string
}

func (e *UnsatisfiedError) Error() string {
	var b strings.Builder
	b.WriteString("ioc: unsatisfied dependency ")
	b.WriteString(e.Type)
	if e.Qualifier != "" {
		fmt.Fprintf(&b, " (qualifier %q)", e.Qualifier)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " required by [%s]", e.Target)
	}
	return b.String()
}

func (e *UnsatisfiedError) Unwrap() error { return ErrUnsatisfiedDependency }

// ConstructionError wraps whatever failure a constructor, factory, initializer
// or field injection raised while building the component with the given id.
type ConstructionError struct {
	ID  string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("ioc: constructing [%s]: %v", e.ID, e.Err)
}

// Unwrap exposes both the ErrConstruction sentinel and the original cause.
func (e *ConstructionError) Unwrap() []error { return []error{ErrConstruction, e.Err} }
