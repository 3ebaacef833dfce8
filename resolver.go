package ioc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ── Resolution context ────────────────────────────────────────────────────────

// resolutionContext tracks one resolution walk: the ids currently under
// construction (cycle detection) and the component whose injection points are
// being satisfied (captive-dependency check, error attribution). One walk runs
// on one goroutine; joining another goroutine's in-flight construction does
// not extend the chain.
type resolutionContext struct {
	ctx   context.Context
	chain []string
	owner *Descriptor
}

func (rc *resolutionContext) onChain(id string) bool {
	for _, cur := range rc.chain {
		if cur == id {
			return true
		}
	}
	return false
}

// cycleChain snapshots the chain with the revisited id appended: [A B A].
func (rc *resolutionContext) cycleChain(id string) []string {
	out := make([]string, 0, len(rc.chain)+1)
	out = append(out, rc.chain...)
	return append(out, id)
}

func (rc *resolutionContext) push(id string) { rc.chain = append(rc.chain, id) }
func (rc *resolutionContext) pop()           { rc.chain = rc.chain[:len(rc.chain)-1] }

func (rc *resolutionContext) ownerID() string {
	if rc.owner == nil {
		return ""
	}
	return rc.owner.id
}

// ── Resolver ──────────────────────────────────────────────────────────────────

// resolveID resolves a component by id, alias-aware.
func (c *Container) resolveID(rc *resolutionContext, id string) (any, error) {
	d, err := c.registry.lookupByID(id)
	if err != nil {
		return nil, err
	}
	return c.resolveDescriptor(rc, d)
}

// resolvePoint satisfies one injection point: explicit id, or type+qualifier
// candidate selection with the ambiguity rules.
func (c *Container) resolvePoint(rc *resolutionContext, p InjectionPoint) (any, error) {
	if p.ByID != "" {
		v, err := c.resolveID(rc, p.ByID)
		if err != nil && p.Optional && errors.Is(err, ErrNotFound) {
			return zeroOf(p.Type), nil
		}
		return v, err
	}

	candidates := c.registry.lookupByType(p.Type, p.Qualifier)
	switch len(candidates) {
	case 0:
		// A qualified request never falls back to an unqualified candidate.
		if p.Optional {
			return zeroOf(p.Type), nil
		}
		return nil, &UnsatisfiedError{
			Type:      typeName(p.Type),
			Qualifier: p.Qualifier,
			Target:    rc.ownerID(),
		}
	case 1:
		return c.resolveDescriptor(rc, candidates[0])
	default:
		ids := make([]string, len(candidates))
		for i, d := range candidates {
			ids[i] = d.id
		}
		return nil, &AmbiguityError{Type: typeName(p.Type), Qualifier: p.Qualifier, Candidates: ids}
	}
}

// resolveDescriptor runs the core algorithm: captive-dependency check, cycle
// check, scope cache, construct.
func (c *Container) resolveDescriptor(rc *resolutionContext, d *Descriptor) (any, error) {
	if rc.owner != nil && d.scope != Prototype && d.scope.rank() < rc.owner.scope.rank() {
		return nil, fmt.Errorf("ioc: captive dependency: %s [%s] cannot be injected into %s [%s]",
			d.scope, d.id, rc.owner.scope, rc.owner.id)
	}
	if rc.onChain(d.id) {
		return nil, &CircularDependencyError{Chain: rc.cycleChain(d.id)}
	}
	if d.scope == Prototype {
		return c.construct(rc, d)
	}
	cache, err := c.scopes.cacheFor(rc.ctx, d)
	if err != nil {
		return nil, err
	}
	return cache.getOrBuild(rc.ctx, d.id, d.destroy, func() (any, error) {
		return c.construct(rc, d)
	})
}

// zeroOf boxes the zero value of t, nil for interfaces.
func zeroOf(t reflect.Type) any {
	if t == nil {
		return nil
	}
	return reflect.Zero(t).Interface()
}
