package ioc

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option configures a Container at construction.
type Option func(*Container)

// WithLogger routes the container's structured logging to log. Without it the
// container is silent.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Container) { c.log = log }
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container is the IoC container: a sealable component registry plus a
// dependency resolver with scoped instance caches.
//
// Usage is two-phase. Register components, aliases, extenders and observers
// single-threaded at startup, then Seal; resolution is safe from any goroutine
// afterwards:
//
//	c := ioc.New()
//	c.MustRegister(ioc.Component("cache.fast").
//	    Provides((*Cache)(nil)).
//	    Qualifier("fast").
//	    UseConstructor(NewMemCache))
//	c.MustRegister(ioc.Component("server").UseConstructor(NewServer))
//	_ = c.Seal()
//
//	srv, err := ioc.Resolve[*Server](ctx, c, "server")
type Container struct {
	log      logrus.FieldLogger
	registry *registry
	scopes   *scopes

	// frozen at seal, read without locks afterwards
	extenders map[string][]Extender
	observers []func(id string, instance any)

	started atomic.Bool
	closed  atomic.Bool
}

// New creates an empty, unsealed container. The container registers itself
// under the id "container", so components may declare a *Container dependency.
func New(opts ...Option) *Container {
	silent := logrus.New()
	silent.SetOutput(io.Discard)

	c := &Container{
		log:       silent,
		registry:  newRegistry(),
		extenders: make(map[string][]Extender),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.scopes = newScopes(c.log)

	c.MustRegister(Component("container").UseValue(c))
	return c
}

// ── Registration ──────────────────────────────────────────────────────────────

// Register validates the builder and stores its descriptor. Fails with
// ErrDuplicateIdentity on id collisions and ErrRegistryClosed after Seal.
func (c *Container) Register(b *Builder) error {
	d, err := b.Descriptor()
	if err != nil {
		return err
	}
	if err := c.registry.register(d); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"component": d.id,
		"scope":     d.scope.String(),
	}).Debug("registered component")
	return nil
}

// MustRegister panics on registration failure. Wiring mistakes at startup are
// programming errors; providers typically use this form.
func (c *Container) MustRegister(b *Builder) {
	if err := c.Register(b); err != nil {
		panic(err)
	}
}

// Alias registers an alternative id for an existing component. Aliases resolve
// transitively and are frozen at Seal.
func (c *Container) Alias(alias, id string) error {
	if err := c.registry.alias(alias, id); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"alias": alias, "component": id}).Debug("registered alias")
	return nil
}

// Extend registers a decorator applied when id is first materialized. Register
// aliases before extending through them. Pre-seal only.
func (c *Container) Extend(id string, fn Extender) error {
	if c.registry.isSealed() {
		return fmt.Errorf("%w: cannot extend [%s]", ErrRegistryClosed, id)
	}
	key := c.registry.canonical(id)
	c.extenders[key] = append(c.extenders[key], fn)
	return nil
}

// AfterResolving registers an observer fired after every materialization, with
// the component id and the (decorated) instance. Pre-seal only.
func (c *Container) AfterResolving(fn func(id string, instance any)) error {
	if c.registry.isSealed() {
		return fmt.Errorf("%w: cannot add observer", ErrRegistryClosed)
	}
	c.observers = append(c.observers, fn)
	return nil
}

// Seal ends the registration phase. Idempotent. Registration attempts after
// Seal fail with ErrRegistryClosed; resolution before it fails with
// ErrNotSealed.
func (c *Container) Seal() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if c.registry.isSealed() {
		return nil
	}
	c.registry.seal()
	c.log.WithField("components", c.registry.size()).Info("container sealed")
	return nil
}

// Sealed reports whether Seal has run.
func (c *Container) Sealed() bool { return c.registry.isSealed() }

func (c *Container) applyExtenders(id string, v any) any {
	for _, ext := range c.extenders[id] {
		v = ext(v, c)
	}
	return v
}

func (c *Container) fireAfterResolving(id string, v any) {
	for _, fn := range c.observers {
		fn(id, v)
	}
}

// ── Resolution ────────────────────────────────────────────────────────────────

func (c *Container) resolveGate() error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if !c.registry.isSealed() {
		return ErrNotSealed
	}
	return nil
}

// Resolve returns the component registered under id or an alias of it.
func (c *Container) Resolve(ctx context.Context, id string) (any, error) {
	if err := c.resolveGate(); err != nil {
		return nil, err
	}
	rc := &resolutionContext{ctx: ctx}
	return c.resolveID(rc, id)
}

// ResolveType returns the single component whose declared type is assignable
// to t. A non-empty qualifier filters candidates to the ones carrying it;
// there is no fallback from a qualified request to unqualified candidates.
func (c *Container) ResolveType(ctx context.Context, t reflect.Type, qualifier string) (any, error) {
	if err := c.resolveGate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("ioc: ResolveType requires a non-nil type")
	}
	rc := &resolutionContext{ctx: ctx}
	return c.resolvePoint(rc, InjectionPoint{Type: t, Qualifier: qualifier})
}

// ResolveTagged constructs every component carrying tag, in registration
// order.
func (c *Container) ResolveTagged(ctx context.Context, tag string) ([]any, error) {
	if err := c.resolveGate(); err != nil {
		return nil, err
	}
	ids := c.registry.taggedIDs(tag)
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		rc := &resolutionContext{ctx: ctx}
		v, err := c.resolveID(rc, id)
		if err != nil {
			return nil, fmt.Errorf("ioc: tagged %q: %w", tag, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Resolved reports whether the singleton id has been materialized yet.
func (c *Container) Resolved(id string) bool {
	if !c.registry.isSealed() {
		return false
	}
	d, err := c.registry.lookupByID(id)
	if err != nil || d.scope != Singleton {
		return false
	}
	_, ok := c.scopes.singletons.peek(d.id)
	return ok
}

// ComponentIDs returns every registered id in registration order, for
// diagnostics.
func (c *Container) ComponentIDs() []string { return c.registry.componentIDs() }

// ── Scope signals ─────────────────────────────────────────────────────────────

// EnterScope activates token for a contextual scope kind and returns a derived
// context carrying it. Re-entering an active token is an error; a token may be
// reused after ExitScope, yielding fresh instances.
func (c *Container) EnterScope(ctx context.Context, kind ScopeKind, token Token) (context.Context, error) {
	if c.closed.Load() {
		return ctx, ErrContainerClosed
	}
	if !kind.contextual() {
		return ctx, fmt.Errorf("ioc: %s is not a token scope", kind)
	}
	if token == "" {
		return ctx, fmt.Errorf("ioc: empty scope token")
	}
	if err := c.scopes.tokensOf(kind).enter(token); err != nil {
		return ctx, err
	}
	c.log.WithFields(logrus.Fields{"scope": kind.String(), "token": string(token)}).Debug("entered scope")
	return WithToken(ctx, kind, token), nil
}

// ScopeActive reports whether token is currently active for kind.
func (c *Container) ScopeActive(kind ScopeKind, token Token) bool {
	if !kind.contextual() {
		return false
	}
	_, ok := c.scopes.tokensOf(kind).get(token)
	return ok
}

// ExitScope tears down every instance cached under token in reverse
// construction order, invoking destroy hooks with ctx. Exiting a token that is
// not active is a no-op.
func (c *Container) ExitScope(ctx context.Context, kind ScopeKind, token Token) error {
	if !kind.contextual() {
		return fmt.Errorf("ioc: %s is not a token scope", kind)
	}
	cache, ok := c.scopes.tokensOf(kind).remove(token)
	if !ok {
		return nil
	}
	err := cache.teardown(ctx)
	c.log.WithFields(logrus.Fields{"scope": kind.String(), "token": string(token)}).Debug("exited scope")
	return err
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Start activates the application scope and constructs every eager singleton
// in registration order, failing fast on the first error. Idempotent.
func (c *Container) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrContainerClosed
	}
	if !c.registry.isSealed() {
		return ErrNotSealed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.scopes.app.enter(ApplicationToken); err != nil {
		return err
	}
	eager := c.registry.eagerIDs()
	for _, id := range eager {
		if _, err := c.Resolve(ctx, id); err != nil {
			return fmt.Errorf("ioc: starting eager [%s]: %w", id, err)
		}
	}
	c.log.WithField("eager", len(eager)).Info("container started")
	return nil
}

// Shutdown tears every scope down: request tokens, session tokens, the
// application scope, then singletons, each cache in reverse construction
// order. Destroy hooks receive ctx; hook failures are logged, collected and
// returned, but never stop the teardown. Idempotent; resolution afterwards
// fails with ErrContainerClosed.
func (c *Container) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.scopes.shutdown(ctx)
	c.log.Info("container shut down")
	return err
}

// ── Generic helpers ───────────────────────────────────────────────────────────

// Resolve is the generic form of Container.Resolve; it type-asserts the result.
//
//	cache, err := ioc.Resolve[Cache](ctx, c, "cache.fast")
func Resolve[T any](ctx context.Context, c *Container, id string) (T, error) {
	var zero T
	v, err := c.Resolve(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("ioc: [%s] resolved to %T, want %s", id, v, typeName(typeOf[T]()))
	}
	return typed, nil
}

// ResolveType resolves the single component assignable to T.
//
//	repo, err := ioc.ResolveType[UserRepository](ctx, c)
func ResolveType[T any](ctx context.Context, c *Container) (T, error) {
	return ResolveQualified[T](ctx, c, "")
}

// ResolveQualified resolves the component assignable to T that carries the
// qualifier.
//
//	fast, err := ioc.ResolveQualified[Cache](ctx, c, "fast")
func ResolveQualified[T any](ctx context.Context, c *Container, qualifier string) (T, error) {
	var zero T
	v, err := c.ResolveType(ctx, typeOf[T](), qualifier)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("ioc: resolved %T, want %s", v, typeName(typeOf[T]()))
	}
	return typed, nil
}

// ResolveTagged resolves every component carrying tag as T, in registration
// order.
func ResolveTagged[T any](ctx context.Context, c *Container, tag string) ([]T, error) {
	vs, err := c.ResolveTagged(ctx, tag)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		typed, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("ioc: tagged %q: %T is not %s", tag, v, typeName(typeOf[T]()))
		}
		out = append(out, typed)
	}
	return out, nil
}

// MustResolve panics on failure. For main() wiring where the only sane
// response is to crash.
func MustResolve[T any](ctx context.Context, c *Container, id string) T {
	v, err := Resolve[T](ctx, c, id)
	if err != nil {
		panic(err)
	}
	return v
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
