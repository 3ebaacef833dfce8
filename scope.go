package ioc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ── Scope kinds ───────────────────────────────────────────────────────────────

// ScopeKind decides which cache owns a component's instances and when they are
// torn down.
type ScopeKind int

const (
	// Singleton components are built once per container and live until
	// Shutdown.
	Singleton ScopeKind = iota

	// Prototype components are built fresh on every resolve and never cached;
	// the container takes no part in tearing them down.
	Prototype

	// RequestScoped components live once per request token.
	RequestScoped

	// SessionScoped components live once per session token.
	SessionScoped

	// ApplicationScoped components live once per application token. Start
	// activates the fixed ApplicationToken; resolution falls back to it when
	// the calling context carries no explicit application token.
	ApplicationScoped
)

func (k ScopeKind) String() string {
	switch k {
	case Singleton:
		return "singleton"
	case Prototype:
		return "prototype"
	case RequestScoped:
		return "request"
	case SessionScoped:
		return "session"
	case ApplicationScoped:
		return "application"
	default:
		return fmt.Sprintf("ScopeKind(%d)", int(k))
	}
}

// contextual reports whether the kind is partitioned by correlation tokens.
func (k ScopeKind) contextual() bool {
	return k == RequestScoped || k == SessionScoped || k == ApplicationScoped
}

// rank orders scopes narrowest to widest for the captive-dependency check.
// Prototype is rank 0 and may be injected anywhere.
func (k ScopeKind) rank() int {
	switch k {
	case Prototype:
		return 0
	case RequestScoped:
		return 1
	case SessionScoped:
		return 2
	case ApplicationScoped:
		return 3
	default:
		return 4
	}
}

// ── Correlation tokens ────────────────────────────────────────────────────────

// Token identifies one activation of a contextual scope. Instance caches of
// different tokens are fully isolated.
type Token string

// ApplicationToken backs ApplicationScoped components between Start and
// Shutdown.
const ApplicationToken Token = "application"

// NewToken returns a fresh random correlation token.
func NewToken() Token {
	return Token(uuid.NewString())
}

type tokenCtxKey struct{ kind ScopeKind }

// WithToken binds an already-active scope token onto ctx, for handing work to
// another goroutine that should resolve inside the same scope.
func WithToken(ctx context.Context, kind ScopeKind, token Token) context.Context {
	return context.WithValue(ctx, tokenCtxKey{kind}, token)
}

// TokenFrom extracts the token bound to ctx for the given scope kind.
func TokenFrom(ctx context.Context, kind ScopeKind) (Token, bool) {
	token, ok := ctx.Value(tokenCtxKey{kind}).(Token)
	return token, ok
}

// ── Flight entries ────────────────────────────────────────────────────────────

type instanceState int

const (
	stateUnderConstruction instanceState = iota
	stateReady
	stateDestroyed
)

// flightEntry is one cache slot. The first resolver to claim it constructs;
// racers block on done and share the outcome. Failed constructions vacate the
// slot so a later resolve can retry.
type flightEntry struct {
	id      string
	state   instanceState // written under the owning cache's mu
	done    chan struct{}
	value   any
	err     error
	destroy DestroyFunc
}

// instanceCache holds the live instances of one scope activation: the
// container-wide singleton cache, or one token's worth of a contextual scope.
type instanceCache struct {
	log       logrus.FieldLogger
	closedErr error

	mu      sync.Mutex
	closed  bool
	entries map[string]*flightEntry
	order   []string // completion order, walked backwards at teardown
}

func newInstanceCache(log logrus.FieldLogger, closedErr error) *instanceCache {
	return &instanceCache{
		log:       log,
		closedErr: closedErr,
		entries:   make(map[string]*flightEntry),
	}
}

// getOrBuild returns the cached instance for id, joins an in-flight
// construction, or claims the slot and constructs. A canceled waiter returns
// ctx.Err() while the construction itself keeps running for everyone else.
func (ic *instanceCache) getOrBuild(ctx context.Context, id string, destroy DestroyFunc, build func() (any, error)) (any, error) {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil, ic.closedErr
	}
	if e, ok := ic.entries[id]; ok {
		if e.state == stateReady {
			v := e.value
			ic.mu.Unlock()
			return v, nil
		}
		ic.mu.Unlock()
		select {
		case <-e.done:
			if e.err != nil {
				return nil, e.err
			}
			return e.value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e := &flightEntry{id: id, done: make(chan struct{}), destroy: destroy}
	ic.entries[id] = e
	ic.mu.Unlock()

	v, err := build()

	ic.mu.Lock()
	if err != nil {
		e.err = err
		delete(ic.entries, id)
		ic.mu.Unlock()
		close(e.done)
		return nil, err
	}
	e.value = v
	e.state = stateReady
	closedMeanwhile := ic.closed
	if !closedMeanwhile {
		ic.order = append(ic.order, id)
	}
	ic.mu.Unlock()
	close(e.done)

	// The scope was exited mid-construction; the instance can never be reached
	// again, so run its hook now.
	if closedMeanwhile && destroy != nil {
		if derr := destroy(context.Background(), v); derr != nil {
			ic.log.WithError(derr).WithField("component", id).Warn("destroy hook failed")
		}
	}
	return v, nil
}

// peek returns the Ready instance for id without building.
func (ic *instanceCache) peek(id string) (any, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if e, ok := ic.entries[id]; ok && e.state == stateReady {
		return e.value, true
	}
	return nil, false
}

// teardown destroys every Ready instance in reverse completion order, invoking
// destroy hooks with ctx. Hook failures are logged and collected; teardown
// always finishes. Safe to call twice.
func (ic *instanceCache) teardown(ctx context.Context) error {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil
	}
	ic.closed = true
	order := ic.order
	entries := ic.entries
	ic.entries = nil
	ic.order = nil
	ic.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		e := entries[order[i]]
		if e == nil || e.state != stateReady {
			continue
		}
		e.state = stateDestroyed
		if e.destroy == nil {
			continue
		}
		if err := e.destroy(ctx, e.value); err != nil {
			ic.log.WithError(err).WithField("component", e.id).Warn("destroy hook failed")
			errs = append(errs, fmt.Errorf("destroying [%s]: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}

// ── Token-partitioned scopes ──────────────────────────────────────────────────

// tokenCaches manages the per-token caches of one contextual scope kind.
type tokenCaches struct {
	kind ScopeKind
	log  logrus.FieldLogger

	mu      sync.Mutex
	byToken map[Token]*instanceCache
}

func newTokenCaches(kind ScopeKind, log logrus.FieldLogger) *tokenCaches {
	return &tokenCaches{kind: kind, log: log, byToken: make(map[Token]*instanceCache)}
}

func (tc *tokenCaches) enter(token Token) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if _, active := tc.byToken[token]; active {
		return fmt.Errorf("ioc: %s scope token %q is already active", tc.kind, token)
	}
	closedErr := fmt.Errorf("ioc: %s scope token %q has exited", tc.kind, token)
	tc.byToken[token] = newInstanceCache(tc.log, closedErr)
	return nil
}

func (tc *tokenCaches) get(token Token) (*instanceCache, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	cache, ok := tc.byToken[token]
	return cache, ok
}

// remove detaches the token's cache so the caller can tear it down. Unknown
// tokens return false.
func (tc *tokenCaches) remove(token Token) (*instanceCache, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	cache, ok := tc.byToken[token]
	if ok {
		delete(tc.byToken, token)
	}
	return cache, ok
}

func (tc *tokenCaches) activeTokens() []Token {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]Token, 0, len(tc.byToken))
	for token := range tc.byToken {
		out = append(out, token)
	}
	return out
}

// ── Scope set ─────────────────────────────────────────────────────────────────

// scopes owns every instance cache of one container.
type scopes struct {
	singletons *instanceCache
	request    *tokenCaches
	session    *tokenCaches
	app        *tokenCaches
}

func newScopes(log logrus.FieldLogger) *scopes {
	return &scopes{
		singletons: newInstanceCache(log, ErrContainerClosed),
		request:    newTokenCaches(RequestScoped, log),
		session:    newTokenCaches(SessionScoped, log),
		app:        newTokenCaches(ApplicationScoped, log),
	}
}

func (s *scopes) tokensOf(kind ScopeKind) *tokenCaches {
	switch kind {
	case RequestScoped:
		return s.request
	case SessionScoped:
		return s.session
	case ApplicationScoped:
		return s.app
	default:
		return nil
	}
}

// cacheFor picks the instance cache owning d's instances, reading the scope
// token from ctx for contextual kinds.
func (s *scopes) cacheFor(ctx context.Context, d *Descriptor) (*instanceCache, error) {
	if d.scope == Singleton {
		return s.singletons, nil
	}
	token, ok := TokenFrom(ctx, d.scope)
	if !ok {
		if d.scope != ApplicationScoped {
			return nil, fmt.Errorf("ioc: resolving [%s]: no active %s scope token in context", d.id, d.scope)
		}
		token = ApplicationToken
	}
	cache, active := s.tokensOf(d.scope).get(token)
	if !active {
		return nil, fmt.Errorf("ioc: resolving [%s]: %s scope token %q is not active", d.id, d.scope, token)
	}
	return cache, nil
}

// shutdown tears every scope down: request tokens, then session tokens, then
// application tokens, then singletons.
func (s *scopes) shutdown(ctx context.Context) error {
	var errs []error
	for _, tc := range []*tokenCaches{s.request, s.session, s.app} {
		for _, token := range tc.activeTokens() {
			if cache, ok := tc.remove(token); ok {
				errs = append(errs, cache.teardown(ctx))
			}
		}
	}
	errs = append(errs, s.singletons.teardown(ctx))
	return errors.Join(errs...)
}
