package ioc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc"
)

// ── request scope ─────────────────────────────────────────────────────────────

func TestRequestScope_TokensIsolateInstances(t *testing.T) {
	t.Parallel()

	construct, calls := counted(NewMemCache)
	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).UseConstructor(construct))

	ctx1, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	ctx2, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-2")
	require.NoError(t, err)

	a1, err := ioc.Resolve[*MemCache](ctx1, c, "cache")
	require.NoError(t, err)
	a2, err := ioc.Resolve[*MemCache](ctx1, c, "cache")
	require.NoError(t, err)
	b, err := ioc.Resolve[*MemCache](ctx2, c, "cache")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, int64(2), calls.Load())
}

func TestRequestScope_RequiresActiveToken(t *testing.T) {
	t.Parallel()

	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).UseConstructor(NewMemCache))

	_, err := c.Resolve(context.Background(), "cache")
	assert.ErrorContains(t, err, "no active request scope token")

	// a token on the context that was never entered is just as dead
	ghost := ioc.WithToken(context.Background(), ioc.RequestScoped, "ghost")
	_, err = c.Resolve(ghost, "cache")
	assert.ErrorContains(t, err, `request scope token "ghost" is not active`)
}

func TestRequestScope_TokenReusableAfterExit(t *testing.T) {
	t.Parallel()

	construct, calls := counted(NewMemCache)
	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).UseConstructor(construct))

	ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	first, err := ioc.Resolve[*MemCache](ctx, c, "cache")
	require.NoError(t, err)

	require.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, "req-1"))

	ctx, err = c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	second, err := ioc.Resolve[*MemCache](ctx, c, "cache")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), calls.Load())
}

// ── scope signals ─────────────────────────────────────────────────────────────

func TestEnterScope_ActiveTokenRejected(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	_, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)

	_, err = c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	assert.ErrorContains(t, err, `request scope token "req-1" is already active`)
}

func TestEnterScope_Validation(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	ctx := context.Background()

	_, err := c.EnterScope(ctx, ioc.Singleton, "x")
	assert.ErrorContains(t, err, "is not a token scope")

	_, err = c.EnterScope(ctx, ioc.RequestScoped, "")
	assert.ErrorContains(t, err, "empty scope token")

	err = c.ExitScope(ctx, ioc.Prototype, "x")
	assert.ErrorContains(t, err, "is not a token scope")
}

func TestExitScope_UnknownTokenIsNoop(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	assert.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, "never-entered"))
}

func TestScopeActive(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	assert.False(t, c.ScopeActive(ioc.RequestScoped, "req-1"))
	assert.False(t, c.ScopeActive(ioc.Singleton, "req-1"))

	_, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	assert.True(t, c.ScopeActive(ioc.RequestScoped, "req-1"))

	require.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, "req-1"))
	assert.False(t, c.ScopeActive(ioc.RequestScoped, "req-1"))
}

func TestWithToken_CarriesScopeAcrossContexts(t *testing.T) {
	t.Parallel()

	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).UseConstructor(NewMemCache))

	ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	a, err := ioc.Resolve[*MemCache](ctx, c, "cache")
	require.NoError(t, err)

	// a detached context joining the same token sees the same instance
	detached := ioc.WithToken(context.Background(), ioc.RequestScoped, "req-1")
	b, err := ioc.Resolve[*MemCache](detached, c, "cache")
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestNewToken_Unique(t *testing.T) {
	t.Parallel()

	a, b := ioc.NewToken(), ioc.NewToken()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

// ── teardown ──────────────────────────────────────────────────────────────────

func TestExitScope_DestroysInReverseConstructionOrder(t *testing.T) {
	t.Parallel()

	j := &journal{}
	c := newContainer(t,
		ioc.Component("a").InScope(ioc.RequestScoped).OnDestroy(recordDestroy(j, "a")).UseConstructor(NewMemCache),
		ioc.Component("b").InScope(ioc.RequestScoped).OnDestroy(recordDestroy(j, "b")).UseConstructor(NewMemCache),
		ioc.Component("c").InScope(ioc.RequestScoped).OnDestroy(recordDestroy(j, "c")).UseConstructor(NewMemCache),
	)

	ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Resolve(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, "req-1"))
	assert.Equal(t, []string{"c", "b", "a"}, j.list())
}

func TestExitScope_HookReceivesInstanceAndContext(t *testing.T) {
	t.Parallel()

	type marker struct{}
	var (
		got    any
		gotCtx context.Context
	)
	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).
		OnDestroy(func(ctx context.Context, v any) error {
			got = v
			gotCtx = ctx
			return nil
		}).
		UseConstructor(NewMemCache))

	ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	want, err := ioc.Resolve[*MemCache](ctx, c, "cache")
	require.NoError(t, err)

	teardown := context.WithValue(context.Background(), marker{}, "flush")
	require.NoError(t, c.ExitScope(teardown, ioc.RequestScoped, "req-1"))
	assert.Same(t, want, got)
	require.NotNil(t, gotCtx)
	assert.Equal(t, "flush", gotCtx.Value(marker{}))
}

func TestExitScope_HookFailuresCollected(t *testing.T) {
	t.Parallel()

	j := &journal{}
	errFlush := errors.New("flush failed")
	c := newContainer(t,
		ioc.Component("a").InScope(ioc.RequestScoped).
			OnDestroy(func(context.Context, any) error {
				j.add("a")
				return errFlush
			}).
			UseConstructor(NewMemCache),
		ioc.Component("b").InScope(ioc.RequestScoped).OnDestroy(recordDestroy(j, "b")).UseConstructor(NewMemCache),
	)

	ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "a")
	require.NoError(t, err)
	_, err = c.Resolve(ctx, "b")
	require.NoError(t, err)

	err = c.ExitScope(context.Background(), ioc.RequestScoped, "req-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlush)
	assert.ErrorContains(t, err, "destroying [a]")

	// the failing hook did not stop the teardown
	assert.Equal(t, []string{"b", "a"}, j.list())
}

// ── session scope ─────────────────────────────────────────────────────────────

func TestSessionScope_SpansRequests(t *testing.T) {
	t.Parallel()

	c := newContainer(t,
		ioc.Component("visits").InScope(ioc.SessionScoped).UseConstructor(NewMemCache),
		ioc.Component("probe").InScope(ioc.RequestScoped).UseConstructor(NewDiskCache),
	)

	sctx, err := c.EnterScope(context.Background(), ioc.SessionScoped, "sess-1")
	require.NoError(t, err)

	r1, err := c.EnterScope(sctx, ioc.RequestScoped, "req-1")
	require.NoError(t, err)
	visits1, err := ioc.Resolve[*MemCache](r1, c, "visits")
	require.NoError(t, err)
	probe1, err := ioc.Resolve[*DiskCache](r1, c, "probe")
	require.NoError(t, err)
	require.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, "req-1"))

	r2, err := c.EnterScope(sctx, ioc.RequestScoped, "req-2")
	require.NoError(t, err)
	visits2, err := ioc.Resolve[*MemCache](r2, c, "visits")
	require.NoError(t, err)
	probe2, err := ioc.Resolve[*DiskCache](r2, c, "probe")
	require.NoError(t, err)

	assert.Same(t, visits1, visits2)
	assert.NotSame(t, probe1, probe2)
}

// ── application scope ─────────────────────────────────────────────────────────

func TestApplicationScope_BoundToStart(t *testing.T) {
	t.Parallel()

	construct, calls := counted(NewMemCache)
	c := newContainer(t, ioc.Component("app.cache").InScope(ioc.ApplicationScoped).UseConstructor(construct))
	ctx := context.Background()

	_, err := c.Resolve(ctx, "app.cache")
	assert.ErrorContains(t, err, "is not active")

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.ScopeActive(ioc.ApplicationScoped, ioc.ApplicationToken))

	// without an explicit token the fixed application token serves
	first, err := ioc.Resolve[*MemCache](ctx, c, "app.cache")
	require.NoError(t, err)
	second, err := ioc.Resolve[*MemCache](ctx, c, "app.cache")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

// ── shutdown ──────────────────────────────────────────────────────────────────

func TestShutdown_TearsDownScopesThenSingletons(t *testing.T) {
	t.Parallel()

	j := &journal{}
	c := newContainer(t,
		ioc.Component("sing").OnDestroy(recordDestroy(j, "sing")).UseConstructor(NewMemCache),
		ioc.Component("sess").InScope(ioc.SessionScoped).OnDestroy(recordDestroy(j, "sess")).UseConstructor(NewMemCache),
		ioc.Component("req").InScope(ioc.RequestScoped).OnDestroy(recordDestroy(j, "req")).UseConstructor(NewMemCache),
	)
	ctx := context.Background()

	sctx, err := c.EnterScope(ctx, ioc.SessionScoped, "sess-1")
	require.NoError(t, err)
	rctx, err := c.EnterScope(sctx, ioc.RequestScoped, "req-1")
	require.NoError(t, err)

	_, err = c.Resolve(ctx, "sing")
	require.NoError(t, err)
	_, err = c.Resolve(sctx, "sess")
	require.NoError(t, err)
	_, err = c.Resolve(rctx, "req")
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, []string{"req", "sess", "sing"}, j.list())

	_, err = c.Resolve(ctx, "sing")
	assert.ErrorIs(t, err, ioc.ErrContainerClosed)

	// idempotent, hooks do not run twice
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, []string{"req", "sess", "sing"}, j.list())
}

func TestShutdown_SingletonsReverseCompletionOrder(t *testing.T) {
	t.Parallel()

	j := &journal{}
	c := newContainer(t,
		ioc.Component("cache").Provides((*Cache)(nil)).OnDestroy(recordDestroy(j, "cache")).UseConstructor(NewMemCache),
		ioc.Component("repo").OnDestroy(recordDestroy(j, "repo")).UseConstructor(NewRepo),
		ioc.Component("svc").OnDestroy(recordDestroy(j, "svc")).UseConstructor(NewService),
	)
	ctx := context.Background()

	// building svc completes cache first, then repo, then svc
	_, err := c.Resolve(ctx, "svc")
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, []string{"svc", "repo", "cache"}, j.list())
}

func TestShutdown_ClosesLifecycle(t *testing.T) {
	t.Parallel()

	c := newContainer(t)
	ctx := context.Background()
	require.NoError(t, c.Shutdown(ctx))

	assert.ErrorIs(t, c.Seal(), ioc.ErrContainerClosed)
	assert.ErrorIs(t, c.Start(ctx), ioc.ErrContainerClosed)

	_, err := c.EnterScope(ctx, ioc.RequestScoped, "req-1")
	assert.ErrorIs(t, err, ioc.ErrContainerClosed)

	_, err = c.Resolve(ctx, "container")
	assert.ErrorIs(t, err, ioc.ErrContainerClosed)
}
