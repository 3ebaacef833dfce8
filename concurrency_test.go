package ioc_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc"
)

func TestConcurrentResolve_SingleConstruction(t *testing.T) {
	t.Parallel()

	const goroutines = 100

	construct, calls := counted(NewMemCache)
	c := newContainer(t, ioc.Component("cache").UseConstructor(construct))

	start := make(chan struct{})
	results := make(chan *MemCache, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := ioc.Resolve[*MemCache](context.Background(), c, "cache")
			assert.NoError(t, err)
			results <- v
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	first := <-results
	require.NotNil(t, first)
	for v := range results {
		assert.Same(t, first, v)
	}
	assert.Equal(t, int64(1), calls.Load())
}

func TestConcurrentResolve_CanceledWaiterLeavesConstructionRunning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	gate := make(chan struct{})
	var calls atomic.Int64
	c := newContainer(t, ioc.Component("slow").UseConstructor(func() *MemCache {
		calls.Add(1)
		close(started)
		<-gate
		return NewMemCache()
	}))

	type outcome struct {
		v   *MemCache
		err error
	}
	claim := make(chan outcome, 1)
	go func() {
		v, err := ioc.Resolve[*MemCache](context.Background(), c, "slow")
		claim <- outcome{v, err}
	}()

	<-started // the construction is in flight now

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Resolve(canceled, "slow")
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	got := <-claim
	require.NoError(t, got.err)
	require.NotNil(t, got.v)

	// the canceled waiter did not abort the build, the instance is cached
	again, err := ioc.Resolve[*MemCache](context.Background(), c, "slow")
	require.NoError(t, err)
	assert.Same(t, got.v, again)
	assert.Equal(t, int64(1), calls.Load())
}

func TestConcurrentResolve_DistinctComponentsBuildInParallel(t *testing.T) {
	t.Parallel()

	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	c := newContainer(t,
		ioc.Component("a").UseConstructor(func() *MemCache {
			close(aStarted)
			<-bStarted // needs b's construction to be running concurrently
			return NewMemCache()
		}),
		ioc.Component("b").UseConstructor(func() *DiskCache {
			close(bStarted)
			<-aStarted
			return NewDiskCache()
		}),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.Resolve(context.Background(), "a")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := c.Resolve(context.Background(), "b")
		assert.NoError(t, err)
	}()
	wg.Wait()
}

func TestConcurrentResolve_FailureSharedThenRetried(t *testing.T) {
	t.Parallel()

	errCold := errors.New("cold backend")
	var healthy atomic.Bool
	c := newContainer(t, ioc.Component("conn").UseFactory(func() (*MemCache, error) {
		if !healthy.Load() {
			return nil, errCold
		}
		return NewMemCache(), nil
	}))

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), "conn")
			assert.ErrorIs(t, err, errCold)
		}()
	}
	wg.Wait()

	// the failure was not cached; once the backend is up, resolution succeeds
	healthy.Store(true)
	got, err := ioc.Resolve[*MemCache](context.Background(), c, "conn")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestConcurrentScopes_TokensFullyIsolated(t *testing.T) {
	t.Parallel()

	const goroutines = 50

	construct, calls := counted(NewMemCache)
	c := newContainer(t, ioc.Component("cache").InScope(ioc.RequestScoped).UseConstructor(construct))

	results := make(chan *MemCache, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := ioc.NewToken()
			ctx, err := c.EnterScope(context.Background(), ioc.RequestScoped, token)
			if !assert.NoError(t, err) {
				return
			}
			first, err := ioc.Resolve[*MemCache](ctx, c, "cache")
			assert.NoError(t, err)
			second, err := ioc.Resolve[*MemCache](ctx, c, "cache")
			assert.NoError(t, err)
			assert.Same(t, first, second)
			results <- first
			assert.NoError(t, c.ExitScope(context.Background(), ioc.RequestScoped, token))
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[*MemCache]bool)
	for v := range results {
		seen[v] = true
	}
	assert.Len(t, seen, goroutines)
	assert.Equal(t, int64(goroutines), calls.Load())
}
