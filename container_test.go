package ioc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc"
)

// ── lifecycle ─────────────────────────────────────────────────────────────────

func TestStart_BuildsEagerSingletons(t *testing.T) {
	t.Parallel()

	eager, eagerCalls := counted(NewMemCache)
	lazy, lazyCalls := counted(NewDiskCache)
	c := newContainer(t,
		ioc.Component("warm").Eager().UseConstructor(eager),
		ioc.Component("lazy").UseConstructor(lazy),
	)
	ctx := context.Background()

	assert.False(t, c.Resolved("warm"))
	require.NoError(t, c.Start(ctx))

	assert.True(t, c.Resolved("warm"))
	assert.False(t, c.Resolved("lazy"))
	assert.Equal(t, int64(1), eagerCalls.Load())
	assert.Equal(t, int64(0), lazyCalls.Load())

	// idempotent, nothing is rebuilt
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, int64(1), eagerCalls.Load())
}

func TestStart_EagerFailureFailsFast(t *testing.T) {
	t.Parallel()

	j := &journal{}
	errBoom := errors.New("no backend")
	c := newContainer(t,
		ioc.Component("first").Eager().UseFactory(func() (*MemCache, error) {
			j.add("first")
			return nil, errBoom
		}),
		ioc.Component("second").Eager().UseConstructor(func() *DiskCache {
			j.add("second")
			return NewDiskCache()
		}),
	)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ioc.ErrConstruction)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorContains(t, err, "starting eager [first]")

	// construction stops at the first failure
	assert.Equal(t, []string{"first"}, j.list())
}

func TestResolved_TracksSingletonMaterialization(t *testing.T) {
	t.Parallel()

	c := newContainer(t,
		ioc.Component("cache").UseConstructor(NewMemCache),
		ioc.Component("proto").InScope(ioc.Prototype).UseConstructor(NewDiskCache),
	)
	ctx := context.Background()

	assert.False(t, c.Resolved("cache"))
	assert.False(t, c.Resolved("ghost"))

	_, err := c.Resolve(ctx, "cache")
	require.NoError(t, err)
	assert.True(t, c.Resolved("cache"))

	// prototypes are never cached
	_, err = c.Resolve(ctx, "proto")
	require.NoError(t, err)
	assert.False(t, c.Resolved("proto"))
}

func TestResolved_FalseBeforeSeal(t *testing.T) {
	t.Parallel()

	c := ioc.New()
	require.NoError(t, c.Register(ioc.Component("cache").UseConstructor(NewMemCache)))
	assert.False(t, c.Resolved("cache"))
}

// ── logging ───────────────────────────────────────────────────────────────────

func TestWithLogger_EmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	c := ioc.New(ioc.WithLogger(logger))
	require.NoError(t, c.Register(ioc.Component("cache").UseConstructor(NewMemCache)))
	require.NoError(t, c.Seal())

	_, err := c.Resolve(context.Background(), "cache")
	require.NoError(t, err)

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
		if e.Message == "container sealed" {
			assert.Equal(t, 2, e.Data["components"]) // container itself plus cache
		}
	}
	assert.Contains(t, messages, "registered component")
	assert.Contains(t, messages, "container sealed")
	assert.Contains(t, messages, "constructed component")
}
