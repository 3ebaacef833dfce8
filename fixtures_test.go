package ioc_test

// Shared fake services for the suite: a small cache/repo/service graph, a
// cycle pair and an event journal for ordering assertions.

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-ioc"
)

// ── fake services ─────────────────────────────────────────────────────────────

type Cache interface {
	Kind() string
}

type MemCache struct{ entries map[string]string }

func NewMemCache() *MemCache { return &MemCache{entries: make(map[string]string)} }

func (m *MemCache) Kind() string { return "memory" }

type DiskCache struct{ dir string }

func NewDiskCache() *DiskCache { return &DiskCache{dir: "/var/cache/app"} }

func (d *DiskCache) Kind() string { return "disk" }

type Repo struct{ cache Cache }

func NewRepo(c Cache) *Repo { return &Repo{cache: c} }

type Service struct{ repo *Repo }

func NewService(r *Repo) *Service { return &Service{repo: r} }

type ContainerClient struct{ c *ioc.Container }

func NewContainerClient(c *ioc.Container) *ContainerClient { return &ContainerClient{c: c} }

// Ping and Pong need each other, closing a dependency cycle.

type Ping struct{ pong *Pong }

type Pong struct{ ping *Ping }

func NewPing(p *Pong) *Ping { return &Ping{pong: p} }

func NewPong(p *Ping) *Pong { return &Pong{ping: p} }

// ── test plumbing ─────────────────────────────────────────────────────────────

// journal records ordered events from constructors and destroy hooks.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(ev string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	copy(out, j.events)
	return out
}

// counted wraps a constructor with an atomic call counter.
func counted[T any](construct func() T) (func() T, *atomic.Int64) {
	var calls atomic.Int64
	return func() T {
		calls.Add(1)
		return construct()
	}, &calls
}

// recordDestroy returns a destroy hook that appends name to the journal.
func recordDestroy(j *journal, name string) ioc.DestroyFunc {
	return func(context.Context, any) error {
		j.add(name)
		return nil
	}
}

// newContainer registers the given builders and seals.
func newContainer(t *testing.T, builders ...*ioc.Builder) *ioc.Container {
	t.Helper()
	c := ioc.New()
	for _, b := range builders {
		require.NoError(t, c.Register(b))
	}
	require.NoError(t, c.Seal())
	return c
}
