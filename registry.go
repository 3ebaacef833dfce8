package ioc

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// registry stores descriptors during the registration phase and serves
// lookups afterwards. Registration is single-threaded by contract and
// additionally guarded by mu; Seal flips the registry immutable, so every
// post-seal lookup is a plain lock-free map read.
type registry struct {
	mu     sync.Mutex
	sealed atomic.Bool

	byID    map[string]*Descriptor
	aliases map[string]string // alias → canonical id
	order   []string          // registration order
	byTag   map[string][]string
}

func newRegistry() *registry {
	return &registry{
		byID:    make(map[string]*Descriptor),
		aliases: make(map[string]string),
		byTag:   make(map[string][]string),
	}
}

func (r *registry) register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot register [%s]", ErrRegistryClosed, d.id)
	}
	if _, dup := r.byID[d.id]; dup {
		return fmt.Errorf("%w: [%s]", ErrDuplicateIdentity, d.id)
	}
	if _, dup := r.aliases[d.id]; dup {
		return fmt.Errorf("%w: [%s] is an alias", ErrDuplicateIdentity, d.id)
	}
	r.byID[d.id] = d
	r.order = append(r.order, d.id)
	for _, tag := range d.tags {
		r.byTag[tag] = append(r.byTag[tag], d.id)
	}
	return nil
}

func (r *registry) alias(alias, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed.Load() {
		return fmt.Errorf("%w: cannot alias [%s]", ErrRegistryClosed, alias)
	}
	if _, dup := r.byID[alias]; dup {
		return fmt.Errorf("%w: [%s]", ErrDuplicateIdentity, alias)
	}
	if _, dup := r.aliases[alias]; dup {
		return fmt.Errorf("%w: alias [%s]", ErrDuplicateIdentity, alias)
	}
	canonical := r.canonicalLocked(id)
	if _, ok := r.byID[canonical]; !ok {
		return fmt.Errorf("%w: cannot alias [%s] to unknown [%s]", ErrNotFound, alias, id)
	}
	// Stored flat, so chains of aliases stay single-hop at lookup time.
	r.aliases[alias] = canonical
	return nil
}

func (r *registry) canonicalLocked(id string) string {
	if target, ok := r.aliases[id]; ok {
		return target
	}
	return id
}

// canonical follows alias indirection, safe in either phase.
func (r *registry) canonical(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canonicalLocked(id)
}

// seal flips the registry immutable. The sequentially consistent store pairs
// with the load in isSealed: a resolver that observes the seal also observes
// every registration that preceded it.
func (r *registry) seal() {
	r.mu.Lock()
	r.sealed.Store(true)
	r.mu.Unlock()
}

func (r *registry) isSealed() bool { return r.sealed.Load() }

// lookupByID follows alias indirection to the descriptor. Resolution runs
// post-seal only, so the maps are read without locking.
func (r *registry) lookupByID(id string) (*Descriptor, error) {
	key := id
	if target, ok := r.aliases[id]; ok {
		key = target
	}
	d, ok := r.byID[key]
	if !ok {
		return nil, fmt.Errorf("%w: [%s]", ErrNotFound, id)
	}
	return d, nil
}

// lookupByType returns every descriptor whose declared type is identical or
// assignable to t, in registration order. A non-empty qualifier filters to
// descriptors carrying exactly it.
func (r *registry) lookupByType(t reflect.Type, qualifier string) []*Descriptor {
	var out []*Descriptor
	for _, id := range r.order {
		d := r.byID[id]
		if d.typ != t && !d.typ.AssignableTo(t) {
			continue
		}
		if qualifier != "" && d.qualifier != qualifier {
			continue
		}
		out = append(out, d)
	}
	return out
}

// taggedIDs returns the ids carrying tag, in registration order.
func (r *registry) taggedIDs(tag string) []string {
	ids := r.byTag[tag]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// eagerIDs returns the ids of eager singletons, in registration order.
func (r *registry) eagerIDs() []string {
	var out []string
	for _, id := range r.order {
		if r.byID[id].eager {
			out = append(out, id)
		}
	}
	return out
}

func (r *registry) size() int { return len(r.byID) }

// componentIDs returns every registered id in registration order, for
// diagnostics.
func (r *registry) componentIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
