package splice

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/pboyd/splice/ir"
)

// PatchSet holds the patches registered for one method, bucketed by role
// in registration order.
type PatchSet struct {
	method *ir.Method

	mu      sync.RWMutex
	version uint64
	buckets [numRoles][]*Patch
}

// Method returns the method the set patches.
func (s *PatchSet) Method() *ir.Method {
	return s.method
}

// Add registers patches. Either all of them are added or, on error, none.
// Each patch is checked against the method's signature first.
func (s *PatchSet) Add(patches ...*Patch) error {
	for _, p := range patches {
		if err := p.check(s.method); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range patches {
		if !p.set.CompareAndSwap(nil, s) {
			for _, claimed := range patches[:i] {
				claimed.set.Store(nil)
			}
			return fmt.Errorf("%v: %w", p, ErrPatchInUse)
		}
	}

	for _, p := range patches {
		s.buckets[p.role] = append(s.buckets[p.role], p)
	}
	s.version++
	return nil
}

// Remove unregisters p. It reports whether p was in the set.
func (s *PatchSet) Remove(p *Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.buckets[p.role]
	i := slices.Index(bucket, p)
	if i < 0 {
		return false
	}

	s.buckets[p.role] = slices.Delete(slices.Clone(bucket), i, i+1)
	p.set.Store(nil)
	s.version++
	return true
}

// Clear unregisters every patch and returns how many there were.
func (s *PatchSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for r := range s.buckets {
		for _, p := range s.buckets[r] {
			p.set.Store(nil)
		}
		n += len(s.buckets[r])
		s.buckets[r] = nil
	}
	if n > 0 {
		s.version++
	}
	return n
}

// Len returns the number of patches in the set.
func (s *PatchSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}

// Version increases with every change to the set.
func (s *PatchSet) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot is a consistent copy of a PatchSet.
type Snapshot struct {
	Version uint64
	patches [numRoles][]*Patch
}

// Snapshot copies the buckets.
func (s *PatchSet) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Version: s.version}
	for r, b := range s.buckets {
		snap.patches[r] = slices.Clone(b)
	}
	return snap
}

// Patches returns the patches of one role in registration order.
func (s Snapshot) Patches(r Role) []*Patch {
	return s.patches[r]
}

// Len returns the total number of patches.
func (s Snapshot) Len() int {
	n := 0
	for _, b := range s.patches {
		n += len(b)
	}
	return n
}

// Registry maps methods to their patch sets. Sets are created on first
// use and live as long as the registry.
type Registry struct {
	mu   sync.RWMutex
	sets map[ir.MethodID]*PatchSet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[ir.MethodID]*PatchSet)}
}

// GetOrCreate returns the set for m, creating it if needed.
func (r *Registry) GetOrCreate(m *ir.Method) *PatchSet {
	id := m.ID()

	r.mu.RLock()
	set, ok := r.sets[id]
	r.mu.RUnlock()
	if ok {
		return set
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.sets[id]; ok {
		return set
	}
	set = &PatchSet{method: m}
	r.sets[id] = set
	return set
}

// Lookup returns the set for id if one exists.
func (r *Registry) Lookup(id ir.MethodID) (*PatchSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[id]
	return set, ok
}

// Methods yields the identities of methods with patches, sorted by name.
func (r *Registry) Methods() iter.Seq[ir.MethodID] {
	r.mu.RLock()
	var ids []ir.MethodID
	for id, set := range r.sets {
		if set.Len() > 0 {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(ids, func(a, b ir.MethodID) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Entry, b.Entry), cmp.Compare(a.Seq, b.Seq))
	})
	return slices.Values(ids)
}
