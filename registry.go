package joinabletask

import (
	"sync"
	"weak"

	"golang.org/x/exp/slices"
)

// registryScavengeBatch bounds how many dead slots Registry.Snapshot reclaims
// per call, mirroring the teacher's ring-buffer scavenging strategy in
// registry.go: a little work on every read amortizes cleanup instead of a
// dedicated background goroutine.
const registryScavengeBatch = 64

// Registry is a weak-pointer-indexed table of live JoinableTasks (SPEC_FULL
// §2 C9), used purely for diagnostics and scavenging; it plays no part in
// the join-admission algorithm. A forgotten JoinableHandle does not pin its
// Task in memory just because it is registered here.
type Registry struct {
	mu      sync.Mutex
	entries []weak.Pointer[Task]
	scan    int // ring cursor for incremental scavenging
}

func newRegistry() *Registry {
	return &Registry{}
}

// register adds t, tracked only by a weak pointer.
func (r *Registry) register(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, weak.Make(t))
	r.scavengeLocked()
}

// Snapshot returns every currently-live task, in registration order, and
// opportunistically reclaims a bounded batch of dead slots.
func (r *Registry) Snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scavengeLocked()
	out := make([]*Task, 0, len(r.entries))
	for _, e := range r.entries {
		if t := e.Value(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Len reports the number of entries currently tracked, live or not yet
// scavenged; intended for tests asserting scavenging actually runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// scavengeLocked walks a bounded window starting at r.scan, compacting out
// entries whose weak pointer has gone dead. Must be called with r.mu held.
func (r *Registry) scavengeLocked() {
	if len(r.entries) == 0 {
		return
	}
	n := len(r.entries)
	end := registryScavengeBatch
	if end > n {
		end = n
	}
	dead := make([]int, 0, end)
	for i := 0; i < end; i++ {
		idx := (r.scan + i) % n
		if r.entries[idx].Value() == nil {
			dead = append(dead, idx)
		}
	}
	r.scan = (r.scan + end) % n
	if len(dead) == 0 {
		return
	}
	slices.Sort(dead)
	for i := len(dead) - 1; i >= 0; i-- {
		idx := dead[i]
		r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	}
	r.scan = 0
}
