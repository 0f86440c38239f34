package joinabletask

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
)

// Collection is a JoinableTaskCollection (spec §3, C3): a named set of
// JoinableTasks over which callers establish joins. Membership is explicit;
// a task may belong to multiple collections.
type Collection struct {
	c *Context

	mu         sync.Mutex
	members    map[*Task]struct{}
	openJoins  map[*Task]int           // joiner -> number of concurrently open scopes
	openScopes map[*JoinScope]struct{} // live scopes, for AddTask propagation
	disposed   bool
}

// JoinScope is the disposable scope returned by Collection.Join (spec §6,
// K.Join() → Scope). Close removes exactly the edges this scope introduced,
// including any added after the scope opened by a task joining the
// collection late (spec §4.3: "Adding a new task to K while a scope is open
// must propagate"). Tracking the scope's own live member set (rather than a
// fixed snapshot taken at open time) is what lets Close revert those
// late-added edges too.
type JoinScope struct {
	k      *Collection
	joiner *Task

	mu      sync.Mutex
	members map[*Task]struct{}

	once sync.Once
}

// addMember records that s now holds an edge to t and creates it, unless s
// already did (idempotent against duplicate propagation).
func (s *JoinScope) addMember(t *Task) {
	s.mu.Lock()
	if _, ok := s.members[t]; ok {
		s.mu.Unlock()
		return
	}
	s.members[t] = struct{}{}
	s.mu.Unlock()
	s.k.c.addJoinEdges(s.joiner, []*Task{t})
}

// AddTask adds t to the collection. If any scope currently holds an open
// Join on this collection, an edge (joiner, t) is created immediately for
// that scope, and the scope remembers it so Close reverts it too (spec
// §4.3: "Adding a new task to K while a scope is open must propagate").
func (k *Collection) AddTask(t *Task) error {
	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return ErrCollectionDisposed
	}
	k.members[t] = struct{}{}
	scopes := make([]*JoinScope, 0, len(k.openScopes))
	for s := range k.openScopes {
		scopes = append(scopes, s)
	}
	k.mu.Unlock()

	t.joinCollection(k)
	for _, s := range scopes {
		s.addMember(t)
	}
	return nil
}

// removeTask is called by Task.complete, dropping membership bookkeeping.
// The collection itself is not disposed; per spec §3 lifecycle notes, a
// task is "removed from collections after its last dependent releases" —
// simplified here to "immediately on completion", since a completed task's
// (now permanently closed) queue can never again supply admissible work
// regardless of which collections still list it; see DESIGN.md.
func (k *Collection) removeTask(t *Task) {
	k.mu.Lock()
	delete(k.members, t)
	k.mu.Unlock()
}

// Join opens a join scope: for every current member, an edge (ambient task,
// member) is inserted into the Context's join graph (spec §4.3). If the
// calling flow has no ambient task (Join invoked outside any Run/RunAsync
// body), a transient free-floating task is minted so the scope still has a
// stable identity to key edges off of.
func (k *Collection) Join(ctx context.Context) (*JoinScope, error) {
	joiner := ambientTask(ctx)
	if joiner == nil {
		joiner = k.c.newFreeFloatingTask(k)
	}

	k.mu.Lock()
	if k.disposed {
		k.mu.Unlock()
		return nil, ErrCollectionDisposed
	}
	memberSet := make(map[*Task]struct{}, len(k.members))
	for m := range k.members {
		memberSet[m] = struct{}{}
	}
	k.openJoins[joiner]++
	scope := &JoinScope{k: k, joiner: joiner, members: memberSet}
	k.openScopes[scope] = struct{}{}
	members := maps.Keys(memberSet)
	k.mu.Unlock()

	k.c.addJoinEdges(joiner, members)
	return scope, nil
}

// Close removes exactly the edges this scope introduced — its original
// snapshot plus anything AddTask propagated into it afterward — per spec
// §4.3: "On close: edges are removed", and §8 property 4 (closing must not
// leave a late-added member's edge dangling). Idempotent; safe to call more
// than once.
func (s *JoinScope) Close() {
	s.once.Do(func() {
		s.k.mu.Lock()
		if s.k.openJoins[s.joiner] <= 1 {
			delete(s.k.openJoins, s.joiner)
		} else {
			s.k.openJoins[s.joiner]--
		}
		delete(s.k.openScopes, s)
		s.k.mu.Unlock()

		s.mu.Lock()
		members := maps.Keys(s.members)
		s.mu.Unlock()

		s.k.c.removeJoinEdges(s.joiner, members)
	})
}

// Dispose marks the collection disposed; further Join/AddTask calls fail
// with ErrCollectionDisposed. Existing join edges already established are
// left intact until their scopes close, matching spec §3's statement that
// collections, not edges, are what an explicit Dispose governs.
func (k *Collection) Dispose() {
	k.mu.Lock()
	k.disposed = true
	k.mu.Unlock()
}
