package joinabletask

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
)

// Context is the JoinableTaskContext (spec §3, C4): the process-/instance-
// wide anchor that owns the join graph's shared edge table, the task
// registry, and (optionally) metrics. Per spec §9, cyclic graphs are never
// represented with owning pointers between tasks; instead every edge is an
// (id, id)-equivalent entry in this one shared table, protected by a single
// mutex, exactly as the design notes prescribe.
type Context struct {
	opts *contextOptions

	mu        sync.Mutex
	nextID    uint64
	joinEdges map[*Task]map[*Task]int // joiner -> joinee -> open-edge count

	registry *Registry
	metrics  *Metrics

	wakeMu sync.Mutex
	wakeCh chan struct{}
}

// NewContext designates the calling goroutine's flow as the main thread (per
// spec §3, "mainThread: the designated thread identity") and returns both
// the new Context and a derived context.Context carrying that designation.
// Callers that have no real main thread (a pure worker-pool host) may still
// call NewContext; simply never pass the returned mainCtx to anything, or
// construct the Context with no WithMainThreadPoster, in which case every
// main-thread check degrades to the no-op behavior required by spec §4.1.
func NewContext(parent context.Context, opts ...ContextOption) (*Context, context.Context, error) {
	cfg, err := resolveContextOptions(opts)
	if err != nil {
		return nil, nil, err
	}
	c := &Context{
		opts:      cfg,
		joinEdges: make(map[*Task]map[*Task]int),
		registry:  newRegistry(),
		wakeCh:    make(chan struct{}),
	}
	if cfg.metricsEnabled {
		c.metrics = newMetrics()
	}
	mainCtx := withMainThreadGrant(parent, c)
	return c, mainCtx, nil
}

// CreateCollection creates a JoinableTaskCollection (spec §6,
// Ctx.createCollection).
func (c *Context) CreateCollection() *Collection {
	return &Collection{
		c:          c,
		members:    make(map[*Task]struct{}),
		openJoins:  make(map[*Task]int),
		openScopes: make(map[*JoinScope]struct{}),
	}
}

// CreateFactory creates a JoinableTaskFactory bound to collection k (spec
// §6, Ctx.createFactory). If k is nil, a new collection is created for the
// factory. Every task the factory creates is added to its collection
// automatically.
func (c *Context) CreateFactory(k *Collection, opts ...FactoryOption) (*Factory, error) {
	cfg, err := resolveFactoryOptions(opts)
	if err != nil {
		return nil, err
	}
	if k == nil {
		k = c.CreateCollection()
	}
	return &Factory{ctx: c, collection: k, opts: cfg, hooks: newHookBus()}, nil
}

// SuppressRelevance opens the ambient-identity suppression scope from spec
// §4.4: tasks created from the returned context.Context do not attach as
// children of whatever task was ambient in parent.
func (c *Context) SuppressRelevance(parent context.Context) context.Context {
	return withSuppressRelevance(parent)
}

// CaptureSyncContext snapshots the calling flow's ambient task, if any,
// into a SyncContext (spec §4.5/§6, Ctx.CaptureSyncContext): the analogue of
// capturing SynchronizationContext.Current. The result's Post/Send later
// route through the same task identity and main-thread affinity the capture
// site had, even from a goroutine with no ambient task of its own (spec §8
// property 8, "sync context captured inside Run can later Post a callback
// that eventually runs on the main thread").
func (c *Context) CaptureSyncContext(ctx context.Context) *SyncContext {
	return captureSyncContext(ctx, c)
}

// Registry exposes the weak-pointer-indexed table of live JoinableTasks for
// diagnostics (SPEC_FULL.md §6).
func (c *Context) Registry() *Registry { return c.registry }

// Metrics returns the optional metrics collector, or nil if the Context was
// built without WithMetrics(true).
func (c *Context) Metrics() *Metrics { return c.metrics }

// IsMainThread reports whether ctx currently carries this Context's
// main-thread grant, or whether this Context has no main thread configured
// at all (spec §8 property 7: "no-op on hosts without a main thread").
func (c *Context) IsMainThread(ctx context.Context) bool {
	return c.opts.mainThreadPoster == nil || hasGrant(ctx, c)
}

// newFreeFloatingTask mints a task with no parent and no owning Factory,
// used when an operation needs a stable join-graph identity for a calling
// flow that has no ambient task (spec §4.1/§4.3: "create a transient
// free-floating JoinableTask"). If k is non-nil the task is added as a
// member so future joins of k can still reach continuations queued against
// it.
func (c *Context) newFreeFloatingTask(k *Collection) *Task {
	t := newTask(c, c.nextTaskID(), "", nil, false)
	c.registry.register(t)
	if k != nil {
		_ = k.AddTask(t)
	}
	return t
}

func (c *Context) nextTaskID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// addJoinEdges records one open join from joiner to each of members,
// edge-counted so nested/concurrent joins of the same pair compose (spec
// §3, joinedBy is a multiset; §8 property 10, self-join idempotence).
func (c *Context) addJoinEdges(joiner *Task, members []*Task) {
	if joiner == nil || len(members) == 0 {
		return
	}
	c.mu.Lock()
	row, ok := c.joinEdges[joiner]
	if !ok {
		row = make(map[*Task]int)
		c.joinEdges[joiner] = row
	}
	for _, m := range members {
		if m == joiner {
			continue
		}
		row[m]++
	}
	c.mu.Unlock()
	c.wake()
}

// removeJoinEdges undoes addJoinEdges for the same (joiner, members) set,
// decrementing edge counts and pruning rows that reach zero.
func (c *Context) removeJoinEdges(joiner *Task, members []*Task) {
	if joiner == nil || len(members) == 0 {
		return
	}
	c.mu.Lock()
	row, ok := c.joinEdges[joiner]
	if ok {
		for _, m := range members {
			if m == joiner {
				continue
			}
			if row[m] <= 1 {
				delete(row, m)
			} else {
				row[m]--
			}
		}
		if len(row) == 0 {
			delete(c.joinEdges, joiner)
		}
	}
	c.mu.Unlock()
	c.wake()
}

// forgetTask drops every edge mentioning t, called once t completes.
func (c *Context) forgetTask(t *Task) {
	c.mu.Lock()
	delete(c.joinEdges, t)
	for _, row := range c.joinEdges {
		delete(row, t)
	}
	c.mu.Unlock()
	c.wake()
}

// closure computes the effective dependency set of root (spec §3 invariant
// 3): the transitive closure of joinedBy ∪ childTasks, deduplicated by task
// identity (invariant 4, cycle safety), recomputed fresh on every call since
// spec requires it be "recomputed lazily on cycle/membership changes" — a
// plain BFS snapshot under the lock is cheap enough that caching it would
// only add invalidation bugs for no measured benefit.
func (c *Context) closure(root *Task) []*Task {
	c.mu.Lock()
	edges := make(map[*Task][]*Task, len(c.joinEdges))
	for joiner, row := range c.joinEdges {
		edges[joiner] = maps.Keys(row)
	}
	c.mu.Unlock()

	seen := map[*Task]struct{}{root: {}}
	order := []*Task{root}
	queue := []*Task{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := append(append([]*Task(nil), edges[cur]...), cur.snapshotChildren()...)
		for _, n := range next {
			if n == nil {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return order
}

// wake broadcasts to every goroutine parked in mainThreadPump, and — when a
// real host main thread is configured — posts a no-op wake-up to it too, so
// that an idle host loop notices new work exists (spec §4.1: "post a
// wake-up to underlyingMainPost so that an idle main thread notices").
func (c *Context) wake() {
	c.wakeMu.Lock()
	ch := c.wakeCh
	c.wakeCh = make(chan struct{})
	c.wakeMu.Unlock()
	close(ch)
	if c.opts.mainThreadPoster != nil {
		c.opts.mainThreadPoster.Post(func() {})
	}
}

func (c *Context) waitWake() <-chan struct{} {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	return c.wakeCh
}

// postToMainThread implements the SynchronizationContext adapter's Post
// path for a captured SyncContext (spec §4.5): route through task's
// filtered queue when a task was captured, otherwise hand the host's raw
// post sink an unfiltered callback (or run inline with no main thread
// configured at all, per §8 property 7).
func (c *Context) postToMainThread(task *Task, f func()) {
	if task == nil {
		c.postUnfiltered(f)
		return
	}
	entry := &pendingEntry{dispatch: func() <-chan struct{} {
		f()
		release := make(chan struct{})
		close(release)
		return release
	}}
	if !task.enqueueMainThreadWork(entry) {
		c.postUnfiltered(f)
	}
}

func (c *Context) postUnfiltered(f func()) {
	if c.opts.mainThreadPoster != nil {
		c.opts.mainThreadPoster.Post(f)
		return
	}
	f()
}
