package joinabletask

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// taskState mirrors spec §3's state machine: Running, CompletedSynchronously,
// CompletedAsynchronously. Monotonic toward completion.
type taskState int

const (
	taskRunning taskState = iota
	taskCompletedSynchronously
	taskCompletedAsynchronously
)

// Task is a JoinableTask (spec §3): one logical async operation, its
// main-thread-bound continuation queue, and its place in both the creation
// graph (parent/children) and the dependency graph (tracked on Context, not
// here, since edges are a shared table per spec §9's "handle/id indirection"
// re-architecture note).
type Task struct {
	id   uint64
	name string
	c    *Context

	faultBarrier bool

	queue *continuationQueue

	mu       sync.Mutex
	state    taskState
	parent   *Task
	children []*Task
	memberships map[*Collection]struct{}

	done   chan struct{}
	result any
	err    error

	releaseMu sync.Mutex
	release   chan struct{}
}

// setPendingRelease records the handoff channel the pump is blocked on
// while t occupies the main thread. Tracked on the task rather than threaded
// through context.Context values, since the goroutine that must eventually
// relinquish it (t's own body, or the wrapper that notices it has returned)
// cannot be relied on to still be holding the exact context.Context value
// the dispatch constructed — only the task identity is stable across t's
// own internal ctx reassignments.
func (t *Task) setPendingRelease(release chan struct{}) {
	t.releaseMu.Lock()
	t.release = release
	t.releaseMu.Unlock()
}

// relinquish closes whatever release channel is currently pending for t, if
// any, letting the pump proceed to its next iteration. Safe to call when
// nothing is pending.
func (t *Task) relinquish() {
	t.releaseMu.Lock()
	ch := t.release
	t.release = nil
	t.releaseMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func newTask(c *Context, id uint64, name string, parent *Task, faultBarrier bool) *Task {
	return &Task{
		id:           id,
		name:         name,
		c:            c,
		parent:       parent,
		faultBarrier: faultBarrier,
		queue:        newContinuationQueue(),
		memberships:  make(map[*Collection]struct{}),
		done:         make(chan struct{}),
	}
}

// String satisfies fmt.Stringer, used by Registry.Snapshot() and log lines.
func (t *Task) String() string {
	if t.name != "" {
		return fmt.Sprintf("JoinableTask(%d:%s)", t.id, t.name)
	}
	return fmt.Sprintf("JoinableTask(%d)", t.id)
}

// ID returns the task's stable identity, unique among the tasks of its
// Context (each Context numbers its tasks from 1), usable as a map key
// even after the task itself has been scavenged from the Registry.
func (t *Task) ID() uint64 { return t.id }

// Name returns the JoinableTaskName attached at creation, or "".
func (t *Task) Name() string { return t.name }

func (t *Task) addChild(child *Task) {
	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()
}

// snapshotChildren returns a defensive copy, used by Context.closure under
// its own lock-free BFS (children never shrink, so a stale read only risks
// missing a very recently added child, re-observed on the pump's next
// iteration).
func (t *Task) snapshotChildren() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

func (t *Task) joinCollection(k *Collection) {
	t.mu.Lock()
	t.memberships[k] = struct{}{}
	t.mu.Unlock()
}

// enqueueMainThreadWork pushes a continuation onto this task's queue and
// wakes any pump that might be waiting on it. Returns false if the task has
// already completed (invariant 1(b): the continuation is discarded).
func (t *Task) enqueueMainThreadWork(entry *pendingEntry) bool {
	if !t.queue.push(entry) {
		return false
	}
	t.c.wake()
	return true
}

// complete transitions the task to a terminal state exactly once. sync
// reports whether completion happened before the async body's first
// suspension (CompletedSynchronously) or after (CompletedAsynchronously).
func (t *Task) complete(result any, err error, sync bool) {
	t.mu.Lock()
	if t.state != taskRunning {
		t.mu.Unlock()
		return
	}
	if sync {
		t.state = taskCompletedSynchronously
	} else {
		t.state = taskCompletedAsynchronously
	}
	t.result, t.err = result, err
	memberships := make([]*Collection, 0, len(t.memberships))
	for k := range t.memberships {
		memberships = append(memberships, k)
	}
	t.mu.Unlock()

	t.queue.close()
	close(t.done)
	t.c.forgetTask(t)
	for _, k := range memberships {
		k.removeTask(t)
	}
}

// recoverFault converts a recovered panic into a TaskFaultError, grounded on
// the teacher's PanicError / Loop.Promisify recover-and-reject behavior.
// Only called when the task was created WithFaultBarrier(); otherwise the
// panic is left to propagate up the goroutine that is running the body,
// exactly like an unguarded goroutine would.
func recoverFault(r any) error {
	return &TaskFaultError{Value: r, Stack: string(debug.Stack())}
}
