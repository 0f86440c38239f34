package joinabletask

import "sync"

// ThreadPool is the underlying worker-pool collaborator, assumed provided by
// the host (spec §1, out of scope). Submit posts a closure to run on some
// worker goroutine; it must not block the caller.
type ThreadPool interface {
	Submit(func())
}

// MainThreadPoster is the underlying main-thread message-pump collaborator,
// assumed provided by the host. Post schedules a callback for invocation on
// the main thread by the host's own event loop. Implementations must be
// safe to call from any goroutine.
type MainThreadPoster interface {
	Post(func())
}

// NestedLoopPusher models the host's ability to push a nested dispatcher
// frame that runs (processing host messages, including those this package
// posts) until a predicate clears, per spec §4.6. Optional: a Context built
// without one simply never pushes a host-level frame of its own.
type NestedLoopPusher interface {
	// PushFrame blocks, servicing host messages, until exitWhen returns
	// true. Implementations must keep invoking exitWhen after processing
	// each message so the frame can unwind promptly once cleared.
	PushFrame(exitWhen func() bool)
}

// goroutinePerTaskPool is the default ThreadPool: every Submit spawns a
// fresh goroutine, mirroring the simplest possible "assumed provided"
// collaborator. Hosts embedding a real worker pool (bounded, reused
// goroutines) supply their own via WithThreadPool.
type goroutinePerTaskPool struct{}

func newGoroutinePerTaskPool() ThreadPool { return goroutinePerTaskPool{} }

func (goroutinePerTaskPool) Submit(f func()) { go f() }

// channelMainThreadLoop is a minimal, ready-to-use MainThreadPoster +
// NestedLoopPusher pair: a single dedicated goroutine draining a channel of
// posted closures. Intended for tests and examples that need a concrete
// "main thread" without a real UI/event-loop host.
type channelMainThreadLoop struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// NewChannelMainThreadLoop creates a channel-backed main thread; it starts no
// goroutine of its own. Call Run from the goroutine that should act as the
// main thread, and Post/PushFrame from any goroutine to interact with it.
func NewChannelMainThreadLoop() *channelMainThreadLoop {
	return &channelMainThreadLoop{
		jobs:   make(chan func(), 256),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Post implements MainThreadPoster.
func (l *channelMainThreadLoop) Post(f func()) {
	select {
	case l.jobs <- f:
	case <-l.closed:
	}
}

// PushFrame implements NestedLoopPusher: runs jobs inline, on whatever
// goroutine calls it, until exitWhen reports true. This is what lets a
// continuation posted from a worker reach the main thread even while the
// main thread is inside someone else's modal frame (spec §4.6).
func (l *channelMainThreadLoop) PushFrame(exitWhen func() bool) {
	for !exitWhen() {
		select {
		case f := <-l.jobs:
			f()
		case <-l.closed:
			return
		}
	}
}

// Run services posted jobs forever (or until Close), on the calling
// goroutine. The calling goroutine is this loop's main thread for as long as
// Run executes.
func (l *channelMainThreadLoop) Run() {
	l.PushFrame(func() bool {
		select {
		case <-l.closed:
			return true
		default:
			return false
		}
	})
}

// Close stops Run/PushFrame loops waiting on this instance.
func (l *channelMainThreadLoop) Close() {
	l.once.Do(func() { close(l.closed) })
}
