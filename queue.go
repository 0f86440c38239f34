package joinabletask

import (
	"sync"
	"time"
)

// pendingEntry is one slot in a continuationQueue. Dispatch is performed at
// most once: either the pump wins the race and runs dispatch(), or a
// cancellation wins and the entry is discarded as a no-op. This is what lets
// spec §5's cancellation rule hold ("a cancelled request completes ... never
// the main thread") without the pump ever blocking on a continuation whose
// waiter already gave up.
type pendingEntry struct {
	mu       sync.Mutex
	settled  bool
	dispatch func() <-chan struct{}
	// transition reports whether executing this entry represents the owning
	// task moving onto the main thread from elsewhere (spec §4.7): plain
	// Post/Send callbacks that are already inline don't fire transition
	// hooks, only SwitchToMainThreadAsync resumptions do.
	transition bool

	// enqueuedAt is stamped by continuationQueue.push, used only for the
	// optional Metrics dispatch-latency estimate.
	enqueuedAt time.Time
}

// tryDispatch runs dispatch exactly once. The returned channel closes once
// whatever was handed control relinquishes it (spec §4.7, "after dispatch
// returns"). ok is false if the entry was already cancelled.
func (p *pendingEntry) tryDispatch() (release <-chan struct{}, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return nil, false
	}
	p.settled = true
	return p.dispatch(), true
}

// tryCancel marks the entry settled without ever calling dispatch. Returns
// false if the pump already won the dispatch race.
func (p *pendingEntry) tryCancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	return true
}

// continuationQueue is the Single-Execution Queue (spec §2 C1): a FIFO of
// pending continuations, drainable under a gate, with a "try pop one"
// operation and asynchronous signaling for waiters. Grounded on the
// teacher's ChunkedIngress/MicrotaskRing pair in ingress.go, simplified from
// their lock-free/chunked design (tuned for a single hot event loop polled
// by one dedicated goroutine) to a plain mutex-guarded slice: this queue is
// popped by whichever pump currently admits its owner, not by one fixed
// goroutine, so chunked lock-free ingress has no analogous hot path here.
type continuationQueue struct {
	mu     sync.Mutex
	items  []*pendingEntry
	closed bool

	// signal is recreated every time a waiter needs to park; closing it
	// wakes every current waiter, mirroring the teacher's wake-pipe/fast
	// channel dual path but collapsed to one mechanism since this queue
	// isn't on the latency-critical polling path.
	signal chan struct{}
}

func newContinuationQueue() *continuationQueue {
	return &continuationQueue{signal: make(chan struct{})}
}

// push enqueues an entry. Returns false (and drops it) if the queue has been
// closed, per invariant 1: a closed task discards further enqueues.
func (q *continuationQueue) push(entry *pendingEntry) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	entry.enqueuedAt = time.Now()
	q.items = append(q.items, entry)
	signal := q.signal
	q.signal = make(chan struct{})
	q.mu.Unlock()
	close(signal)
	return true
}

// tryPop removes and returns the oldest entry, or (nil, false) if empty.
func (q *continuationQueue) tryPop() (*pendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

// empty reports whether the queue currently has no pending entries.
func (q *continuationQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// wait returns a channel that closes the next time push is called (or the
// queue is closed), letting a pumper park without busy-waiting.
func (q *continuationQueue) wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signal
}

// close marks the queue closed, discarding any remaining entries (invariant
// 1, path (b)) and waking all waiters. Discarded entries are cancelled
// rather than silently dropped, so any goroutine parked on one observes a
// cancellation instead of hanging forever.
func (q *continuationQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	signal := q.signal
	q.signal = make(chan struct{})
	q.mu.Unlock()
	for _, e := range items {
		e.tryCancel()
	}
	close(signal)
}
