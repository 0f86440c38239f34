package joinabletask

import "context"

// pumpUntilDone implements the blocking half of Run/Join (spec §4.1/§4.2):
// if the calling flow currently holds the main-thread grant (or this
// Context has no main thread at all, in which case the two paths
// collapse), run the re-entrant pump rooted at blocker; otherwise park on a
// worker-thread wait, since only a grant holder may execute main-thread
// continuations.
func (f *Factory) pumpUntilDone(ctx context.Context, blocker *Task, done <-chan struct{}) {
	c := f.ctx
	if c.opts.mainThreadPoster == nil || hasGrant(ctx, c) {
		f.mainThreadPump(blocker, done)
		return
	}
	<-done
}

// mainThreadPump is the re-entrant pump described in spec §4.2: it checks
// blocker's own queue first (starvation-freedom for blocker itself), then
// scans the rest of the effective dependency closure D(blocker), and only
// parks (or yields to a pushed host loop frame) when nothing is admissible.
func (f *Factory) mainThreadPump(blocker *Task, done <-chan struct{}) {
	c := f.ctx
	for {
		select {
		case <-done:
			return
		default:
		}

		// Capture the wake channel before inspecting any queue, not after:
		// any push that happens between the capture and the final select
		// below will have already closed this exact channel, so the select
		// cannot miss it. Fetching a fresh channel only after finding
		// nothing to do would lose wakeups that land in that gap.
		wake := c.waitWake()

		if entry, ok := blocker.queue.tryPop(); ok {
			f.runEntry(blocker, entry)
			continue
		}

		dispatched := false
		for _, t := range c.closure(blocker) {
			if t == blocker {
				continue
			}
			if entry, ok := t.queue.tryPop(); ok {
				f.runEntry(t, entry)
				dispatched = true
				break
			}
		}
		if dispatched {
			continue
		}

		if c.opts.nestedLoopPusher != nil {
			c.opts.nestedLoopPusher.PushFrame(func() bool {
				return pumpExitReady(c, blocker, done)
			})
			continue
		}

		select {
		case <-done:
			return
		case <-wake:
		}
	}
}

// pumpExitReady reports whether mainThreadPump has something to do: either
// blocker has completed, or some task in its effective dependency closure
// has queued work.
func pumpExitReady(c *Context, blocker *Task, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
	}
	if !blocker.queue.empty() {
		return true
	}
	for _, t := range c.closure(blocker) {
		if !t.queue.empty() {
			return true
		}
	}
	return false
}

// runEntry dispatches one admitted continuation and blocks the pump until
// its owning flow relinquishes the main thread (spec §4.2 step 3: "Execute
// c synchronously on the main thread"). A cancelled entry (tryDispatch
// returns ok=false) never touches the main thread at all, per spec §5.
func (f *Factory) runEntry(owner *Task, entry *pendingEntry) {
	c := f.ctx
	release, ok := entry.tryDispatch()
	if !ok {
		return
	}
	c.metrics.recordDispatch(entry.enqueuedAt)
	<-release
	if entry.transition {
		f.hooks.fireTransitioned(owner, false)
		c.metrics.recordTransitioned()
	}
}
