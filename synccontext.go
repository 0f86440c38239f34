package joinabletask

import "context"

// SyncContext is the capture of "how to get back to where you were",
// analogous to .NET's SynchronizationContext.Current: instead of an
// implicit ambient global, callers capture one explicitly from a Context
// (spec §6, Ctx.CaptureSyncContext) and Post/Send through it later from any
// goroutine.
type SyncContext struct {
	c    *Context
	task *Task
}

// captureSyncContext snapshots the calling flow's ambient task (if any) and
// owning Context, so a later Post can re-establish the same ambient
// identity and main-thread affinity the capture site had.
func captureSyncContext(ctx context.Context, c *Context) *SyncContext {
	return &SyncContext{c: c, task: ambientTask(ctx)}
}

// Post schedules f to run later, preserving the captured ambient task the
// same way SwitchToMainThreadAsync resumption does: f is queued on the
// captured task for a pump to dispatch. If no task was captured, or it has
// already completed, f goes to the host's MainThreadPoster instead; with no
// poster configured, f runs inline.
func (s *SyncContext) Post(f func()) {
	s.c.postToMainThread(s.task, f)
}

// Send runs f synchronously, blocking the caller until it completes,
// dispatched with the captured ambient task's main-thread affinity. If the
// calling goroutine already holds the grant for this Context (i.e. Send is
// called from the main thread itself), f runs inline to avoid deadlocking
// against itself, mirroring SynchronizationContext.Send's reentrant case.
func (s *SyncContext) Send(ctx context.Context, f func()) {
	if hasGrant(ctx, s.c) {
		f()
		return
	}
	done := make(chan struct{})
	s.c.postToMainThread(s.task, func() {
		defer close(done)
		f()
	})
	<-done
}
