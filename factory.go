package joinabletask

import "context"

// Factory is a JoinableTaskFactory (spec §3/§4.1, C5): the entry point for
// starting JoinableTasks against one Collection and one Context.
type Factory struct {
	ctx        *Context
	collection *Collection
	opts       *factoryOptions
	hooks      *hookBus
}

// JoinableHandle wraps a started JoinableTask and its JoinableFuture (spec
// §6, Factory.RunAsync(asyncFn) → JoinableHandle).
type JoinableHandle struct {
	factory *Factory
	task    *Task
	future  *JoinableFuture
}

// Task exposes the underlying JoinableTask, chiefly so callers can pass it
// to Registry inspection or log correlation.
func (h *JoinableHandle) Task() *Task { return h.task }

// Future returns the completion value without joining (see
// JoinableFuture.Value's caveat: this never admits h's work into a
// blocker's pump by itself).
func (h *JoinableHandle) Future() *JoinableFuture { return h.future }

// Join blocks the calling goroutine until h's task completes, pumping
// admissible work exactly as Factory.Run does, rooted at h's own task
// (spec §6, JoinableHandle.Join() → Value | !).
func (h *JoinableHandle) Join(ctx context.Context) (any, error) {
	h.factory.pumpUntilDone(ctx, h.task, h.task.done)
	return h.task.result, h.task.err
}

// JoinAsync returns h's future directly; per spec §6 this is the
// non-blocking counterpart of Join, for callers that are themselves inside
// an async body and want to await completion through their own
// continuation machinery instead of blocking the calling goroutine outright.
// It adds no join edge: waiting on the returned future does not admit h's
// main-thread work into any pump.
func (h *JoinableHandle) JoinAsync() *JoinableFuture { return h.future }

// SetTransitionHooks installs the pair of transition listeners fired around
// main-thread (re)acquisition (spec §4.7, §6).
func (f *Factory) SetTransitionHooks(onTransitioning TransitionHook, onTransitioned TransitionCompleteHook) {
	f.hooks.set(onTransitioning, onTransitioned)
}

// MainThreadScheduler returns a Scheduler that runs work through
// SwitchToMainThreadAsync, usable anywhere a generic scheduler abstraction
// is wanted (spec §6).
func (f *Factory) MainThreadScheduler() Scheduler {
	return schedulerFunc(func(ctx context.Context, work func(ctx context.Context)) {
		ctx, err := f.SwitchToMainThreadAsync(ctx, nil)
		if err != nil {
			return
		}
		work(ctx)
	})
}

// ThreadPoolScheduler returns a Scheduler that runs work on the Context's
// thread pool (spec §6).
func (f *Factory) ThreadPoolScheduler() Scheduler {
	return schedulerFunc(func(ctx context.Context, work func(ctx context.Context)) {
		ctx = f.SwitchToThreadPoolAsync(ctx)
		work(ctx)
	})
}

// Scheduler abstracts "run this on some particular execution lane",
// satisfied by both MainThreadScheduler and ThreadPoolScheduler.
type Scheduler interface {
	Schedule(ctx context.Context, work func(ctx context.Context))
}

type schedulerFunc func(ctx context.Context, work func(ctx context.Context))

func (f schedulerFunc) Schedule(ctx context.Context, work func(ctx context.Context)) { f(ctx, work) }

func (f *Factory) newFreeFloatingTask() *Task {
	return f.ctx.newFreeFloatingTask(f.collection)
}

// RunAsync creates a JoinableTask, runs body up to its first suspension
// synchronously on the calling goroutine, and returns a handle once body
// has either finished or suspended (spec §4.1: "f begins executing
// synchronously up to its first suspension").
func (f *Factory) RunAsync(ctx context.Context, body func(ctx context.Context) (any, error), opts ...RunOption) *JoinableHandle {
	cfg := resolveRunOptions(opts)

	parent := ambientTask(ctx)
	t := newTask(f.ctx, f.ctx.nextTaskID(), cfg.taskName, parent, cfg.faultBarrier)
	f.ctx.registry.register(t)
	_ = f.collection.AddTask(t)
	if parent != nil && !isSuppressed(ctx) {
		parent.addChild(t)
	}

	gate := newSuspensionGate()
	bodyCtx := withAmbientTask(ctx, t)
	bodyCtx = withSuspensionGate(bodyCtx, gate)

	logDebugf(f.ctx.opts.logger, "%v: starting", t)

	started := make(chan struct{})
	go func() {
		close(started)
		runningCtx := bodyCtx
		if hasGrant(ctx, f.ctx) {
			runningCtx = withMainThreadGrant(bodyCtx, f.ctx)
		}

		var (
			result any
			err    error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					if t.faultBarrier {
						err = recoverFault(r)
						return
					}
					gate.fire()
					t.relinquish()
					panic(r)
				}
			}()
			result, err = body(runningCtx)
		}()

		sync := false
		select {
		case <-gate.ch:
		default:
			sync = true
		}
		logDebugf(f.ctx.opts.logger, "%v: completed (synchronous=%v)", t, sync)
		t.relinquish()
		gate.fire()
		t.complete(result, err, sync)
	}()
	<-started
	<-gate.ch

	return &JoinableHandle{factory: f, task: t, future: &JoinableFuture{task: t}}
}

// Run creates a JoinableTask via RunAsync and blocks the calling goroutine
// until it completes, per spec §4.1: on the main thread this enters the
// re-entrant pump; on a worker thread it waits on the task's completion
// signal.
func (f *Factory) Run(ctx context.Context, body func(ctx context.Context) (any, error), opts ...RunOption) (any, error) {
	handle := f.RunAsync(ctx, body, opts...)
	return handle.Join(ctx)
}

// CompleteSynchronously is equivalent to Run(async () => await future) but
// with k already acting as the join-set, so any main-thread work kicked off
// by future that is registered to k is admitted (spec §4.1).
func (f *Factory) CompleteSynchronously(ctx context.Context, k *Collection, future *JoinableFuture) (any, error) {
	handle := f.RunAsync(ctx, func(ctx context.Context) (any, error) {
		// Join from the new task itself, so the edges land on the task that
		// handle.Join pumps for.
		scope, err := k.Join(ctx)
		if err != nil {
			return nil, err
		}
		defer scope.Close()
		// Waiting on future is this body's suspension point: let RunAsync
		// return so the caller can start pumping.
		fireSuspension(ctx)
		return future.Value()
	})
	return handle.Join(ctx)
}

// SwitchToMainThreadAsync returns, once the calling flow is running on the
// main thread (spec §4.1). If already on the main thread and not forced to
// yield, it returns immediately without suspending. cancel, if non-nil, may
// fire before a pump ever dispatches the resumption, in which case this
// returns a *CancellationError and the caller is guaranteed never to have
// touched the main thread for this call.
func (f *Factory) SwitchToMainThreadAsync(ctx context.Context, cancel <-chan struct{}) (context.Context, error) {
	c := f.ctx
	if c.opts.mainThreadPoster == nil || hasGrant(ctx, c) {
		return ctx, nil
	}
	if cancel != nil {
		select {
		case <-cancel:
			c.metrics.recordCancellation()
			return ctx, &CancellationError{}
		default:
		}
	}

	task := ambientTask(ctx)
	if task == nil {
		task = f.newFreeFloatingTask()
	}

	fireSuspension(ctx)

	type result struct{ ctx context.Context }
	resultCh := make(chan result, 1)
	entry := &pendingEntry{transition: true}
	entry.dispatch = func() <-chan struct{} {
		f.hooks.fireTransitioning(task)
		c.metrics.recordTransitioning()
		release := make(chan struct{})
		task.setPendingRelease(release)
		resultCh <- result{ctx: withMainThreadGrant(ctx, c)}
		return release
	}

	if !task.enqueueMainThreadWork(entry) {
		// Task already completed: nothing left to coordinate with, so treat
		// this the same as having no ambient task at all and fall through to
		// the host's raw post sink, unfiltered.
		done := make(chan context.Context, 1)
		c.opts.mainThreadPoster.Post(func() {
			done <- withMainThreadGrant(ctx, c)
		})
		return <-done, nil
	}

	// Once the entry is dispatched, OnTransitionedToMainThread fires once,
	// from the pump side (runEntry in pump.go), exactly when the dispatch's
	// release channel closes — not here, since this goroutine is the one
	// being granted the thread, not the one doing the granting. A cancelled
	// entry is never dispatched, so neither hook fires for it.
	if cancel == nil {
		r := <-resultCh
		return r.ctx, nil
	}

	select {
	case r := <-resultCh:
		return r.ctx, nil
	case <-cancel:
		if entry.tryCancel() {
			c.metrics.recordCancellation()
			return ctx, &CancellationError{}
		}
		r := <-resultCh
		return r.ctx, nil
	}
}

// SwitchToThreadPoolAsync relinquishes any main-thread grant the calling
// flow holds and hands a resumption signal to the Context's ThreadPool.
// Per spec §3, pendingThreadPoolWork exists mainly for accounting: in
// practice the continuation is dispatched directly to the pool, which is
// exactly what this does — there is no filtered queue to drain, so no
// blocker can ever be starved waiting on thread-pool work.
func (f *Factory) SwitchToThreadPoolAsync(ctx context.Context) context.Context {
	fireSuspension(ctx)
	if task := ambientTask(ctx); task != nil {
		task.relinquish()
	}
	ctx = withoutMainThreadGrant(ctx)

	done := make(chan context.Context, 1)
	f.ctx.opts.threadPool.Submit(func() {
		done <- ctx
	})
	return <-done
}
