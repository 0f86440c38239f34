package joinabletask

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T, opts ...ContextOption) (*Context, context.Context, *Factory) {
	t.Helper()
	c, mainCtx, err := NewContext(context.Background(), opts...)
	require.NoError(t, err)
	f, err := c.CreateFactory(c.CreateCollection())
	require.NoError(t, err)
	return c, mainCtx, f
}

// TestFactory_S1_MainThreadRoundTrip is spec §8 scenario S1: on the main
// thread, a body that asserts thread==M, hops to the pool, asserts
// thread!=M, hops back, and asserts thread==M again must complete.
func TestFactory_S1_MainThreadRoundTrip(t *testing.T) {
	c, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	var sawOffMainThread bool
	result, err := f.Run(mainCtx, func(ctx context.Context) (any, error) {
		require.True(t, c.IsMainThread(ctx))

		ctx = f.SwitchToThreadPoolAsync(ctx)
		sawOffMainThread = !c.IsMainThread(ctx)

		ctx, err := f.SwitchToMainThreadAsync(ctx, nil)
		if err != nil {
			return nil, err
		}
		require.True(t, c.IsMainThread(ctx))
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.True(t, sawOffMainThread)
}

// TestFactory_Property2_ImmediateReady is spec §8 property 2:
// SwitchToMainThreadAsync is immediately-ready on the main thread.
func TestFactory_Property2_ImmediateReady(t *testing.T) {
	_, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))
	ctx, err := f.SwitchToMainThreadAsync(mainCtx, nil)
	require.NoError(t, err)
	require.Equal(t, mainCtx, ctx)
}

// TestFactory_Property7_NoMainThreadHostIsNoOp is spec §8 property 7: every
// entry point works, and main-thread switch is a no-op, when no main-thread
// sync context is installed.
func TestFactory_Property7_NoMainThreadHostIsNoOp(t *testing.T) {
	_, _, f := newTestFactory(t) // no WithMainThreadPoster

	result, err := f.Run(context.Background(), func(ctx context.Context) (any, error) {
		ctx, err := f.SwitchToMainThreadAsync(ctx, nil)
		if err != nil {
			return nil, err
		}
		_ = f.SwitchToThreadPoolAsync(ctx)
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

// TestFactory_S4_HandleJoinPumpsYields is spec §8 scenario S4:
// RunAsync(async { await Yield; await Yield; }) followed by handle.Join() on
// the main thread resumes both yields during the Join and completes.
func TestFactory_S4_HandleJoinPumpsYields(t *testing.T) {
	_, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	resumes := 0
	handle := f.RunAsync(mainCtx, func(ctx context.Context) (any, error) {
		var err error
		ctx, err = f.SwitchToThreadPoolAsync(ctx), error(nil)
		_ = err
		ctx, err = f.SwitchToMainThreadAsync(ctx, nil)
		if err != nil {
			return nil, err
		}
		resumes++

		ctx = f.SwitchToThreadPoolAsync(ctx)
		ctx, err = f.SwitchToMainThreadAsync(ctx, nil)
		if err != nil {
			return nil, err
		}
		resumes++

		return "done", nil
	})

	value, err := handle.Join(mainCtx)
	require.NoError(t, err)
	require.Equal(t, "done", value)
	require.Equal(t, 2, resumes)
}

// TestFactory_S5_TransitionCounters is spec §8 scenario S5: transitioning
// and transitioned counts both reach 2 for a body that switches to the main
// thread three times but is already there for the first call.
func TestFactory_S5_TransitionCounters(t *testing.T) {
	_, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	var transitioning, transitioned atomic.Int32
	f.SetTransitionHooks(
		func(task *Task) { transitioning.Add(1) },
		func(task *Task, cancelled bool) { transitioned.Add(1) },
	)

	_, err := f.Run(mainCtx, func(ctx context.Context) (any, error) {
		ctx, err := f.SwitchToMainThreadAsync(ctx, nil) // already on M: counts zero
		if err != nil {
			return nil, err
		}
		ctx = f.SwitchToThreadPoolAsync(ctx)
		ctx, err = f.SwitchToMainThreadAsync(ctx, nil) // +1
		if err != nil {
			return nil, err
		}
		ctx = f.SwitchToThreadPoolAsync(ctx)
		ctx, err = f.SwitchToMainThreadAsync(ctx, nil) // +1
		if err != nil {
			return nil, err
		}
		_ = ctx
		return nil, nil
	})

	require.NoError(t, err)
	require.EqualValues(t, 2, transitioning.Load())
	require.EqualValues(t, 2, transitioned.Load())
}

// TestFactory_Property9_SuppressRelevance is spec §8 property 9: a task
// created inside SuppressRelevance requires an explicit Join to make its
// main-thread work admissible to an outer synchronous blocker.
func TestFactory_Property9_SuppressRelevance(t *testing.T) {
	c, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	ran := make(chan struct{})
	var inner *JoinableHandle
	outer := f.RunAsync(mainCtx, func(ctx context.Context) (any, error) {
		suppressed := c.SuppressRelevance(ctx)
		inner = f.RunAsync(suppressed, func(ctx context.Context) (any, error) {
			// suppressed still carries the main-thread grant; leave it so
			// the switch back has to be dispatched by a pump.
			ctx = f.SwitchToThreadPoolAsync(ctx)
			ctx, err := f.SwitchToMainThreadAsync(ctx, nil)
			if err != nil {
				return nil, err
			}
			close(ran)
			_ = ctx
			return nil, nil
		})
		// Suspend so outer.Join below is pumping while inner's main-thread
		// work is queued.
		_ = f.SwitchToThreadPoolAsync(ctx)
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	_, err := outer.Join(mainCtx)
	require.NoError(t, err)

	select {
	case <-ran:
		t.Fatal("suppressed child's main-thread work must not be admitted without an explicit join")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = inner.Join(mainCtx)
	require.NoError(t, err)
	select {
	case <-ran:
	default:
		t.Fatal("joining the suppressed child directly must admit its work")
	}
}

// TestFactory_WorkerThreadWaitsForCompletion exercises the worker-thread
// path of Run: Run on a goroutine with no main-thread grant simply blocks
// on completion (spec §4.1, "wait on a condition variable that signals when
// F completes").
func TestFactory_WorkerThreadWaitsForCompletion(t *testing.T) {
	_, _, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	result, err := f.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "worker-done", nil
	})
	require.NoError(t, err)
	require.Equal(t, "worker-done", result)
}

// TestFactory_FaultBarrier_RecoversPanic covers the JoinableTaskFaultBarrier
// supplement: a panicking body created WithFaultBarrier() rejects with a
// TaskFaultError instead of crashing the goroutine pumping it.
func TestFactory_FaultBarrier_RecoversPanic(t *testing.T) {
	_, mainCtx, f := newTestFactory(t)

	_, err := f.Run(mainCtx, func(ctx context.Context) (any, error) {
		panic("boom")
	}, WithFaultBarrier())

	require.Error(t, err)
	var faultErr *TaskFaultError
	require.ErrorAs(t, err, &faultErr)
	require.Equal(t, "boom", faultErr.Value)
}

// TestFactory_SwitchToMainThreadAsync_Cancellation covers spec §5: a
// cancelled SwitchToMainThreadAsync surfaces a CancellationError and never
// touches the main thread (here: the host poster never gets dispatched).
func TestFactory_SwitchToMainThreadAsync_Cancellation(t *testing.T) {
	_, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	cancel := make(chan struct{})
	close(cancel)

	handle := f.RunAsync(mainCtx, func(ctx context.Context) (any, error) {
		ctx = f.SwitchToThreadPoolAsync(ctx)
		_, err := f.SwitchToMainThreadAsync(ctx, cancel)
		return nil, err
	})

	_, err := handle.Join(mainCtx)
	require.Error(t, err)
	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
}
