package joinabletask

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAbortController_AbortClosesSignalOnce(t *testing.T) {
	ac := NewAbortController()
	sig := ac.Signal()
	require.False(t, sig.Aborted())

	cause := errors.New("boom")
	ac.Abort(cause)
	require.True(t, sig.Aborted())
	require.Equal(t, cause, sig.Reason())

	// A second Abort must not panic (closing an already-closed channel) and
	// must not overwrite the recorded reason.
	ac.Abort(errors.New("ignored"))
	require.Equal(t, cause, sig.Reason())
}

func TestAbortController_AbortWithNilReasonDefaultsToCancellationError(t *testing.T) {
	ac := NewAbortController()
	ac.Abort(nil)

	var cancelErr *CancellationError
	require.ErrorAs(t, ac.Signal().Reason(), &cancelErr)
}

func TestAbortSignal_AsContext_CancelledOnAbort(t *testing.T) {
	ac := NewAbortController()
	ctx, cancel := ac.Signal().AsContext(context.Background())
	defer cancel()

	ac.Abort(nil)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context was not cancelled after the signal fired")
	}
}

// TestAbortSignal_ComposesWithSwitchToMainThreadAsync covers the intended
// usage from SPEC_FULL §2 C16: an AbortSignal's Done() channel plugs
// directly into SwitchToMainThreadAsync's cancel parameter.
func TestAbortSignal_ComposesWithSwitchToMainThreadAsync(t *testing.T) {
	_, mainCtx, f := newTestFactory(t, WithMainThreadPoster(NewChannelMainThreadLoop()))

	ac := NewAbortController()
	ac.Abort(nil)

	handle := f.RunAsync(mainCtx, func(ctx context.Context) (any, error) {
		ctx = f.SwitchToThreadPoolAsync(ctx)
		_, err := f.SwitchToMainThreadAsync(ctx, ac.Signal().Done())
		return nil, err
	})

	_, err := handle.Join(mainCtx)
	require.Error(t, err)
	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
}
