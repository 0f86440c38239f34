package joinabletask

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPendingEntry_DispatchWinsRace(t *testing.T) {
	entry := &pendingEntry{dispatch: func() <-chan struct{} {
		ch := make(chan struct{})
		close(ch)
		return ch
	}}

	release, ok := entry.tryDispatch()
	require.True(t, ok)
	select {
	case <-release:
	default:
		t.Fatal("expected release channel to already be closed")
	}

	require.False(t, entry.tryCancel(), "cancel must lose once dispatch already settled the entry")
}

func TestPendingEntry_CancelWinsRace(t *testing.T) {
	called := false
	entry := &pendingEntry{dispatch: func() <-chan struct{} {
		called = true
		ch := make(chan struct{})
		close(ch)
		return ch
	}}

	require.True(t, entry.tryCancel())
	_, ok := entry.tryDispatch()
	require.False(t, ok, "dispatch must lose once cancel already settled the entry")
	require.False(t, called, "dispatch body must never run once cancelled")
}

func TestContinuationQueue_FIFO(t *testing.T) {
	q := newContinuationQueue()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, q.push(&pendingEntry{dispatch: func() <-chan struct{} {
			order = append(order, i)
			ch := make(chan struct{})
			close(ch)
			return ch
		}}))
	}

	for i := 0; i < 3; i++ {
		entry, ok := q.tryPop()
		require.True(t, ok)
		_, ok = entry.tryDispatch()
		require.True(t, ok)
	}
	require.Equal(t, []int{0, 1, 2}, order)

	_, ok := q.tryPop()
	require.False(t, ok)
}

func TestContinuationQueue_CloseCancelsPending(t *testing.T) {
	q := newContinuationQueue()
	entry := &pendingEntry{dispatch: func() <-chan struct{} {
		t.Fatal("dispatch must not run on a discarded entry")
		return nil
	}}
	require.True(t, q.push(entry))

	q.close()
	require.False(t, q.push(&pendingEntry{dispatch: func() <-chan struct{} { return nil }}),
		"push after close must be rejected")

	_, ok := entry.tryDispatch()
	require.False(t, ok, "close must cancel entries still queued")
}

func TestContinuationQueue_WaitWakesOnPush(t *testing.T) {
	q := newContinuationQueue()
	wake := q.wait()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.push(&pendingEntry{dispatch: func() <-chan struct{} {
			ch := make(chan struct{})
			close(ch)
			return ch
		}})
	}()

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("wait channel did not close after push")
	}
	<-done
}
