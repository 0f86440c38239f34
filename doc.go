// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package joinabletask implements a cooperative concurrency coordinator that
// reconciles two execution disciplines in a single process: an
// affinity-bound executor for a distinguished "main thread" (an event-loop,
// UI, or dispatcher goroutine that cannot be displaced) and a multithreaded
// worker pool on which arbitrary asynchronous work runs.
//
// # Architecture
//
// A [Context] is the process-wide anchor: it identifies the main thread (via
// a capability token threaded through [context.Context], never a raw
// goroutine ID) and owns the ambient-task and relevance-suppression
// flow-local slots. A [Factory] is bound to a [Context] and a default
// [Collection]; its [Factory.Run] and [Factory.RunAsync] entry points create
// [Task] values, which track a FIFO of main-thread-bound continuations and
// the join graph used to decide which foreign work a blocked caller may
// admit.
//
// The core algorithm is the re-entrant pump run by [Factory.Run] when called
// on the main thread: it drains the calling task's own queue first, then the
// queues of every task reachable via the join graph, while leaving
// continuations of unrelated tasks untouched. See [Collection.Join] for how
// callers extend that admission set.
//
// # Thread Safety
//
// The join graph is guarded by a single mutex per [Context]; each task's
// queue and each collection's member set have their own locks. The
// ambient-task and main-thread-grant slots
// are carried explicitly through [context.Context] values rather than
// goroutine-local state, matching how flow-local data is conventionally
// propagated in Go.
//
// # Usage
//
//	jctx, mainCtx, err := joinabletask.NewContext(context.Background(),
//		joinabletask.WithMainThreadPoster(poster))
//	if err != nil {
//		return err
//	}
//	factory, err := jctx.CreateFactory(jctx.CreateCollection())
//	if err != nil {
//		return err
//	}
//
//	result, err := factory.Run(mainCtx, func(ctx context.Context) (any, error) {
//		ctx, err := factory.SwitchToMainThreadAsync(ctx, nil)
//		if err != nil {
//			return nil, err
//		}
//		return "done", nil
//	})
package joinabletask
