package joinabletask

import "context"

// ambient.go implements the flow-local slots from spec §3/§9 using
// context.Context values rather than goroutine-locals. This is the Go
// re-architecture of "thread-flow-local" data the spec's design notes call
// for explicitly: context.Context already propagates exactly the way an
// async-local/flow-local variable should, and — unlike a goroutine-id-keyed
// map — it costs nothing when a caller forgets to thread it on to a
// spawned goroutine, which is precisely the boundary where ambient identity
// should NOT survive (spec invariant 6 only requires propagation "across
// await", i.e. within one logical async flow, not across arbitrary `go`
// statements).
//
// "Main thread" itself is modeled the same way: as a capability (the grant)
// carried in context.Context, identity-compared against the one grant token
// minted per Context, rather than a real OS-thread or goroutine ID. Go's
// runtime freely migrates goroutines across OS threads, so "current OS
// thread" has no stable meaning for user code; what the spec actually needs
// — at most one flow of execution holding main-thread affinity at a time —
// is exactly what a single capability token provides.

type ambientTaskKeyT struct{}
type mainThreadGrantKeyT struct{}
type suppressRelevanceKeyT struct{}
type suspensionGateKeyT struct{}

var (
	ambientTaskKey       = ambientTaskKeyT{}
	mainThreadGrantKey   = mainThreadGrantKeyT{}
	suppressRelevanceKey = suppressRelevanceKeyT{}
	suspensionGateKey    = suspensionGateKeyT{}
)

// mainThreadGrant is the capability token minted once per Context. A
// context.Context carries one of these, by pointer identity, exactly when
// the current flow of execution is logically "on the main thread".
type mainThreadGrant struct {
	ctx *Context
}

func ambientTask(ctx context.Context) *Task {
	t, _ := ctx.Value(ambientTaskKey).(*Task)
	return t
}

func withAmbientTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, ambientTaskKey, t)
}

func hasGrant(ctx context.Context, c *Context) bool {
	g, _ := ctx.Value(mainThreadGrantKey).(*mainThreadGrant)
	return g != nil && g.ctx == c
}

func withMainThreadGrant(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, mainThreadGrantKey, &mainThreadGrant{ctx: c})
}

func withoutMainThreadGrant(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainThreadGrantKey, (*mainThreadGrant)(nil))
}

func isSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressRelevanceKey).(bool)
	return v
}

func withSuppressRelevance(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressRelevanceKey, true)
}

// suspensionGate lets the first suspension point reached by a spawned async
// body signal the goroutine that started it, preserving "f begins executing
// synchronously up to its first suspension" (spec §4.1) without requiring a
// real coroutine/continuation-passing transform: the starting goroutine
// simply blocks on the gate instead of on the body's whole completion.
type suspensionGate struct {
	ch   chan struct{}
	once chan struct{}
}

func newSuspensionGate() *suspensionGate {
	return &suspensionGate{ch: make(chan struct{}), once: make(chan struct{}, 1)}
}

func (g *suspensionGate) fire() {
	select {
	case g.once <- struct{}{}:
		close(g.ch)
	default:
	}
}

func withSuspensionGate(ctx context.Context, g *suspensionGate) context.Context {
	return context.WithValue(ctx, suspensionGateKey, g)
}

func fireSuspension(ctx context.Context) {
	if g, ok := ctx.Value(suspensionGateKey).(*suspensionGate); ok && g != nil {
		g.fire()
	}
}
