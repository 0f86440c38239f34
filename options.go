package joinabletask

import "github.com/joeycumines/logiface"

// contextOptions holds configuration applied when constructing a Context,
// mirroring the teacher's loopOptions/resolveLoopOptions pattern: an
// unexported struct of defaults, mutated by closures wrapped behind a small
// interface so the zero value is never constructed directly by callers.
type contextOptions struct {
	mainThreadPoster MainThreadPoster
	nestedLoopPusher NestedLoopPusher
	threadPool       ThreadPool
	logger           *logiface.Logger[logiface.Event]
	metricsEnabled   bool
}

// ContextOption configures a Context.
type ContextOption interface {
	applyContext(*contextOptions) error
}

type contextOptionFunc func(*contextOptions) error

func (f contextOptionFunc) applyContext(o *contextOptions) error { return f(o) }

// WithMainThreadPoster installs the host's sink for scheduling a callback to
// run on the main thread. If omitted, the Context has no main thread: every
// SwitchToMainThreadAsync reports immediately-ready (spec §4.1, "no-op on
// hosts without a main thread").
func WithMainThreadPoster(poster MainThreadPoster) ContextOption {
	return contextOptionFunc(func(o *contextOptions) error {
		o.mainThreadPoster = poster
		return nil
	})
}

// WithNestedLoopPusher installs the host's nested-loop-push primitive, used
// to model modal dispatcher frames (spec §4.6). Optional; Factory.Run still
// works without one, it simply never needs to cooperate with a host-pushed
// frame.
func WithNestedLoopPusher(pusher NestedLoopPusher) ContextOption {
	return contextOptionFunc(func(o *contextOptions) error {
		o.nestedLoopPusher = pusher
		return nil
	})
}

// WithThreadPool installs the underlying thread-pool collaborator used to
// run continuations that do not require the main thread. Defaults to a pool
// that spawns one goroutine per submission.
func WithThreadPool(pool ThreadPool) ContextOption {
	return contextOptionFunc(func(o *contextOptions) error {
		o.threadPool = pool
		return nil
	})
}

// WithLogger installs a structured logger. Entries are emitted at Debug
// level when a task starts and when it completes; pump admission decisions,
// transition hooks and join cycles are not logged. Defaults to the
// package-level logger installed by SetStructuredLogger, which is nil (no
// logging) unless one was installed.
func WithLogger(logger *logiface.Logger[logiface.Event]) ContextOption {
	return contextOptionFunc(func(o *contextOptions) error {
		o.logger = logger
		return nil
	})
}

// WithMetrics enables collection of pump/transition metrics, retrievable via
// Context.Metrics(). Disabled by default, mirroring the teacher's
// WithMetrics default-off stance for minimal-overhead hot paths.
func WithMetrics(enabled bool) ContextOption {
	return contextOptionFunc(func(o *contextOptions) error {
		o.metricsEnabled = enabled
		return nil
	})
}

// resolveContextOptions applies ContextOption instances, skipping nils and
// surfacing the first error encountered, exactly as the teacher's
// resolveLoopOptions does.
func resolveContextOptions(opts []ContextOption) (*contextOptions, error) {
	cfg := &contextOptions{
		threadPool: newGoroutinePerTaskPool(),
		logger:     defaultLogger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// factoryOptions holds configuration applied when constructing a Factory.
type factoryOptions struct {
	name string
}

// FactoryOption configures a Factory.
type FactoryOption interface {
	applyFactory(*factoryOptions) error
}

type factoryOptionFunc func(*factoryOptions) error

func (f factoryOptionFunc) applyFactory(o *factoryOptions) error { return f(o) }

// WithFactoryName attaches a human-readable label to a Factory. The label is
// kept in the Factory's options only; it does not appear in log entries or
// in task names.
func WithFactoryName(name string) FactoryOption {
	return factoryOptionFunc(func(o *factoryOptions) error {
		o.name = name
		return nil
	})
}

func resolveFactoryOptions(opts []FactoryOption) (*factoryOptions, error) {
	cfg := &factoryOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyFactory(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// runOptions configures a single RunAsync/Run invocation.
type runOptions struct {
	taskName     string
	faultBarrier bool
}

// RunOption configures a single Run/RunAsync call.
type RunOption interface {
	applyRun(*runOptions)
}

type runOptionFunc func(*runOptions)

func (f runOptionFunc) applyRun(o *runOptions) { f(o) }

// WithTaskName attaches a label to the JoinableTask created by this call.
func WithTaskName(name string) RunOption {
	return runOptionFunc(func(o *runOptions) { o.taskName = name })
}

// WithFaultBarrier converts a panic in the async body into a rejected
// completion (a TaskFaultError) instead of propagating the panic up the
// pumping goroutine's stack. Grounded on the recover-and-reject behavior of
// the teacher's Loop.Promisify.
func WithFaultBarrier() RunOption {
	return runOptionFunc(func(o *runOptions) { o.faultBarrier = true })
}

func resolveRunOptions(opts []RunOption) *runOptions {
	cfg := &runOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyRun(cfg)
		}
	}
	return cfg
}
