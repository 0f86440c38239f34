package joinabletask

// JoinableFuture is the completion value produced by RunAsync (SPEC_FULL §2
// C15), grounded on the teacher's ChainedPromise: a single-assignment
// result slot observed either by blocking on Done() or by calling Value(),
// which blocks until resolution.
type JoinableFuture struct {
	task *Task
}

// Done returns a channel that is closed once the future has resolved,
// successfully or not.
func (f *JoinableFuture) Done() <-chan struct{} {
	return f.task.done
}

// Value blocks until the future resolves and returns its result and error.
// Calling Value is not itself a join: it does not admit the task's
// main-thread work into any blocker's pump. JoinableHandle.Join does;
// JoinableHandle.JoinAsync returns this same future and does not.
func (f *JoinableFuture) Value() (any, error) {
	<-f.task.done
	return f.task.result, f.task.err
}
