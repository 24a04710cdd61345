package xstream

import "context"

// Result pairs a value with the error that produced it, for channel-based
// consumption of Task and Seq.
type Result[T any] struct {
	Value T
	Err   error
}

// Task is a cold single-valued operation. Nothing touches the transport
// until Await (or Go) runs it; a Task can be kept, passed around, and
// awaited more than once, re-issuing the call each time.
type Task[T any] struct {
	run func(ctx context.Context) (T, error)
}

// NewTask wraps run in a cold task.
func NewTask[T any](run func(ctx context.Context) (T, error)) Task[T] {
	return Task[T]{run: run}
}

// FailedTask returns a task that yields err without running anything.
// Validation failures surface this way: the check happens at call time,
// the outcome at await time.
func FailedTask[T any](err error) Task[T] {
	return Task[T]{run: func(context.Context) (T, error) {
		var zero T
		return zero, err
	}}
}

// Await executes the task and returns its result. A context canceled
// before Await starts short-circuits without running the operation.
func (t Task[T]) Await(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return t.run(ctx)
}

// Go executes the task in a goroutine and returns a buffered channel that
// receives the single result. The channel is never closed; receive once.
func (t Task[T]) Go(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		v, err := t.Await(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}
