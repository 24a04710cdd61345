package xstream

import (
	"context"
	"iter"
)

// Seq is a cold multi-valued operation. Like Task, nothing runs until the
// sequence is consumed, and every All/Collect/Chan call re-issues the
// underlying operation from scratch.
//
// Elements materialize one at a time during consumption: stopping early,
// or canceling the context, skips the work (including decoding) for
// everything not yet consumed.
type Seq[T any] struct {
	run func(ctx context.Context, yield func(T) bool) error
}

// NewSeq wraps run in a cold sequence. run pushes elements through yield
// and stops when yield returns false; a non-nil return surfaces to the
// consumer as the final iteration element.
func NewSeq[T any](run func(ctx context.Context, yield func(T) bool) error) Seq[T] {
	return Seq[T]{run: run}
}

// FailedSeq returns a sequence that yields only err.
func FailedSeq[T any](err error) Seq[T] {
	return Seq[T]{run: func(context.Context, func(T) bool) error {
		return err
	}}
}

// All returns an iterator over the sequence. Each element carries either a
// value or an error; after an error the iteration is over. An exhausted
// sequence with no error simply ends, so an empty result ranges zero times.
func (s Seq[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		done := false
		emit := func(v T, err error) bool {
			if done {
				return false
			}
			if !yield(v, err) {
				done = true
				return false
			}
			return true
		}

		if err := ctx.Err(); err != nil {
			var zero T
			emit(zero, err)
			return
		}

		err := s.run(ctx, func(v T) bool {
			if ctx.Err() != nil {
				return false
			}
			return emit(v, nil)
		})
		if done {
			return
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			var zero T
			emit(zero, err)
		}
	}
}

// Collect runs the sequence to completion and returns all elements. Any
// error abandons the batch: the result slice is nil even if some elements
// had already decoded.
func (s Seq[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Chan runs the sequence in a goroutine and streams results over a
// channel. The channel closes when the sequence ends, errors, or the
// context is canceled.
func (s Seq[T]) Chan(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T])
	go func() {
		defer close(ch)
		for v, err := range s.All(ctx) {
			select {
			case ch <- Result[T]{Value: v, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
