package osuconcierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrArtifactAbandoned = errors.New("artifact producer exited without a result")

// Artifact is a single-use slot for the result of a slow computation,
// such as a rendered image. It's written at most once, by exactly one
// of Resolve, Fail or Abandon. Readers are released on that write.
type Artifact[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewArtifact[T any]() *Artifact[T] {
	return &Artifact[T]{done: make(chan struct{})}
}

func (a *Artifact[T]) write(v T, err error) bool {
	written := false
	a.once.Do(
		func() {
			a.value = v
			a.err = err
			written = true
			close(a.done)
		},
	)
	return written
}

// Resolve stores the given value, returning false if the artifact was
// already written
func (a *Artifact[T]) Resolve(v T) bool {
	return a.write(v, nil)
}

// Fail stores the given error, returning false if the artifact was
// already written
func (a *Artifact[T]) Fail(err error) bool {
	if err == nil {
		err = ErrArtifactAbandoned
	}
	var zero T
	return a.write(zero, err)
}

// Abandon fails the artifact with [ErrArtifactAbandoned]
func (a *Artifact[T]) Abandon() bool {
	return a.Fail(ErrArtifactAbandoned)
}

// Done is closed once the artifact has been written
func (a *Artifact[T]) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the artifact is written or the context is done
func (a *Artifact[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-a.done:
		return a.value, a.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the artifact's result without blocking. ready is false
// while the artifact is pending.
func (a *Artifact[T]) Peek() (v T, ready bool, err error) {
	select {
	case <-a.done:
		return a.value, true, a.err
	default:
		var zero T
		return zero, false, nil
	}
}

// ProduceArtifact runs fn in a new goroutine, writing its result to the
// returned artifact. If fn panics, the artifact is abandoned rather than
// left pending.
func ProduceArtifact[T any](
	ctx context.Context,
	logger *slog.Logger,
	fn func(ctx context.Context) (T, error),
) *Artifact[T] {
	a := NewArtifact[T]()
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		defer func() {
			if rc := recover(); rc != nil {
				handleRecover(WithLogger(ctx, logger), rc)
				a.Fail(fmt.Errorf("%w: panic: %v", ErrArtifactAbandoned, rc))
			}
			a.Abandon()
		}()
		v, err := fn(ctx)
		if err != nil {
			a.Fail(err)
			return
		}
		a.Resolve(v)
	}()
	return a
}
