// Package limiter provides a small FIFO concurrency limiter.
//
// It bounds how many operations run at once; excess callers queue in arrival
// order. Callers are responsible for backpressure (there is no bound on how
// many can wait).
package limiter

import "context"

// Limiter admits at most N concurrent operations.
type Limiter struct {
	slots chan struct{}
}

func New(n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	l := &Limiter{slots: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		l.slots <- struct{}{}
	}
	return l
}

// Acquire blocks until a slot frees or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case <-l.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case <-l.slots:
		return true
	default:
		return false
	}
}

func (l *Limiter) Release() {
	// Never block on release.
	select {
	case l.slots <- struct{}{}:
	default:
	}
}

// Do runs fn under a slot. The slot is held for exactly the duration of fn;
// a failing fn frees its slot the moment it returns, and its error goes back
// to this caller only.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
