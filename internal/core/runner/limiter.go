package runner

import "context"

// Limiter is the bounded admission gate for pipeline executions. At most
// capacity jobs hold a slot at once; waiters queue on the channel and run as
// earlier jobs release.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot. Must be paired with a successful acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

func (l *Limiter) InUse() int    { return len(l.slots) }
func (l *Limiter) Capacity() int { return cap(l.slots) }
