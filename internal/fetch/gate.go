package fetch

import "context"

// Gate is a counting admission gate bounding the number of in-flight range
// fetches across every stream of a job. It is owned by the job, not shared
// process-wide, so parallel jobs can carry independent budgets.
type Gate struct {
	slots chan struct{}
}

func NewGate(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	<-g.slots
}
