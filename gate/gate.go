package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	ErrMustNotBeZero = errors.New("capacity must be greater than zero")
	ErrAcquireFailed = errors.New("acquiring admission permit")
)

// Gate is a counting pool of permits. The zero value is not usable,
// construct one with New.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
}

// New returns a Gate holding capacity permits.
func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity[%d] %w", capacity, ErrMustNotBeZero)
	}

	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

// Acquire blocks until a permit is free or ctx is done. The returned
// Permit must be released exactly once; extra Release calls are no-ops.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquireFailed, err)
	}
	g.inUse.Add(1)

	return &Permit{gate: g}, nil
}

// TryAcquire takes a permit only if one is immediately free.
func (g *Gate) TryAcquire() (*Permit, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.inUse.Add(1)

	return &Permit{gate: g}, true
}

// Capacity is the total number of permits.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InUse reports how many permits are currently held.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Permit is an owned admission token.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit to its gate. Safe to call on a nil Permit.
func (p *Permit) Release() {
	if p == nil {
		return
	}

	p.once.Do(func() {
		p.gate.inUse.Add(-1)
		p.gate.sem.Release(1)
	})
}
