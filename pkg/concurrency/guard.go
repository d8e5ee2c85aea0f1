package concurrency

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("a transfer is already in progress")

// ConcurrencyGuard lets at most one task run at a time. A second caller is
// turned away with ErrBusy instead of being queued.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

func (g *ConcurrencyGuard) Execute(task func() error) error {
	if !g.tryAcquire() {
		return ErrBusy
	}
	defer g.release()
	return task()
}

// ExecuteWithContext is Execute for tasks that honour cancellation. The task
// receives ctx unchanged; the guard only refuses to start when ctx is done.
func (g *ConcurrencyGuard) ExecuteWithContext(ctx context.Context, task func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !g.tryAcquire() {
		return ErrBusy
	}
	defer g.release()
	return task(ctx)
}

// Busy reports whether a task is currently running.
func (g *ConcurrencyGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isBusy
}

func (g *ConcurrencyGuard) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isBusy {
		return false
	}
	g.isBusy = true
	return true
}

func (g *ConcurrencyGuard) release() {
	g.mu.Lock()
	g.isBusy = false
	g.mu.Unlock()
}
