// Package worker provides bounded pools for CPU-heavy work.
package worker

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when the pool already holds its maximum number
// of running and waiting tasks.
var ErrQueueFull = errors.New("worker queue is full")

// Observer receives pool occupancy changes. It may be nil.
type Observer interface {
	QueueDepth(pool string, waiting int64)
	TaskRejected(pool string)
}

// Pool runs at most Workers tasks at once and lets at most QueueSize more
// wait. Callers beyond that are rejected immediately.
type Pool struct {
	name     string
	admit    *semaphore.Weighted
	run      *semaphore.Weighted
	waiting  chan struct{}
	observer Observer
}

// Config contains pool sizing.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// NewPool creates a Pool. Non-positive Workers defaults to 1.
func NewPool(cfg Config, observer Observer) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Pool{
		name:     cfg.Name,
		admit:    semaphore.NewWeighted(int64(cfg.Workers + cfg.QueueSize)),
		run:      semaphore.NewWeighted(int64(cfg.Workers)),
		waiting:  make(chan struct{}, cfg.Workers+cfg.QueueSize),
		observer: observer,
	}
}

// Do runs fn on the pool and waits for it. It returns ErrQueueFull without
// running fn when the queue is saturated, and ctx.Err() if ctx ends while
// waiting for a worker.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !p.admit.TryAcquire(1) {
		if p.observer != nil {
			p.observer.TaskRejected(p.name)
		}
		return ErrQueueFull
	}
	defer p.admit.Release(1)

	p.waiting <- struct{}{}
	p.report()
	err := p.run.Acquire(ctx, 1)
	<-p.waiting
	p.report()
	if err != nil {
		return err
	}
	defer p.run.Release(1)

	return fn(ctx)
}

// Waiting returns the number of admitted tasks not yet running.
func (p *Pool) Waiting() int {
	return len(p.waiting)
}

func (p *Pool) report() {
	if p.observer != nil {
		p.observer.QueueDepth(p.name, int64(len(p.waiting)))
	}
}
