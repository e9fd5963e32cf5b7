package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamassss/edgelink/internal/config"
	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/internal/metrics"
)

type Func func(ctx context.Context) error

// Runner runs work after the HTTP response has been written. Tasks are
// detached from the request's cancellation and bounded by their own
// timeout.
type Runner interface {
	Go(ctx context.Context, name string, fn Func)
}

type job struct {
	ctx  context.Context
	name string
	fn   Func
}

type Pool struct {
	workers int
	timeout time.Duration
	queue   chan job

	mu      sync.RWMutex
	closed  bool
	running sync.WaitGroup
}

func NewPool(cfg config.TasksConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Pool{
		workers: workers,
		timeout: timeout,
		queue:   make(chan job, cfg.QueueSize),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.running.Add(1)
		go func() {
			defer p.running.Done()
			for j := range p.queue {
				metrics.TaskQueueDepth.Dec()
				p.run(j)
			}
		}()
	}
}

// Go schedules fn. When the queue is full the task gets its own goroutine
// rather than being dropped or blocking the caller.
func (p *Pool) Go(ctx context.Context, name string, fn Func) {
	j := job{ctx: context.WithoutCancel(ctx), name: name, fn: fn}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.closed {
		select {
		case p.queue <- j:
			metrics.TaskQueueDepth.Inc()
			return
		default:
		}
	}

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		p.run(j)
	}()
}

// Shutdown stops accepting queued work and waits for queued and running
// tasks, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running at shutdown: %w", ctx.Err())
	}
}

func (p *Pool) run(j job) {
	execute(j.ctx, j.name, p.timeout, j.fn)
}

func execute(parent context.Context, name string, timeout time.Duration, fn Func) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := logger.FromContext(ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			metrics.TasksTotal.WithLabelValues(name, "panic").Inc()
			log.Error("Deferred task panicked",
				slog.String("task", name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := fn(ctx); err != nil {
		metrics.TasksTotal.WithLabelValues(name, "error").Inc()
		log.Error("Deferred task failed",
			slog.String("task", name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}

	metrics.TasksTotal.WithLabelValues(name, "ok").Inc()
}

// Inline runs tasks synchronously on the caller's goroutine, with the
// same detachment, timeout and panic handling as Pool.
type Inline struct {
	Timeout time.Duration
}

func (i Inline) Go(ctx context.Context, name string, fn Func) {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	execute(context.WithoutCancel(ctx), name, timeout, fn)
}
