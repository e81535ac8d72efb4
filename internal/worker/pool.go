// Package worker executes the tasks carried by the queue transport.
//
// A Pool runs a fixed number of loops that each receive one task at a time
// and hand it to an Executor. Task failures are recorded on the task's row
// and never stop a loop; only a message of an unknown type stops the pool.
// The package also registers the reconciliation workflow and activities with
// a Temporal worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/queue"
	"github.com/ahrav/go-evalrun/internal/toolloop"
)

// Pool defaults.
const (
	DefaultConcurrency = 8
	DefaultPollTimeout = time.Second
	DefaultTaskTimeout = 5 * time.Minute
)

// receiveBackoff spaces Receive calls after a transport error.
const receiveBackoff = time.Second

// Config tunes the pool and the task executor.
type Config struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=0"`
	PollTimeout time.Duration `yaml:"poll_timeout" validate:"gte=0"`

	// TaskTimeout bounds the generation or metric call of one task.
	// Zero disables the bound.
	TaskTimeout time.Duration `yaml:"task_timeout" validate:"gte=0"`

	ToolLoop toolloop.Config `yaml:"tool_loop"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		PollTimeout: DefaultPollTimeout,
		TaskTimeout: DefaultTaskTimeout,
		ToolLoop: toolloop.Config{
			MaxSteps:       toolloop.DefaultMaxSteps,
			MaxStepsSearch: toolloop.DefaultMaxStepsSearch,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// Handler executes one task.
type Handler interface {
	Execute(ctx context.Context, task domain.Task) error
}

// Pool runs the worker loops.
type Pool struct {
	transport queue.Transport
	handler   Handler
	cfg       Config
	logger    *slog.Logger
}

// NewPool creates a pool consuming t.
func NewPool(t queue.Transport, h Handler, cfg Config) *Pool {
	return &Pool{
		transport: t,
		handler:   h,
		cfg:       cfg.withDefaults(),
		logger:    slog.Default().With("component", "worker"),
	}
}

// Run starts the loops and blocks until ctx is cancelled or a loop fails.
// In-flight tasks complete before Run returns. The transport is closed on
// return. The returned error wraps domain.ErrUnknownMessageType when a loop
// received a message it cannot route.
func (p *Pool) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		once  sync.Once
		fatal error
	)
	p.logger.Info("worker pool started", "concurrency", p.cfg.Concurrency, "task_timeout", p.cfg.TaskTimeout)
	for id := range p.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.loop(runCtx, id); err != nil {
				once.Do(func() {
					fatal = err
					cancel()
				})
			}
		}()
	}
	wg.Wait()

	if err := p.transport.Close(); err != nil {
		p.logger.Warn("failed to close transport", "error", err)
	}
	if fatal != nil {
		p.logger.Error("worker pool stopped", "error", fatal)
		return fatal
	}
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) error {
	log := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := p.transport.Receive(ctx, p.cfg.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrNoTask):
			continue
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		case errors.Is(err, domain.ErrUnknownMessageType):
			return fmt.Errorf("worker %d: %w", id, err)
		default:
			log.Warn("failed to receive task", "error", err)
			if !sleep(ctx, receiveBackoff) {
				return nil
			}
			continue
		}

		if err := p.execute(ctx, log, task); err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
	}
}

// execute runs a task detached from the pool's cancellation so that
// shutdown lets it finish. Only routing errors are returned.
func (p *Pool) execute(ctx context.Context, log *slog.Logger, task domain.Task) error {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "stage", task.TaskKind(), "panic", r)
		}
	}()

	if err := p.handler.Execute(context.WithoutCancel(ctx), task); err != nil {
		if errors.Is(err, domain.ErrUnknownMessageType) {
			return err
		}
		log.Error("task failed", "stage", task.TaskKind(), "error", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
