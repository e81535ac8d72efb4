// Package queue provides the task transport between the dispatcher and the
// worker pool.
//
// A Transport is an unbounded, unordered, at-least-once point-to-point queue.
// There is no acknowledgement and no redelivery: a worker that crashes after
// Receive loses the task, and the reconciliation engine re-emits it later.
// Tasks travel in their JSON wire form (domain.EncodeTask), so any process that
// speaks the format can produce or consume them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// ErrNoTask is returned by Receive when no task arrived within the timeout.
// Callers use it to re-check their shutdown signal.
var ErrNoTask = errors.New("no task available")

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport carries tasks from producers to consumers.
type Transport interface {
	// Send enqueues a task. It returns once the task is handed to the queue.
	Send(ctx context.Context, task domain.Task) error

	// Receive blocks until a task is available, the timeout elapses, or ctx
	// is done. A timeout returns ErrNoTask. A message whose type is not
	// recognized returns an error wrapping domain.ErrUnknownMessageType.
	Receive(ctx context.Context, timeout time.Duration) (domain.Task, error)

	// Close releases the transport. Pending tasks of an in-process transport
	// are discarded.
	Close() error
}

// Transport backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a transport backend.
type Config struct {
	Backend string      `yaml:"backend" validate:"required,oneof=memory redis"`
	Redis   RedisConfig `yaml:"redis"`
}

// New builds the configured transport.
func New(ctx context.Context, cfg Config) (Transport, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown queue backend: %q (expected memory or redis)", cfg.Backend)
	}
}
