package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// Memory is an unbounded in-process transport. Messages are kept in their
// encoded form so that the in-process path exercises the same codec as a
// networked transport.
type Memory struct {
	mu     sync.Mutex
	items  [][]byte
	closed bool

	// signal has capacity one; a pending value means items may be non-empty.
	signal chan struct{}
}

var _ Transport = (*Memory)(nil)

// NewMemory returns an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1)}
}

// Send implements Transport.
func (m *Memory) Send(_ context.Context, task domain.Task) error {
	raw, err := domain.EncodeTask(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return m.push(raw)
}

func (m *Memory) push(raw []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.items = append(m.items, raw)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Memory) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Receive implements Transport.
func (m *Memory) Receive(ctx context.Context, timeout time.Duration) (domain.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		raw, ok, err := m.pop()
		if err != nil {
			return nil, err
		}
		if ok {
			return domain.DecodeTask(raw)
		}

		select {
		case <-m.signal:
		case <-timer.C:
			return nil, ErrNoTask
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) pop() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.notify()
		return nil, false, ErrClosed
	}
	if len(m.items) == 0 {
		return nil, false, nil
	}
	raw := m.items[0]
	m.items[0] = nil
	m.items = m.items[1:]
	if len(m.items) > 0 {
		// Wake another receiver for the remaining items.
		m.notify()
	}
	return raw, true, nil
}

// Len returns the number of queued tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close implements Transport. Blocked receivers observe ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
	m.notify()
	return nil
}
