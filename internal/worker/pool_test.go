package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/queue"
)

// recordingHandler records every task it executes and applies an optional
// behavior per line.
type recordingHandler struct {
	mu     sync.Mutex
	lines  []int
	behave func(line int) error
}

func (h *recordingHandler) Execute(_ context.Context, task domain.Task) error {
	line := task.(domain.GenerateAnswer).LineIndex
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()
	if h.behave != nil {
		return h.behave(line)
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

func sendAnswers(t *testing.T, q queue.Transport, n int) {
	t.Helper()
	for i := range n {
		require.NoError(t, q.Send(context.Background(), domain.GenerateAnswer{
			ExperimentID: 1, ModelID: 1, LineIndex: i, FollowObservation: true,
		}))
	}
}

func runPool(ctx context.Context, p *Pool) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return done
}

func TestPool_ProcessesTasksUntilCancelled(t *testing.T) {
	q := queue.NewMemory()
	h := &recordingHandler{}
	sendAnswers(t, q, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := runPool(ctx, NewPool(q, h, Config{Concurrency: 4, PollTimeout: 10 * time.Millisecond}))

	assert.Eventually(t, func() bool { return h.count() == 20 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, h.lines)
	assert.ErrorIs(t, q.Send(context.Background(), domain.GenerateAnswer{ExperimentID: 1, ModelID: 1}), queue.ErrClosed,
		"the transport is closed when the pool stops")
}

func TestPool_TaskFailuresDoNotStopWorkers(t *testing.T) {
	q := queue.NewMemory()
	h := &recordingHandler{behave: func(line int) error {
		switch line {
		case 0:
			panic("task blew up")
		case 1:
			return assert.AnError
		default:
			return nil
		}
	}}
	sendAnswers(t, q, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runPool(ctx, NewPool(q, h, Config{Concurrency: 1, PollTimeout: 10 * time.Millisecond}))

	assert.Eventually(t, func() bool { return h.count() == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestPool_UnroutableTaskIsFatal(t *testing.T) {
	q := queue.NewMemory()
	h := &recordingHandler{behave: func(int) error {
		return fmt.Errorf("route: %w", domain.ErrUnknownMessageType)
	}}
	sendAnswers(t, q, 1)

	done := runPool(context.Background(), NewPool(q, h, Config{Concurrency: 2, PollTimeout: 10 * time.Millisecond}))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrUnknownMessageType)
	case <-time.After(5 * time.Second):
		t.Fatal("pool kept running after an unknown message type")
	}
}

// scriptedTransport returns queued receive errors, then ErrNoTask.
type scriptedTransport struct {
	mu     sync.Mutex
	errs   []error
	closed bool
}

func (s *scriptedTransport) Send(context.Context, domain.Task) error { return nil }

func (s *scriptedTransport) Receive(ctx context.Context, timeout time.Duration) (domain.Task, error) {
	s.mu.Lock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	select {
	case <-time.After(timeout):
		return nil, queue.ErrNoTask
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestPool_UnknownMessageTypeFromTransportIsFatal(t *testing.T) {
	tr := &scriptedTransport{errs: []error{fmt.Errorf("decode: %w", domain.ErrUnknownMessageType)}}

	err := NewPool(tr, &recordingHandler{}, Config{Concurrency: 1, PollTimeout: 10 * time.Millisecond}).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrUnknownMessageType)
	assert.True(t, tr.closed)
}

func TestPool_StopsWhenTransportIsClosed(t *testing.T) {
	tr := &scriptedTransport{errs: []error{queue.ErrClosed}}

	err := NewPool(tr, &recordingHandler{}, Config{Concurrency: 1, PollTimeout: 10 * time.Millisecond}).Run(context.Background())
	assert.NoError(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultPollTimeout, cfg.PollTimeout)
	assert.Zero(t, cfg.TaskTimeout, "a zero task timeout stays disabled")

	assert.Equal(t, DefaultTaskTimeout, DefaultConfig().TaskTimeout)
}
