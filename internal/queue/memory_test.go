package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/domain"
)

func TestMemory_SendReceive(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	task := domain.GenerateAnswer{ExperimentID: 1, ModelID: 2, LineIndex: 3, Query: "q", FollowObservation: true}
	require.NoError(t, q.Send(ctx, task))
	assert.Equal(t, 1, q.Len())

	got, err := q.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, task, got)
	assert.Equal(t, 0, q.Len())
}

func TestMemory_ReceiveTimeout(t *testing.T) {
	q := NewMemory()

	start := time.Now()
	_, err := q.Receive(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoTask)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemory_ReceiveWakesOnSend(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	done := make(chan domain.Task, 1)
	go func() {
		task, err := q.Receive(ctx, 5*time.Second)
		if err == nil {
			done <- task
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Send(ctx, domain.ComputeObservation{ExperimentID: 1, MetricName: "m"}))

	select {
	case task := <-done:
		assert.Equal(t, domain.StageObservations, task.TaskKind())
	case <-time.After(2 * time.Second):
		t.Fatal("receiver was not woken by send")
	}
}

func TestMemory_ContextCancel(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_UnknownMessageType(t *testing.T) {
	q := NewMemory()
	require.NoError(t, q.push([]byte(`{"message_type":"bogus"}`)))

	_, err := q.Receive(context.Background(), time.Second)
	assert.ErrorIs(t, err, domain.ErrUnknownMessageType)
}

func TestMemory_Close(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, domain.ComputeObservation{ExperimentID: 1, MetricName: "m"}))
	require.NoError(t, q.Close())

	_, err := q.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Send(ctx, domain.ComputeObservation{ExperimentID: 1, MetricName: "m"}), ErrClosed)
}

// TestMemory_ConcurrentDrain verifies that every sent task is received exactly
// once when several consumers drain the queue concurrently.
func TestMemory_ConcurrentDrain(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	const total = 200
	for i := range total {
		require.NoError(t, q.Send(ctx, domain.ComputeObservation{ExperimentID: 1, LineIndex: i, MetricName: "m"}))
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Receive(ctx, 50*time.Millisecond)
				if errors.Is(err, ErrNoTask) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[task.(domain.ComputeObservation).LineIndex]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for line, n := range seen {
		assert.Equal(t, 1, n, "line %d delivered %d times", line, n)
	}
}

func TestNew(t *testing.T) {
	tr, err := New(context.Background(), Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, tr)

	_, err = New(context.Background(), Config{Backend: "kafka"})
	assert.Error(t, err)
}
