package activity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-evalrun/pkg/events"
)

type flakySink struct {
	failures int
	calls    int
	got      []events.Envelope
}

func (s *flakySink) Append(_ context.Context, e events.Envelope) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, e)
	return nil
}

func TestExecutionFrom_OutsideActivity(t *testing.T) {
	assert.Equal(t, Execution{}, ExecutionFrom(context.Background()))
}

func TestExecutionFrom_InsideActivity(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestActivityEnvironment()
	execution := func(ctx context.Context) (Execution, error) { return ExecutionFrom(ctx), nil }
	env.RegisterActivity(execution)

	val, err := env.ExecuteActivity(execution)
	require.NoError(t, err)

	var got Execution
	require.NoError(t, val.Get(&got))
	assert.NotEmpty(t, got.WorkflowID)
}

func TestEmitter_Emit(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantSaved int
	}{
		{name: "first_attempt", failures: 0, wantCalls: 1, wantSaved: 1},
		{name: "retried_once", failures: 1, wantCalls: 2, wantSaved: 1},
		{name: "gives_up", failures: 5, wantCalls: 2, wantSaved: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &flakySink{failures: tt.failures}
			e := Emitter{sink: sink, attempts: 2}

			e.Emit(context.Background(), events.Envelope{Type: events.TypeReconcileCompleted})

			assert.Equal(t, tt.wantCalls, sink.calls)
			assert.Len(t, sink.got, tt.wantSaved)
		})
	}
}

func TestEmitter_EmitKeepsWorkflowID(t *testing.T) {
	sink := &flakySink{}
	NewEmitter(sink).Emit(context.Background(), events.Envelope{Type: events.TypeReconcileCompleted, WorkflowID: "wf-1"})

	require.Len(t, sink.got, 1)
	assert.Equal(t, "wf-1", sink.got[0].WorkflowID)
}

func TestEmitter_EmitStopsOnCancel(t *testing.T) {
	sink := &flakySink{failures: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewEmitter(sink).Emit(ctx, events.Envelope{Type: events.TypeReconcileCompleted})
	assert.Equal(t, 1, sink.calls)
}

func TestEmitter_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		NewEmitter(nil).Emit(context.Background(), events.Envelope{})
	})
}

func TestHelpers_OutsideActivity(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, Logger(ctx))
	assert.NotPanics(t, func() {
		Logger(ctx).Info("msg", "k", "v")
		Heartbeat(ctx, 1)
	})
}
