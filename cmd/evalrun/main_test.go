package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/reconcile"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/internal/store/storetest"
)

// useDatabase points the commands at a fresh sqlite file and returns a store
// opened on it.
func useDatabase(t *testing.T) *store.Gorm {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "evalrun.db")
	t.Setenv("EVALRUN_STORE_DSN", dsn)
	t.Setenv("EVALRUN_EVENT_SINK", "none")
	t.Setenv("EVALRUN_LOG_LEVEL", "error")

	s, err := store.Open(context.Background(), store.Config{
		Driver:      store.DriverSQLite,
		DSN:         dsn,
		LogLevel:    "silent",
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	useDatabase(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema up to date\n", out)
}

func TestRunCommand(t *testing.T) {
	s := useDatabase(t)
	seed := storetest.Seed(t, s, storetest.Fixture{Lines: 3, WithModel: true, Metrics: []string{"output_length"}})

	out, err := execute(t, "run", "1")
	require.NoError(t, err)
	assert.Equal(t, "experiment 1: 3 tasks enqueued\n", out)

	exp, err := s.GetExperiment(context.Background(), seed.Experiment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentRunningAnswers, exp.Status)
}

func TestDispatchCommand(t *testing.T) {
	s := useDatabase(t)
	storetest.Seed(t, s, storetest.Fixture{Lines: 2, WithModel: true})

	out, err := execute(t, "dispatch", "1", "--stage", "answers")
	require.NoError(t, err)
	assert.Equal(t, "experiment 1 answers: 2 tasks enqueued\n", out)

	_, err = execute(t, "dispatch", "1", "--stage", "scores")
	assert.ErrorIs(t, err, domain.ErrUnknownStage)
}

func TestRetryCommand(t *testing.T) {
	t.Run("retries the named experiment", func(t *testing.T) {
		s := useDatabase(t)
		seed := storetest.Seed(t, s, storetest.Fixture{Lines: 2, WithModel: true})
		storetest.FailedAnswer(t, s, seed.Experiment.ID, 0, "timeout")

		out, err := execute(t, "retry", "--experiment", "1")
		require.NoError(t, err)

		var report reconcile.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, map[int64]int{seed.Experiment.ID: 2}, report.Answers)
	})

	t.Run("scan of a healthy store retries nothing", func(t *testing.T) {
		useDatabase(t)

		out, err := execute(t, "retry", "--scan")
		require.NoError(t, err)

		var report reconcile.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Zero(t, report.Total())
	})

	t.Run("requires a target", func(t *testing.T) {
		useDatabase(t)

		_, err := execute(t, "retry")
		assert.ErrorContains(t, err, "nothing to retry")
	})

	t.Run("rejects invalid ids", func(t *testing.T) {
		useDatabase(t)

		_, err := execute(t, "retry", "--result", "0")
		assert.ErrorContains(t, err, "invalid retry request")
	})
}

func TestInvalidArguments(t *testing.T) {
	useDatabase(t)

	_, err := execute(t, "run", "abc")
	assert.ErrorContains(t, err, `invalid experiment id "abc"`)

	_, err = execute(t, "run")
	assert.Error(t, err)

	t.Setenv("EVALRUN_STORE_DRIVER", "oracle")
	_, err = execute(t, "migrate")
	assert.Error(t, err)
}
