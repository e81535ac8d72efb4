// Package storetest provides sqlite-backed stores and fixtures for tests of
// packages built on top of the store.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/store"
)

// Open returns a migrated sqlite store in a per-test directory, closed when
// the test ends.
func Open(t testing.TB) *store.Gorm {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Driver:      store.DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), "evalrun.db"),
		LogLevel:    "silent",
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Fixture describes an experiment to seed.
type Fixture struct {
	// Lines is the dataset size. Row i has query "q<i>", output_true "t<i>"
	// and output "o<i>".
	Lines int

	// Sample restricts the dataset to these lines when set.
	Sample []int

	// Metrics creates one Result per name.
	Metrics []string

	// WithModel attaches a generation model; otherwise answers come from the
	// dataset output column.
	WithModel bool

	// Model overrides the seeded model when WithModel is set.
	Model *domain.Model
}

// Seeded holds the entities created by Seed.
type Seeded struct {
	Dataset    *domain.Dataset
	Model      *domain.Model
	Experiment *domain.Experiment
	Results    []*domain.Result
}

// Seed creates the dataset, model, experiment and results of f.
func Seed(t testing.TB, s store.Store, f Fixture) Seeded {
	t.Helper()
	ctx := context.Background()

	rows := make([]map[string]any, f.Lines)
	for i := range rows {
		rows[i] = map[string]any{
			"query":       fmt.Sprintf("q%d", i),
			"output_true": fmt.Sprintf("t%d", i),
			"output":      fmt.Sprintf("o%d", i),
		}
	}
	ds := &domain.Dataset{Name: "dataset", Rows: rows, Sample: f.Sample}
	require.NoError(t, s.CreateDataset(ctx, ds))

	out := Seeded{Dataset: ds}
	exp := &domain.Experiment{Name: "experiment", DatasetID: ds.ID}
	if f.WithModel {
		m := f.Model
		if m == nil {
			m = &domain.Model{Name: "gpt-4o-mini", Provider: domain.ProviderOpenAI}
		}
		require.NoError(t, s.CreateModel(ctx, m))
		exp.ModelID = &m.ID
		out.Model = m
	}

	results := make([]*domain.Result, len(f.Metrics))
	for i, name := range f.Metrics {
		results[i] = &domain.Result{MetricName: name}
	}
	require.NoError(t, s.CreateExperiment(ctx, exp, results))
	out.Experiment = exp
	out.Results = results
	return out
}

// Answer upserts a successful answer for line.
func Answer(t testing.TB, s store.Store, experimentID int64, line int, text string) {
	t.Helper()
	require.NoError(t, s.UpsertAnswer(context.Background(), &domain.Answer{
		ExperimentID: experimentID,
		LineIndex:    line,
		Answer:       &text,
	}))
}

// FailedAnswer upserts an answer row carrying an error.
func FailedAnswer(t testing.TB, s store.Store, experimentID int64, line int, msg string) {
	t.Helper()
	require.NoError(t, s.UpsertAnswer(context.Background(), &domain.Answer{
		ExperimentID: experimentID,
		LineIndex:    line,
		ErrorMsg:     &msg,
	}))
}

// Observation upserts a scored observation for line.
func Observation(t testing.TB, s store.Store, resultID int64, line int, score float64) {
	t.Helper()
	require.NoError(t, s.UpsertObservation(context.Background(), &domain.Observation{
		ResultID:  resultID,
		LineIndex: line,
		Score:     &score,
	}))
}

// FailedObservation upserts an observation row carrying an error.
func FailedObservation(t testing.TB, s store.Store, resultID int64, line int, msg string) {
	t.Helper()
	require.NoError(t, s.UpsertObservation(context.Background(), &domain.Observation{
		ResultID:  resultID,
		LineIndex: line,
		ErrorMsg:  &msg,
	}))
}
