// Package store persists experiments, results, datasets, models, and the
// per-line answer and observation rows of the evaluation run scheduler.
//
// Every cross-worker coordination point lives here. Counter updates are
// atomic increment-and-return operations, status transitions that decide
// ownership or completion are compare-and-set writes, and row writes are
// upserts keyed by their natural key so that duplicate task delivery
// overwrites instead of duplicating.
package store

import (
	"context"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// Store is the persistence contract used by the dispatcher, the workers, the
// progress tracker, and the reconciliation engine.
//
// Methods returning a single entity wrap domain.ErrNotFound when the entity
// does not exist. Claim and Finish methods report whether the caller's write
// changed the row; exactly one concurrent caller observes true.
type Store interface {
	ExperimentStore
	ResultStore
	RowStore
	CatalogStore

	// Close releases the underlying connection pool.
	Close() error
}

// ExperimentStore manages experiments and their answer counters.
type ExperimentStore interface {
	GetExperiment(ctx context.Context, id int64) (*domain.Experiment, error)
	ListExperiments(ctx context.Context, statuses ...domain.ExperimentStatus) ([]*domain.Experiment, error)

	// CreateExperiment inserts the experiment and one pending Result per
	// entry of results. Generated ids are written back into the arguments.
	CreateExperiment(ctx context.Context, exp *domain.Experiment, results []*domain.Result) error

	SetExperimentStatus(ctx context.Context, id int64, status domain.ExperimentStatus) error

	// ClaimExperiment moves the experiment to status unless it already is in
	// that status.
	ClaimExperiment(ctx context.Context, id int64, status domain.ExperimentStatus) (bool, error)

	// FinishExperiment marks the experiment finished when every Result it
	// owns is finished and the experiment is not already finished.
	FinishExperiment(ctx context.Context, id int64) (bool, error)

	// RebaseExperiment recounts the answer rows and resets
	// num_try := num_success.
	RebaseExperiment(ctx context.Context, id int64) (domain.Counts, error)

	// IncrementExperiment adds one attempt, and one success when success is
	// true, and returns the row as it is after the update.
	IncrementExperiment(ctx context.Context, id int64, success bool) (*domain.Experiment, error)
}

// ResultStore manages per-metric results and their observation counters.
type ResultStore interface {
	GetResult(ctx context.Context, id int64) (*domain.Result, error)
	FindResult(ctx context.Context, experimentID int64, metricName string) (*domain.Result, error)
	ListResults(ctx context.Context, experimentID int64) ([]*domain.Result, error)
	ListResultsByStatus(ctx context.Context, statuses ...domain.ResultStatus) ([]*domain.Result, error)

	SetResultStatus(ctx context.Context, id int64, status domain.ResultStatus) error

	// ClaimResult moves the Result to running unless it already is running.
	ClaimResult(ctx context.Context, id int64) (bool, error)

	// FinishResult marks the Result finished unless it already is.
	FinishResult(ctx context.Context, id int64) (bool, error)

	RebaseResult(ctx context.Context, id int64) (domain.Counts, error)
	IncrementResult(ctx context.Context, id int64, success bool) (*domain.Result, error)
}

// RowStore manages the per-line answer and observation rows.
type RowStore interface {
	GetAnswer(ctx context.Context, experimentID int64, line int) (*domain.Answer, error)
	ListAnswers(ctx context.Context, experimentID int64) ([]*domain.Answer, error)
	CountAnswers(ctx context.Context, experimentID int64) (domain.Counts, error)
	UpsertAnswer(ctx context.Context, a *domain.Answer) error

	// ClearAnswerErrors nulls the error message of the listed lines.
	ClearAnswerErrors(ctx context.Context, experimentID int64, lines []int) error

	GetObservation(ctx context.Context, resultID int64, line int) (*domain.Observation, error)
	ListObservations(ctx context.Context, resultID int64) ([]*domain.Observation, error)
	CountObservations(ctx context.Context, resultID int64) (domain.Counts, error)
	UpsertObservation(ctx context.Context, o *domain.Observation) error
	ClearObservationErrors(ctx context.Context, resultID int64, lines []int) error
}

// CatalogStore manages the datasets and generation models experiments
// reference.
type CatalogStore interface {
	GetDataset(ctx context.Context, id int64) (*domain.Dataset, error)
	CreateDataset(ctx context.Context, d *domain.Dataset) error
	GetModel(ctx context.Context, id int64) (*domain.Model, error)
	CreateModel(ctx context.Context, m *domain.Model) error
}
