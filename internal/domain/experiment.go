// Package domain provides the core types of the evaluation run scheduler.
// It defines experiments, per-metric results, the per-line answer and
// observation rows, datasets, generation model configurations, the task
// messages exchanged between dispatcher and workers, and retry requests.
//
// Entities reference each other by id only. An Experiment owns its Results by
// id, a Result owns its Observations by id, and no type carries a pointer back
// to its parent. Callers resolve relationships through explicit store lookups.
package domain

import "time"

// ExperimentStatus is the lifecycle state of an Experiment.
type ExperimentStatus string

const (
	// ExperimentPending is the initial state of a newly created experiment.
	ExperimentPending ExperimentStatus = "pending"

	// ExperimentRunningAnswers indicates answer generation tasks are outstanding.
	ExperimentRunningAnswers ExperimentStatus = "running_answers"

	// ExperimentRunningMetrics indicates observation tasks are outstanding.
	ExperimentRunningMetrics ExperimentStatus = "running_metrics"

	// ExperimentFinished is terminal until a retry reopens the experiment.
	ExperimentFinished ExperimentStatus = "finished"
)

// ResultStatus is the lifecycle state of a Result.
type ResultStatus string

const (
	// ResultPending is the state a Result is created in.
	ResultPending ResultStatus = "pending"

	// ResultRunning indicates a dispatcher has claimed the Result.
	ResultRunning ResultStatus = "running"

	// ResultFinished indicates every expected line has been attempted.
	ResultFinished ResultStatus = "finished"
)

// Counts holds the attempt and success aggregates of an Experiment or Result.
// Both values are derived from the underlying rows and can always be
// recomputed from them.
type Counts struct {
	NumTry     int `json:"num_try"`
	NumSuccess int `json:"num_success"`
}

// Experiment is one evaluation run over a dataset with one model and one or
// more metrics.
type Experiment struct {
	ID        int64            `json:"id" validate:"gte=0"`
	Name      string           `json:"name" validate:"required"`
	Status    ExperimentStatus `json:"status" validate:"required,oneof=pending running_answers running_metrics finished"`
	DatasetID int64            `json:"dataset_id" validate:"gt=0"`

	// ModelID is nil when answers are supplied by the dataset output column.
	ModelID *int64 `json:"model_id,omitempty"`

	// JudgeModel names the model used by LLM-judged metrics.
	// Empty selects the configured default judge.
	JudgeModel string `json:"judge_model,omitempty"`

	Counts

	// ResultIDs lists the Results owned by this experiment.
	ResultIDs []int64 `json:"result_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the experiment's structural constraints.
func (e *Experiment) Validate() error { return validate.Struct(e) }

// HasModel reports whether answers for this experiment are generated by a model.
func (e *Experiment) HasModel() bool { return e.ModelID != nil && *e.ModelID > 0 }

// Result is the per-metric sub-run of an Experiment.
type Result struct {
	ID           int64          `json:"id" validate:"gte=0"`
	ExperimentID int64          `json:"experiment_id" validate:"gt=0"`
	MetricName   string         `json:"metric_name" validate:"required"`
	MetricParams map[string]any `json:"metric_params,omitempty"`
	Status       ResultStatus   `json:"status" validate:"required,oneof=pending running finished"`

	Counts

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the result's structural constraints.
func (r *Result) Validate() error { return validate.Struct(r) }
