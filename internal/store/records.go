package store

import (
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
)

type datasetRecord struct {
	ID         int64             `gorm:"primaryKey"`
	Name       string            `gorm:"type:varchar(255);not null"`
	Rows       []map[string]any  `gorm:"serializer:json"`
	Size       int               `gorm:"not null"`
	ColumnsMap map[string]string `gorm:"serializer:json"`
	Sample     []int             `gorm:"serializer:json"`
	CreatedAt  time.Time
}

func (datasetRecord) TableName() string { return "datasets" }

func (r *datasetRecord) toDomain() *domain.Dataset {
	return &domain.Dataset{
		ID:         r.ID,
		Name:       r.Name,
		Rows:       r.Rows,
		Size:       r.Size,
		ColumnsMap: r.ColumnsMap,
		Sample:     r.Sample,
	}
}

type modelRecord struct {
	ID            int64                 `gorm:"primaryKey"`
	Name          string                `gorm:"type:varchar(255);not null"`
	Provider      string                `gorm:"type:varchar(32);not null"`
	BaseURL       string                `gorm:"type:varchar(500)"`
	APIKey        string                `gorm:"type:varchar(500)"`
	SystemPrompt  string                `gorm:"type:text"`
	PreludePrompt string                `gorm:"type:text"`
	Sampling      domain.SamplingParams `gorm:"serializer:json"`
	Tools         []string              `gorm:"serializer:json"`
	CreatedAt     time.Time
}

func (modelRecord) TableName() string { return "models" }

func (r *modelRecord) toDomain() *domain.Model {
	return &domain.Model{
		ID:            r.ID,
		Name:          r.Name,
		Provider:      r.Provider,
		BaseURL:       r.BaseURL,
		APIKey:        r.APIKey,
		SystemPrompt:  r.SystemPrompt,
		PreludePrompt: r.PreludePrompt,
		Sampling:      r.Sampling,
		Tools:         r.Tools,
	}
}

type experimentRecord struct {
	ID         int64  `gorm:"primaryKey"`
	Name       string `gorm:"type:varchar(255);not null"`
	Status     string `gorm:"type:varchar(32);not null;default:pending;index"`
	DatasetID  int64  `gorm:"not null;index"`
	ModelID    *int64
	JudgeModel string `gorm:"type:varchar(255)"`
	NumTry     int    `gorm:"not null;default:0"`
	NumSuccess int    `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (experimentRecord) TableName() string { return "experiments" }

func (r *experimentRecord) toDomain() *domain.Experiment {
	return &domain.Experiment{
		ID:         r.ID,
		Name:       r.Name,
		Status:     domain.ExperimentStatus(r.Status),
		DatasetID:  r.DatasetID,
		ModelID:    r.ModelID,
		JudgeModel: r.JudgeModel,
		Counts:     domain.Counts{NumTry: r.NumTry, NumSuccess: r.NumSuccess},
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type resultRecord struct {
	ID           int64          `gorm:"primaryKey"`
	ExperimentID int64          `gorm:"not null;uniqueIndex:idx_result_metric,priority:1"`
	MetricName   string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_result_metric,priority:2"`
	MetricParams map[string]any `gorm:"serializer:json"`
	Status       string         `gorm:"type:varchar(32);not null;default:pending;index"`
	NumTry       int            `gorm:"not null;default:0"`
	NumSuccess   int            `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (resultRecord) TableName() string { return "results" }

func (r *resultRecord) toDomain() *domain.Result {
	return &domain.Result{
		ID:           r.ID,
		ExperimentID: r.ExperimentID,
		MetricName:   r.MetricName,
		MetricParams: r.MetricParams,
		Status:       domain.ResultStatus(r.Status),
		Counts:       domain.Counts{NumTry: r.NumTry, NumSuccess: r.NumSuccess},
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type answerRecord struct {
	ID                 int64   `gorm:"primaryKey"`
	ExperimentID       int64   `gorm:"not null;uniqueIndex:idx_answer_line,priority:1"`
	LineIndex          int     `gorm:"not null;uniqueIndex:idx_answer_line,priority:2"`
	Answer             *string `gorm:"type:text"`
	Think              *string `gorm:"type:text"`
	ErrorMsg           *string `gorm:"type:text"`
	ExecutionTime      float64
	NbTokensPrompt     int64
	NbTokensCompletion int64
	NbToolCalls        int
	Context            []string            `gorm:"serializer:json"`
	RetrievalContext   []string            `gorm:"serializer:json"`
	ToolSteps          [][]domain.ToolStep `gorm:"serializer:json"`
	UpdatedAt          time.Time
}

func (answerRecord) TableName() string { return "answers" }

// answerUpdateColumns are overwritten when an answer upsert hits an existing
// (experiment_id, line_index) row.
var answerUpdateColumns = []string{
	"answer", "think", "error_msg", "execution_time",
	"nb_tokens_prompt", "nb_tokens_completion", "nb_tool_calls",
	"context", "retrieval_context", "tool_steps", "updated_at",
}

func answerFromDomain(a *domain.Answer) *answerRecord {
	return &answerRecord{
		ExperimentID:       a.ExperimentID,
		LineIndex:          a.LineIndex,
		Answer:             a.Answer,
		Think:              a.Think,
		ErrorMsg:           a.ErrorMsg,
		ExecutionTime:      a.ExecutionTime,
		NbTokensPrompt:     a.NbTokensPrompt,
		NbTokensCompletion: a.NbTokensCompletion,
		NbToolCalls:        a.NbToolCalls,
		Context:            a.Context,
		RetrievalContext:   a.RetrievalContext,
		ToolSteps:          a.ToolSteps,
	}
}

func (r *answerRecord) toDomain() *domain.Answer {
	return &domain.Answer{
		ID:                 r.ID,
		ExperimentID:       r.ExperimentID,
		LineIndex:          r.LineIndex,
		Answer:             r.Answer,
		Think:              r.Think,
		ErrorMsg:           r.ErrorMsg,
		ExecutionTime:      r.ExecutionTime,
		NbTokensPrompt:     r.NbTokensPrompt,
		NbTokensCompletion: r.NbTokensCompletion,
		NbToolCalls:        r.NbToolCalls,
		Context:            r.Context,
		RetrievalContext:   r.RetrievalContext,
		ToolSteps:          r.ToolSteps,
		UpdatedAt:          r.UpdatedAt,
	}
}

type observationRecord struct {
	ID            int64 `gorm:"primaryKey"`
	ResultID      int64 `gorm:"not null;uniqueIndex:idx_observation_line,priority:1"`
	LineIndex     int   `gorm:"not null;uniqueIndex:idx_observation_line,priority:2"`
	Score         *float64
	Observation   *string `gorm:"type:text"`
	ErrorMsg      *string `gorm:"type:text"`
	ExecutionTime float64
	UpdatedAt     time.Time
}

func (observationRecord) TableName() string { return "observations" }

var observationUpdateColumns = []string{
	"score", "observation", "error_msg", "execution_time", "updated_at",
}

func observationFromDomain(o *domain.Observation) *observationRecord {
	return &observationRecord{
		ResultID:      o.ResultID,
		LineIndex:     o.LineIndex,
		Score:         o.Score,
		Observation:   o.Observation,
		ErrorMsg:      o.ErrorMsg,
		ExecutionTime: o.ExecutionTime,
	}
}

func (r *observationRecord) toDomain() *domain.Observation {
	return &domain.Observation{
		ID:            r.ID,
		ResultID:      r.ResultID,
		LineIndex:     r.LineIndex,
		Score:         r.Score,
		Observation:   r.Observation,
		ErrorMsg:      r.ErrorMsg,
		ExecutionTime: r.ExecutionTime,
		UpdatedAt:     r.UpdatedAt,
	}
}

// allRecords lists every table managed by Migrate.
func allRecords() []any {
	return []any{
		&datasetRecord{},
		&modelRecord{},
		&experimentRecord{},
		&resultRecord{},
		&answerRecord{},
		&observationRecord{},
	}
}
