package domain

import (
	"encoding/json"
	"fmt"
)

// Stage is one phase of an experiment run. It doubles as the wire message
// type of the task that executes work for that phase.
type Stage string

const (
	// StageAnswers generates one answer per dataset line.
	StageAnswers Stage = "answers"

	// StageObservations computes every metric on every generated answer.
	StageObservations Stage = "observations"
)

// ParseStage converts a stage name, rejecting anything but the two known stages.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageAnswers, StageObservations:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownStage)
	}
}

// Task is a unit of work carried by the transport. The set of
// implementations is closed: GenerateAnswer and ComputeObservation.
type Task interface {
	// TaskKind returns the stage the task belongs to.
	TaskKind() Stage
	// Validate checks the task's required fields.
	Validate() error

	isTask()
}

// GenerateAnswer asks a worker to produce the answer for one dataset line.
type GenerateAnswer struct {
	ExperimentID int64 `validate:"gt=0"`
	ModelID      int64 `validate:"gt=0"`
	LineIndex    int   `validate:"gte=0"`
	Query        string

	// FollowObservation triggers the observation stage once the last answer
	// of the experiment has been attempted.
	FollowObservation bool
}

// TaskKind implements Task.
func (GenerateAnswer) TaskKind() Stage { return StageAnswers }

// Validate implements Task.
func (t GenerateAnswer) Validate() error { return validate.Struct(t) }

func (GenerateAnswer) isTask() {}

// ComputeObservation asks a worker to score one line with one metric.
type ComputeObservation struct {
	ExperimentID int64 `validate:"gt=0"`

	// ResultID is optional; when zero the worker resolves the Result by
	// (ExperimentID, MetricName).
	ResultID   int64  `validate:"gte=0"`
	LineIndex  int    `validate:"gte=0"`
	MetricName string `validate:"required"`
	Output     *string
	OutputTrue *string
}

// TaskKind implements Task.
func (ComputeObservation) TaskKind() Stage { return StageObservations }

// Validate implements Task.
func (t ComputeObservation) Validate() error { return validate.Struct(t) }

func (ComputeObservation) isTask() {}

type answerMessage struct {
	MessageType       Stage  `json:"message_type"`
	ExpID             int64  `json:"exp_id"`
	ModelID           int64  `json:"model_id"`
	LineID            int    `json:"line_id"`
	Query             string `json:"query"`
	FollowObservation *bool  `json:"follow_observation,omitempty"`
}

type observationMessage struct {
	MessageType Stage   `json:"message_type"`
	ExpID       int64   `json:"exp_id"`
	LineID      int     `json:"line_id"`
	MetricName  string  `json:"metric_name"`
	Output      *string `json:"output"`
	OutputTrue  *string `json:"output_true"`
	ResultID    int64   `json:"result_id,omitempty"`
}

// EncodeTask serializes a task to its JSON wire form.
func EncodeTask(t Task) ([]byte, error) {
	switch task := t.(type) {
	case GenerateAnswer:
		msg := answerMessage{
			MessageType: StageAnswers,
			ExpID:       task.ExperimentID,
			ModelID:     task.ModelID,
			LineID:      task.LineIndex,
			Query:       task.Query,
		}
		if !task.FollowObservation {
			follow := false
			msg.FollowObservation = &follow
		}
		return json.Marshal(msg)
	case ComputeObservation:
		return json.Marshal(observationMessage{
			MessageType: StageObservations,
			ExpID:       task.ExperimentID,
			LineID:      task.LineIndex,
			MetricName:  task.MetricName,
			Output:      task.Output,
			OutputTrue:  task.OutputTrue,
			ResultID:    task.ResultID,
		})
	default:
		return nil, fmt.Errorf("%T: %w", t, ErrUnknownMessageType)
	}
}

// DecodeTask parses a JSON wire message. An unrecognized message_type
// returns an error wrapping ErrUnknownMessageType.
func DecodeTask(data []byte) (Task, error) {
	var head struct {
		MessageType string `json:"message_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode task header: %w", err)
	}

	switch Stage(head.MessageType) {
	case StageAnswers:
		var msg answerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode answers task: %w", err)
		}
		task := GenerateAnswer{
			ExperimentID:      msg.ExpID,
			ModelID:           msg.ModelID,
			LineIndex:         msg.LineID,
			Query:             msg.Query,
			FollowObservation: msg.FollowObservation == nil || *msg.FollowObservation,
		}
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		return task, nil
	case StageObservations:
		var msg observationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode observations task: %w", err)
		}
		task := ComputeObservation{
			ExperimentID: msg.ExpID,
			ResultID:     msg.ResultID,
			LineIndex:    msg.LineID,
			MetricName:   msg.MetricName,
			Output:       msg.Output,
			OutputTrue:   msg.OutputTrue,
		}
		if err := task.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		return task, nil
	default:
		return nil, fmt.Errorf("%q: %w", head.MessageType, ErrUnknownMessageType)
	}
}
