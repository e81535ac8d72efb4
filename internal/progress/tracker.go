// Package progress maintains the attempt and success counters of experiments
// and results and detects when a stage is complete.
//
// Counters change only through the store's atomic increment-and-return.
// Every threshold comparison is made against a fresh read, and completion is
// written with compare-and-set, so when many workers finish lines at once the
// terminal transition happens once and only its winner announces it.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/pkg/events"
)

const source = "progress"

// Tracker updates counters and performs completion transitions.
type Tracker struct {
	store  store.Store
	sink   events.EventSink
	logger *slog.Logger
}

// New creates a tracker. A nil sink disables events.
func New(s store.Store, sink events.EventSink) *Tracker {
	if sink == nil {
		sink = events.NewNoOpEventSink()
	}
	return &Tracker{
		store:  s,
		sink:   sink,
		logger: slog.Default().With("component", "progress"),
	}
}

// RecordAnswer counts one answer attempt and returns the updated experiment.
func (t *Tracker) RecordAnswer(ctx context.Context, experimentID int64, success bool) (*domain.Experiment, error) {
	exp, err := t.store.IncrementExperiment(ctx, experimentID, success)
	if err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	return exp, nil
}

// AnswersComplete reports whether every expected line of the experiment has
// been attempted, reading the counter fresh from the store.
func (t *Tracker) AnswersComplete(ctx context.Context, experimentID int64, expectedTotal int) (bool, error) {
	exp, err := t.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return false, err
	}
	return exp.NumTry >= expectedTotal, nil
}

// RecordObservation counts one observation attempt and returns the updated
// result.
func (t *Tracker) RecordObservation(ctx context.Context, resultID int64, success bool) (*domain.Result, error) {
	res, err := t.store.IncrementResult(ctx, resultID, success)
	if err != nil {
		return nil, fmt.Errorf("record observation: %w", err)
	}
	return res, nil
}

// CheckResult finishes the result once its fresh num_try reaches
// expectedTotal, then tries to finish the parent experiment. It reports
// whether the result is finished, by this call or an earlier one.
func (t *Tracker) CheckResult(ctx context.Context, resultID int64, expectedTotal int) (bool, error) {
	res, err := t.store.GetResult(ctx, resultID)
	if err != nil {
		return false, err
	}
	if res.Status != domain.ResultFinished {
		if res.NumTry < expectedTotal {
			return false, nil
		}
		won, err := t.store.FinishResult(ctx, resultID)
		if err != nil {
			return false, err
		}
		if won {
			t.logger.Info("result finished",
				"result_id", res.ID, "experiment_id", res.ExperimentID,
				"metric", res.MetricName, "num_try", res.NumTry, "num_success", res.NumSuccess)
			t.emit(ctx, events.TypeResultFinished, "result:"+strconv.FormatInt(res.ID, 10), resultFinished{
				ResultID:     res.ID,
				ExperimentID: res.ExperimentID,
				MetricName:   res.MetricName,
				NumTry:       res.NumTry,
				NumSuccess:   res.NumSuccess,
			})
		}
	}

	if _, err := t.CheckExperiment(ctx, res.ExperimentID); err != nil {
		return true, err
	}
	return true, nil
}

// CheckExperiment finishes the experiment when every result it owns is
// finished. It reports whether this call performed the transition.
func (t *Tracker) CheckExperiment(ctx context.Context, experimentID int64) (bool, error) {
	won, err := t.store.FinishExperiment(ctx, experimentID)
	if err != nil || !won {
		return false, err
	}

	exp, err := t.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return true, err
	}
	t.logger.Info("experiment finished",
		"experiment_id", exp.ID, "num_try", exp.NumTry, "num_success", exp.NumSuccess)
	t.emit(ctx, events.TypeExperimentFinished, "experiment:"+strconv.FormatInt(exp.ID, 10), experimentFinished{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		NumTry:       exp.NumTry,
		NumSuccess:   exp.NumSuccess,
		Results:      len(exp.ResultIDs),
	})
	return true, nil
}

type resultFinished struct {
	ResultID     int64  `json:"result_id"`
	ExperimentID int64  `json:"experiment_id"`
	MetricName   string `json:"metric_name"`
	NumTry       int    `json:"num_try"`
	NumSuccess   int    `json:"num_success"`
}

type experimentFinished struct {
	ExperimentID int64  `json:"experiment_id"`
	Name         string `json:"name"`
	NumTry       int    `json:"num_try"`
	NumSuccess   int    `json:"num_success"`
	Results      int    `json:"results"`
}

// emit is best effort: a failing sink is logged and never fails the caller.
func (t *Tracker) emit(ctx context.Context, eventType, key string, payload any) {
	env, err := events.NewEnvelope(eventType, source, key, payload)
	if err == nil {
		err = t.sink.Append(ctx, env)
	}
	if err != nil {
		t.logger.Warn("failed to emit event", "event_type", eventType, "key", key, "error", err)
	}
}
