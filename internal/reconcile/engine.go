// Package reconcile re-emits the outstanding work of failed or stalled
// experiments and results.
//
// The transport has no acknowledgement, so a task lost to a crashed worker is
// only recovered here. Retry rebases the counters of every listed entity on
// its rows and emits a task for every line that is errored, unscored or
// missing. Scan derives the RetrySet from the counters in the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahrav/go-evalrun/internal/dispatch"
	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/progress"
	"github.com/ahrav/go-evalrun/internal/store"
)

// Stager dispatches a whole stage of an experiment.
type Stager interface {
	Dispatch(ctx context.Context, experimentID int64, stage domain.Stage) (int, error)
}

// Report lists the tasks emitted per entity by Retry.
type Report struct {
	// Answers maps experiment ids to the GenerateAnswer tasks emitted.
	Answers map[int64]int `json:"answers"`

	// Observations maps result ids to the ComputeObservation tasks emitted.
	Observations map[int64]int `json:"observations"`
}

// Total returns the number of tasks emitted.
func (r *Report) Total() int {
	n := 0
	for _, v := range r.Answers {
		n += v
	}
	for _, v := range r.Observations {
		n += v
	}
	return n
}

// Engine performs retries.
type Engine struct {
	store   store.Store
	sender  dispatch.Sender
	stager  Stager
	tracker *progress.Tracker
	logger  *slog.Logger
}

// New creates an engine. stager runs the observations stage of experiments
// whose answers have nothing left to retry.
func New(s store.Store, sender dispatch.Sender, stager Stager, tracker *progress.Tracker) *Engine {
	return &Engine{
		store:   s,
		sender:  sender,
		stager:  stager,
		tracker: tracker,
		logger:  slog.Default().With("component", "reconcile"),
	}
}

// Retry re-emits the outstanding tasks of every entity in set.
func (e *Engine) Retry(ctx context.Context, set domain.RetrySet) (*Report, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTask, err)
	}

	report := &Report{Answers: map[int64]int{}, Observations: map[int64]int{}}
	for _, id := range set.Experiments() {
		n, err := e.retryAnswers(ctx, id)
		if err != nil {
			return report, fmt.Errorf("retry experiment %d: %w", id, err)
		}
		report.Answers[id] = n
	}
	for _, id := range set.Results() {
		n, err := e.retryObservations(ctx, id)
		if err != nil {
			return report, fmt.Errorf("retry result %d: %w", id, err)
		}
		report.Observations[id] = n
	}

	e.logger.Info("retry complete",
		"experiments", len(report.Answers), "results", len(report.Observations), "tasks", report.Total())
	return report, nil
}

func (e *Engine) retryAnswers(ctx context.Context, id int64) (int, error) {
	exp, err := e.store.GetExperiment(ctx, id)
	if err != nil {
		return 0, err
	}
	ds, err := e.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}

	if exp.HasModel() {
		if err := e.store.SetExperimentStatus(ctx, id, domain.ExperimentRunningAnswers); err != nil {
			return 0, err
		}
	}
	if _, err := e.store.RebaseExperiment(ctx, id); err != nil {
		return 0, err
	}
	if !exp.HasModel() {
		e.logger.Warn("experiment has no model, retrying observations only", "experiment_id", id)
		return 0, e.followObservations(ctx, id)
	}

	answers, err := e.store.ListAnswers(ctx, id)
	if err != nil {
		return 0, err
	}

	byLine := answersByLine(answers)
	var stale []int
	for _, a := range answers {
		if a.ErrorMsg != nil {
			stale = append(stale, a.LineIndex)
		}
	}

	var tasks []domain.Task
	for _, line := range ds.Lines() {
		if a := byLine[line]; a != nil && a.Succeeded() {
			continue
		}
		row, err := ds.Row(line)
		if err != nil {
			return 0, err
		}
		query, _ := domain.RowString(row, "query")
		tasks = append(tasks, domain.GenerateAnswer{
			ExperimentID:      id,
			ModelID:           *exp.ModelID,
			LineIndex:         line,
			Query:             query,
			FollowObservation: true,
		})
	}

	if err := e.store.ClearAnswerErrors(ctx, id, stale); err != nil {
		return 0, err
	}
	if err := e.send(ctx, tasks); err != nil {
		return 0, err
	}
	e.logger.Info("answers re-emitted", "experiment_id", id, "tasks", len(tasks))

	if len(tasks) == 0 {
		return 0, e.followObservations(ctx, id)
	}
	return len(tasks), nil
}

// followObservations starts the observations stage of an experiment whose
// answers need no further work.
func (e *Engine) followObservations(ctx context.Context, id int64) error {
	_, err := e.stager.Dispatch(ctx, id, domain.StageObservations)
	if errors.Is(err, domain.ErrNoAnswers) {
		e.logger.Warn("nothing to retry", "experiment_id", id, "error", err)
		return nil
	}
	return err
}

func (e *Engine) retryObservations(ctx context.Context, id int64) (int, error) {
	res, err := e.store.GetResult(ctx, id)
	if err != nil {
		return 0, err
	}
	exp, err := e.store.GetExperiment(ctx, res.ExperimentID)
	if err != nil {
		return 0, err
	}
	ds, err := e.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}

	if err := e.store.SetExperimentStatus(ctx, exp.ID, domain.ExperimentRunningMetrics); err != nil {
		return 0, err
	}
	if err := e.store.SetResultStatus(ctx, id, domain.ResultRunning); err != nil {
		return 0, err
	}
	if _, err := e.store.RebaseResult(ctx, id); err != nil {
		return 0, err
	}

	answers, err := e.store.ListAnswers(ctx, exp.ID)
	if err != nil {
		return 0, err
	}
	byLine := answersByLine(answers)
	observations, err := e.store.ListObservations(ctx, id)
	if err != nil {
		return 0, err
	}
	done := make(map[int]bool, len(observations))
	var stale []int
	for _, o := range observations {
		if o.Succeeded() {
			done[o.LineIndex] = true
			continue
		}
		if o.ErrorMsg != nil {
			stale = append(stale, o.LineIndex)
		}
	}

	var tasks []domain.Task
	for _, line := range ds.Lines() {
		if done[line] {
			continue
		}
		row, err := ds.Row(line)
		if err != nil {
			return 0, err
		}
		task := domain.ComputeObservation{
			ExperimentID: exp.ID,
			ResultID:     id,
			LineIndex:    line,
			MetricName:   res.MetricName,
			Output:       dispatch.OutputFor(byLine[line], row),
		}
		if v, ok := domain.RowString(row, "output_true"); ok {
			task.OutputTrue = &v
		}
		tasks = append(tasks, task)
	}

	if err := e.store.ClearObservationErrors(ctx, id, stale); err != nil {
		return 0, err
	}
	if err := e.send(ctx, tasks); err != nil {
		return 0, err
	}
	e.logger.Info("observations re-emitted", "experiment_id", exp.ID, "result_id", id, "tasks", len(tasks))

	if len(tasks) == 0 {
		if _, err := e.tracker.CheckResult(ctx, id, ds.ExpectedTotal()); err != nil {
			return 0, err
		}
	}
	if _, err := e.tracker.CheckExperiment(ctx, exp.ID); err != nil {
		return len(tasks), err
	}
	return len(tasks), nil
}

// Scan builds the RetrySet of the store's current state. A finished entity
// with fewer successes than expected lines is failed; a running entity with
// fewer attempts than expected lines is unfinished.
//
// Scan reads counters only. Run it when no worker is processing the listed
// entities, or their in-flight tasks will be emitted twice.
func (e *Engine) Scan(ctx context.Context) (domain.RetrySet, error) {
	var set domain.RetrySet
	expected := newExpectedTotals(e.store)

	experiments, err := e.store.ListExperiments(ctx,
		domain.ExperimentRunningAnswers, domain.ExperimentFinished)
	if err != nil {
		return set, err
	}
	for _, exp := range experiments {
		total, err := expected.forExperiment(ctx, exp)
		if err != nil {
			return set, err
		}
		switch {
		case exp.Status == domain.ExperimentFinished && exp.HasModel() && exp.NumSuccess < total:
			set.ExperimentIDs = append(set.ExperimentIDs, exp.ID)
		case exp.Status == domain.ExperimentRunningAnswers && exp.NumTry < total:
			set.UnfinishedExperimentIDs = append(set.UnfinishedExperimentIDs, exp.ID)
		}
	}

	results, err := e.store.ListResultsByStatus(ctx, domain.ResultRunning, domain.ResultFinished)
	if err != nil {
		return set, err
	}
	for _, r := range results {
		exp, err := expected.experiment(ctx, r.ExperimentID)
		if err != nil {
			return set, err
		}
		total, err := expected.forExperiment(ctx, exp)
		if err != nil {
			return set, err
		}
		switch {
		case r.Status == domain.ResultFinished && r.NumSuccess < total:
			set.ResultIDs = append(set.ResultIDs, r.ID)
		case r.Status == domain.ResultRunning && r.NumTry < total:
			set.UnfinishedResultIDs = append(set.UnfinishedResultIDs, r.ID)
		}
	}

	e.logger.Info("scan complete",
		"failed_experiments", len(set.ExperimentIDs),
		"unfinished_experiments", len(set.UnfinishedExperimentIDs),
		"failed_results", len(set.ResultIDs),
		"unfinished_results", len(set.UnfinishedResultIDs))
	return set, nil
}

func (e *Engine) send(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		if err := e.sender.Send(ctx, t); err != nil {
			return fmt.Errorf("send %s task: %w", t.TaskKind(), err)
		}
	}
	return nil
}

func answersByLine(answers []*domain.Answer) map[int]*domain.Answer {
	byLine := make(map[int]*domain.Answer, len(answers))
	for _, a := range answers {
		byLine[a.LineIndex] = a
	}
	return byLine
}

// expectedTotals caches experiments and dataset sizes during a scan.
type expectedTotals struct {
	store       store.Store
	experiments map[int64]*domain.Experiment
	datasets    map[int64]int
}

func newExpectedTotals(s store.Store) *expectedTotals {
	return &expectedTotals{
		store:       s,
		experiments: map[int64]*domain.Experiment{},
		datasets:    map[int64]int{},
	}
}

func (t *expectedTotals) experiment(ctx context.Context, id int64) (*domain.Experiment, error) {
	if exp, ok := t.experiments[id]; ok {
		return exp, nil
	}
	exp, err := t.store.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	t.experiments[id] = exp
	return exp, nil
}

func (t *expectedTotals) forExperiment(ctx context.Context, exp *domain.Experiment) (int, error) {
	if n, ok := t.datasets[exp.DatasetID]; ok {
		return n, nil
	}
	ds, err := t.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}
	t.datasets[exp.DatasetID] = ds.ExpectedTotal()
	return t.datasets[exp.DatasetID], nil
}
