// Package dispatch computes the outstanding work of an experiment stage and
// enqueues one task per outstanding item.
//
// A stage is claimed with a compare-and-set on the experiment (answers) or on
// each result (observations) before anything is emitted, so concurrent or
// repeated dispatches of the same stage enqueue the outstanding set once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/progress"
	"github.com/ahrav/go-evalrun/internal/store"
)

// Claim jitter defaults.
const (
	DefaultJitterMin = 50 * time.Millisecond
	DefaultJitterMax = 500 * time.Millisecond
)

// ErrNoModel indicates an answers dispatch for an experiment without a
// generation model.
var ErrNoModel = errors.New("experiment has no generation model")

// Sender enqueues tasks.
type Sender interface {
	Send(ctx context.Context, task domain.Task) error
}

// Config tunes the dispatcher.
type Config struct {
	// JitterMin and JitterMax bound the random wait before each result
	// claim. A zero JitterMax disables the wait.
	JitterMin time.Duration `yaml:"jitter_min" validate:"gte=0"`
	JitterMax time.Duration `yaml:"jitter_max" validate:"gte=0,gtefield=JitterMin"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{JitterMin: DefaultJitterMin, JitterMax: DefaultJitterMax}
}

// Dispatcher enqueues the outstanding tasks of experiment stages.
type Dispatcher struct {
	store   store.Store
	sender  Sender
	tracker *progress.Tracker
	cfg     Config
	logger  *slog.Logger
}

// New creates a dispatcher.
func New(s store.Store, sender Sender, tracker *progress.Tracker, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:   s,
		sender:  sender,
		tracker: tracker,
		cfg:     cfg,
		logger:  slog.Default().With("component", "dispatch"),
	}
}

// Dispatch enqueues the outstanding tasks of one stage of an experiment and
// returns how many were sent. A stage owned by a concurrent or earlier
// dispatch enqueues nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, experimentID int64, stage domain.Stage) (int, error) {
	switch stage {
	case domain.StageAnswers:
		return d.dispatchAnswers(ctx, experimentID)
	case domain.StageObservations:
		return d.dispatchObservations(ctx, experimentID)
	default:
		return 0, fmt.Errorf("dispatch %q: %w", stage, domain.ErrUnknownStage)
	}
}

// Start launches a newly created experiment. With a model the answers stage
// is dispatched; otherwise answers are seeded from the dataset output column
// and the observations stage is dispatched.
func (d *Dispatcher) Start(ctx context.Context, experimentID int64) (int, error) {
	exp, err := d.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return 0, err
	}
	if exp.HasModel() {
		return d.Dispatch(ctx, experimentID, domain.StageAnswers)
	}

	ds, err := d.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}
	seeded := 0
	for _, line := range ds.Lines() {
		row, err := ds.Row(line)
		if err != nil {
			return 0, err
		}
		output, ok := domain.RowString(row, "output")
		if !ok {
			continue
		}
		if err := d.store.UpsertAnswer(ctx, &domain.Answer{
			ExperimentID: experimentID,
			LineIndex:    line,
			Answer:       &output,
		}); err != nil {
			return 0, err
		}
		seeded++
	}
	if _, err := d.store.RebaseExperiment(ctx, experimentID); err != nil {
		return 0, err
	}
	d.logger.Info("answers seeded from dataset", "experiment_id", experimentID, "answers", seeded)

	return d.Dispatch(ctx, experimentID, domain.StageObservations)
}

func (d *Dispatcher) dispatchAnswers(ctx context.Context, experimentID int64) (int, error) {
	exp, err := d.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return 0, err
	}
	if !exp.HasModel() {
		return 0, fmt.Errorf("dispatch answers of experiment %d: %w", experimentID, ErrNoModel)
	}

	claimed, err := d.store.ClaimExperiment(ctx, experimentID, domain.ExperimentRunningAnswers)
	if err != nil {
		return 0, err
	}
	if !claimed {
		d.logger.Info("answers stage already claimed", "experiment_id", experimentID)
		return 0, nil
	}
	if _, err := d.store.RebaseExperiment(ctx, experimentID); err != nil {
		return 0, err
	}

	ds, err := d.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}
	answers, err := d.answersByLine(ctx, experimentID)
	if err != nil {
		return 0, err
	}

	var (
		tasks []domain.Task
		stale []int
	)
	for _, line := range ds.Lines() {
		a := answers[line]
		if a != nil && a.Succeeded() {
			continue
		}
		if a != nil && a.ErrorMsg != nil {
			stale = append(stale, line)
		}
		row, err := ds.Row(line)
		if err != nil {
			return 0, err
		}
		query, _ := domain.RowString(row, "query")
		tasks = append(tasks, domain.GenerateAnswer{
			ExperimentID:      experimentID,
			ModelID:           *exp.ModelID,
			LineIndex:         line,
			Query:             query,
			FollowObservation: true,
		})
	}

	if err := d.store.ClearAnswerErrors(ctx, experimentID, stale); err != nil {
		return 0, err
	}
	if err := d.send(ctx, tasks); err != nil {
		return 0, err
	}
	d.logger.Info("answers dispatched", "experiment_id", experimentID, "tasks", len(tasks))

	if len(tasks) == 0 {
		return d.dispatchObservations(ctx, experimentID)
	}
	return len(tasks), nil
}

func (d *Dispatcher) dispatchObservations(ctx context.Context, experimentID int64) (int, error) {
	exp, err := d.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return 0, err
	}
	answers, err := d.answersByLine(ctx, experimentID)
	if err != nil {
		return 0, err
	}
	if len(answers) == 0 {
		return 0, fmt.Errorf("experiment %d: %w", experimentID, domain.ErrNoAnswers)
	}

	results, err := d.store.ListResults(ctx, experimentID)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		_, err := d.tracker.CheckExperiment(ctx, experimentID)
		return 0, err
	}

	ds, err := d.store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return 0, err
	}
	lines := ds.Lines()

	var claimed []*domain.Result
	for _, r := range results {
		// A finished result is only reopened when some line lacks a score.
		if r.Status == domain.ResultFinished {
			obs, err := d.observationsByLine(ctx, r.ID)
			if err != nil {
				return 0, err
			}
			if outstanding(obs, lines) == 0 {
				continue
			}
		}
		if err := d.jitter(ctx); err != nil {
			return 0, err
		}
		ok, err := d.store.ClaimResult(ctx, r.ID)
		if err != nil {
			return 0, err
		}
		if !ok {
			d.logger.Info("result already claimed", "experiment_id", experimentID, "result_id", r.ID)
			continue
		}
		if _, err := d.store.RebaseResult(ctx, r.ID); err != nil {
			return 0, err
		}
		claimed = append(claimed, r)
	}
	if len(claimed) == 0 {
		return 0, nil
	}
	if err := d.store.SetExperimentStatus(ctx, experimentID, domain.ExperimentRunningMetrics); err != nil {
		return 0, err
	}

	observations := make(map[int64]map[int]*domain.Observation, len(claimed))
	for _, r := range claimed {
		if observations[r.ID], err = d.observationsByLine(ctx, r.ID); err != nil {
			return 0, err
		}
	}

	var tasks []domain.Task
	stale := make(map[int64][]int)
	emitted := make(map[int64]int)
	for _, line := range lines {
		row, err := ds.Row(line)
		if err != nil {
			return 0, err
		}
		output := OutputFor(answers[line], row)
		outputTrue := optionalString(row, "output_true")

		for _, r := range claimed {
			o := observations[r.ID][line]
			if o != nil && o.Succeeded() {
				continue
			}
			if o != nil && o.ErrorMsg != nil {
				stale[r.ID] = append(stale[r.ID], line)
			}
			tasks = append(tasks, domain.ComputeObservation{
				ExperimentID: experimentID,
				ResultID:     r.ID,
				LineIndex:    line,
				MetricName:   r.MetricName,
				Output:       output,
				OutputTrue:   outputTrue,
			})
			emitted[r.ID]++
		}
	}

	for id, staleLines := range stale {
		if err := d.store.ClearObservationErrors(ctx, id, staleLines); err != nil {
			return 0, err
		}
	}
	if err := d.send(ctx, tasks); err != nil {
		return 0, err
	}
	d.logger.Info("observations dispatched",
		"experiment_id", experimentID, "results", len(claimed), "tasks", len(tasks))

	// A claimed result with nothing outstanding would otherwise stay running.
	for _, r := range claimed {
		if emitted[r.ID] > 0 {
			continue
		}
		if _, err := d.tracker.CheckResult(ctx, r.ID, ds.ExpectedTotal()); err != nil {
			return len(tasks), err
		}
	}
	return len(tasks), nil
}

// outstanding counts the lines without a successful observation.
func outstanding(obs map[int]*domain.Observation, lines []int) int {
	n := 0
	for _, line := range lines {
		if o := obs[line]; o == nil || !o.Succeeded() {
			n++
		}
	}
	return n
}

func (d *Dispatcher) send(ctx context.Context, tasks []domain.Task) error {
	for _, t := range tasks {
		if err := d.sender.Send(ctx, t); err != nil {
			return fmt.Errorf("send %s task: %w", t.TaskKind(), err)
		}
	}
	return nil
}

func (d *Dispatcher) jitter(ctx context.Context) error {
	if d.cfg.JitterMax <= 0 {
		return nil
	}
	wait := d.cfg.JitterMin
	if span := d.cfg.JitterMax - d.cfg.JitterMin; span > 0 {
		wait += rand.N(span)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) answersByLine(ctx context.Context, experimentID int64) (map[int]*domain.Answer, error) {
	answers, err := d.store.ListAnswers(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	byLine := make(map[int]*domain.Answer, len(answers))
	for _, a := range answers {
		byLine[a.LineIndex] = a
	}
	return byLine, nil
}

func (d *Dispatcher) observationsByLine(ctx context.Context, resultID int64) (map[int]*domain.Observation, error) {
	obs, err := d.store.ListObservations(ctx, resultID)
	if err != nil {
		return nil, err
	}
	byLine := make(map[int]*domain.Observation, len(obs))
	for _, o := range obs {
		byLine[o.LineIndex] = o
	}
	return byLine, nil
}

// OutputFor returns the output scored for a line: the generated answer when
// there is one, else the dataset output column.
func OutputFor(a *domain.Answer, row map[string]any) *string {
	if a != nil && a.Answer != nil {
		out := *a.Answer
		return &out
	}
	return optionalString(row, "output")
}

func optionalString(row map[string]any, column string) *string {
	s, ok := domain.RowString(row, column)
	if !ok {
		return nil
	}
	return &s
}
