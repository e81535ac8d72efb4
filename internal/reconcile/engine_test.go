package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/dispatch"
	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/progress"
	"github.com/ahrav/go-evalrun/internal/queue"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/internal/store/storetest"
	"github.com/ahrav/go-evalrun/pkg/events"
)

type harness struct {
	store  *store.Gorm
	queue  *queue.Memory
	sink   *events.MemorySink
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storetest.Open(t)
	q := queue.NewMemory()
	t.Cleanup(func() { _ = q.Close() })
	sink := &events.MemorySink{}
	tracker := progress.New(s, sink)
	d := dispatch.New(s, q, tracker, dispatch.Config{})
	return &harness{store: s, queue: q, sink: sink, engine: New(s, q, d, tracker)}
}

func (h *harness) drain(t *testing.T) []domain.Task {
	t.Helper()
	var tasks []domain.Task
	for {
		task, err := h.queue.Receive(context.Background(), 10*time.Millisecond)
		if errors.Is(err, queue.ErrNoTask) {
			return tasks
		}
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
}

// setExperiment drives the experiment counters to (try, success) and sets
// status.
func setExperiment(t *testing.T, s store.Store, id int64, status domain.ExperimentStatus, try, success int) {
	t.Helper()
	ctx := context.Background()
	for i := range try {
		_, err := s.IncrementExperiment(ctx, id, i < success)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetExperimentStatus(ctx, id, status))
}

func setResult(t *testing.T, s store.Store, id int64, status domain.ResultStatus, try, success int) {
	t.Helper()
	ctx := context.Background()
	for i := range try {
		_, err := s.IncrementResult(ctx, id, i < success)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetResultStatus(ctx, id, status))
}

func str(s string) *string { return &s }

func TestRetry_Answers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 4, WithModel: true, Metrics: []string{"m"}})
	id := seed.Experiment.ID
	storetest.Answer(t, h.store, id, 0, "ok")
	storetest.FailedAnswer(t, h.store, id, 1, "rate limited")
	setExperiment(t, h.store, id, domain.ExperimentFinished, 4, 1)

	report, err := h.engine.Retry(ctx, domain.RetrySet{ExperimentIDs: []int64{id}, UnfinishedExperimentIDs: []int64{id}})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{id: 3}, report.Answers)
	assert.Equal(t, 3, report.Total())

	var lines []int
	for _, task := range h.drain(t) {
		ga, ok := task.(domain.GenerateAnswer)
		require.True(t, ok)
		assert.True(t, ga.FollowObservation)
		assert.Equal(t, seed.Model.ID, ga.ModelID)
		lines = append(lines, ga.LineIndex)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, lines)

	exp, err := h.store.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentRunningAnswers, exp.Status)
	assert.Equal(t, domain.Counts{NumTry: 1, NumSuccess: 1}, exp.Counts)

	a, err := h.store.GetAnswer(ctx, id, 1)
	require.NoError(t, err)
	assert.Nil(t, a.ErrorMsg)
}

func TestRetry_AnswersCompleteFollowsObservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 2, WithModel: true, Metrics: []string{"m"}})
	id := seed.Experiment.ID
	storetest.Answer(t, h.store, id, 0, "a")
	storetest.Answer(t, h.store, id, 1, "b")

	report, err := h.engine.Retry(ctx, domain.RetrySet{ExperimentIDs: []int64{id}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Answers[id])

	tasks := h.drain(t)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, domain.StageObservations, task.TaskKind())
	}
}

func TestRetry_ExperimentWithoutModel(t *testing.T) {
	t.Run("answers present dispatch observations", func(t *testing.T) {
		h := newHarness(t)
		seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 1, Metrics: []string{"m"}})
		storetest.Answer(t, h.store, seed.Experiment.ID, 0, "o0")

		_, err := h.engine.Retry(context.Background(), domain.RetrySet{ExperimentIDs: []int64{seed.Experiment.ID}})
		require.NoError(t, err)
		assert.Len(t, h.drain(t), 1)
	})

	t.Run("no answers is not an error", func(t *testing.T) {
		h := newHarness(t)
		seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 1, Metrics: []string{"m"}})

		report, err := h.engine.Retry(context.Background(), domain.RetrySet{ExperimentIDs: []int64{seed.Experiment.ID}})
		require.NoError(t, err)
		assert.Zero(t, report.Total())
		assert.Empty(t, h.drain(t))
	})
}

func TestRetry_Observations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 3, Metrics: []string{"m"}})
	id := seed.Experiment.ID
	r := seed.Results[0]
	storetest.Answer(t, h.store, id, 0, "generated")
	storetest.FailedObservation(t, h.store, r.ID, 0, "judge down")
	storetest.Observation(t, h.store, r.ID, 1, 0.5)
	setExperiment(t, h.store, id, domain.ExperimentFinished, 0, 0)
	setResult(t, h.store, r.ID, domain.ResultFinished, 3, 1)

	report, err := h.engine.Retry(ctx, domain.RetrySet{ResultIDs: []int64{r.ID}})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{r.ID: 2}, report.Observations)

	want := []domain.Task{
		domain.ComputeObservation{ExperimentID: id, ResultID: r.ID, LineIndex: 0, MetricName: "m", Output: str("generated"), OutputTrue: str("t0")},
		domain.ComputeObservation{ExperimentID: id, ResultID: r.ID, LineIndex: 2, MetricName: "m", Output: str("o2"), OutputTrue: str("t2")},
	}
	assert.ElementsMatch(t, want, h.drain(t))

	res, err := h.store.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultRunning, res.Status)
	assert.Equal(t, domain.Counts{NumTry: 1, NumSuccess: 1}, res.Counts)

	exp, err := h.store.GetExperiment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentRunningMetrics, exp.Status)

	obs, err := h.store.GetObservation(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, obs.ErrorMsg)
}

func TestRetry_CompleteResultFinishesExperiment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 1, Metrics: []string{"m"}})
	r := seed.Results[0]
	storetest.Observation(t, h.store, r.ID, 0, 1)

	report, err := h.engine.Retry(ctx, domain.RetrySet{UnfinishedResultIDs: []int64{r.ID}})
	require.NoError(t, err)
	assert.Zero(t, report.Total())

	res, err := h.store.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFinished, res.Status)

	exp, err := h.store.GetExperiment(ctx, seed.Experiment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentFinished, exp.Status)
	assert.Len(t, h.sink.OfType(events.TypeExperimentFinished), 1)
}

func TestRetry_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Retry(ctx, domain.RetrySet{ExperimentIDs: []int64{-1}})
	assert.ErrorIs(t, err, domain.ErrInvalidTask)

	_, err = h.engine.Retry(ctx, domain.RetrySet{ExperimentIDs: []int64{404}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.engine.Retry(ctx, domain.RetrySet{ResultIDs: []int64{404}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fixture := storetest.Fixture{Lines: 2, WithModel: true, Metrics: []string{"m"}}

	failed := storetest.Seed(t, h.store, fixture)
	setExperiment(t, h.store, failed.Experiment.ID, domain.ExperimentFinished, 2, 1)
	setResult(t, h.store, failed.Results[0].ID, domain.ResultFinished, 2, 1)

	stalledAnswers := storetest.Seed(t, h.store, fixture)
	setExperiment(t, h.store, stalledAnswers.Experiment.ID, domain.ExperimentRunningAnswers, 1, 1)

	stalledMetrics := storetest.Seed(t, h.store, fixture)
	setExperiment(t, h.store, stalledMetrics.Experiment.ID, domain.ExperimentRunningMetrics, 2, 2)
	setResult(t, h.store, stalledMetrics.Results[0].ID, domain.ResultRunning, 1, 1)

	healthy := storetest.Seed(t, h.store, fixture)
	setExperiment(t, h.store, healthy.Experiment.ID, domain.ExperimentFinished, 2, 2)
	setResult(t, h.store, healthy.Results[0].ID, domain.ResultFinished, 2, 2)

	set, err := h.engine.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RetrySet{
		ExperimentIDs:           []int64{failed.Experiment.ID},
		ResultIDs:               []int64{failed.Results[0].ID},
		UnfinishedExperimentIDs: []int64{stalledAnswers.Experiment.ID},
		UnfinishedResultIDs:     []int64{stalledMetrics.Results[0].ID},
	}, set)
}

func TestScan_Empty(t *testing.T) {
	h := newHarness(t)
	set, err := h.engine.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}
