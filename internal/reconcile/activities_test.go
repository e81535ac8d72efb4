package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/store/storetest"
	"github.com/ahrav/go-evalrun/pkg/activity"
	"github.com/ahrav/go-evalrun/pkg/events"
)

func TestActivities(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}

	t.Run("retry emits a completion event", func(t *testing.T) {
		h := newHarness(t)
		seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 2, WithModel: true})
		sink := &events.MemorySink{}
		activities := NewActivities(activity.NewEmitter(sink), h.engine)

		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(activities.RetryEntities)

		val, err := env.ExecuteActivity(activities.RetryEntities,
			domain.RetrySet{UnfinishedExperimentIDs: []int64{seed.Experiment.ID}})
		require.NoError(t, err)

		var report Report
		require.NoError(t, val.Get(&report))
		assert.Equal(t, 2, report.Total())
		assert.Equal(t, 2, h.queue.Len())

		completed := sink.OfType(events.TypeReconcileCompleted)
		require.Len(t, completed, 1)
		assert.JSONEq(t, `{"experiments":1,"results":0,"tasks":2}`, string(completed[0].Payload))
	})

	t.Run("invalid retry set is not retried", func(t *testing.T) {
		h := newHarness(t)
		activities := NewActivities(activity.NewEmitter(nil), h.engine)

		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(activities.RetryEntities)

		_, err := env.ExecuteActivity(activities.RetryEntities, domain.RetrySet{ResultIDs: []int64{0}})
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "Validation", appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("missing entity is not retried", func(t *testing.T) {
		h := newHarness(t)
		activities := NewActivities(activity.NewEmitter(nil), h.engine)

		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(activities.RetryEntities)

		_, err := env.ExecuteActivity(activities.RetryEntities, domain.RetrySet{ResultIDs: []int64{404}})
		require.Error(t, err)

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "RetryEntities", appErr.Type())
		assert.True(t, appErr.NonRetryable())
	})

	t.Run("scan returns the retry set", func(t *testing.T) {
		h := newHarness(t)
		seed := storetest.Seed(t, h.store, storetest.Fixture{Lines: 2, WithModel: true})
		setExperiment(t, h.store, seed.Experiment.ID, domain.ExperimentRunningAnswers, 1, 0)
		activities := NewActivities(activity.NewEmitter(nil), h.engine)

		env := testSuite.NewTestActivityEnvironment()
		env.RegisterActivity(activities.ScanRetrySet)

		val, err := env.ExecuteActivity(activities.ScanRetrySet)
		require.NoError(t, err)

		var set domain.RetrySet
		require.NoError(t, val.Get(&set))
		assert.Equal(t, []int64{seed.Experiment.ID}, set.UnfinishedExperimentIDs)
	})
}
