package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetrySet_Merge(t *testing.T) {
	a := RetrySet{ExperimentIDs: []int64{1, 2}, UnfinishedResultIDs: []int64{7}}
	b := RetrySet{ExperimentIDs: []int64{2, 3}, ResultIDs: []int64{5}}

	assert.Equal(t, RetrySet{
		ExperimentIDs:       []int64{1, 2, 3},
		ResultIDs:           []int64{5},
		UnfinishedResultIDs: []int64{7},
	}, a.Merge(b))
	empty := RetrySet{}.Merge(RetrySet{})
	assert.True(t, empty.IsEmpty())
}

func TestReconcileRequest(t *testing.T) {
	t.Run("zero timeout selects the default", func(t *testing.T) {
		req := ReconcileRequest{Scan: true}
		assert.NoError(t, req.Validate())
		assert.Equal(t, DefaultReconcileTimeoutSeconds, req.ActivityTimeout())
	})

	t.Run("explicit timeout wins", func(t *testing.T) {
		req := ReconcileRequest{TimeoutSeconds: 30}
		assert.Equal(t, 30, req.ActivityTimeout())
	})

	t.Run("invalid ids in the nested set are rejected", func(t *testing.T) {
		req := ReconcileRequest{RetrySet: RetrySet{ExperimentIDs: []int64{-1}}}
		assert.Error(t, req.Validate())
	})

	t.Run("negative timeout is rejected", func(t *testing.T) {
		req := ReconcileRequest{TimeoutSeconds: -5}
		assert.Error(t, req.Validate())
	})
}
