package domain

// RetrySet is an explicit request describing which experiments and results
// need re-processing. Failed entities reached a terminal status with
// mismatched counters; unfinished entities attempted fewer lines than
// expected.
type RetrySet struct {
	ExperimentIDs           []int64 `json:"experiment_ids" validate:"omitempty,dive,gt=0"`
	ResultIDs               []int64 `json:"result_ids" validate:"omitempty,dive,gt=0"`
	UnfinishedExperimentIDs []int64 `json:"unfinished_experiment_ids" validate:"omitempty,dive,gt=0"`
	UnfinishedResultIDs     []int64 `json:"unfinished_result_ids" validate:"omitempty,dive,gt=0"`
}

// Validate checks that every listed id is positive.
func (r *RetrySet) Validate() error { return validate.Struct(r) }

// IsEmpty reports whether the set names no entity at all.
func (r *RetrySet) IsEmpty() bool {
	return len(r.ExperimentIDs) == 0 && len(r.ResultIDs) == 0 &&
		len(r.UnfinishedExperimentIDs) == 0 && len(r.UnfinishedResultIDs) == 0
}

// Experiments returns the union of failed and unfinished experiment ids,
// deduplicated, in first-seen order.
func (r *RetrySet) Experiments() []int64 {
	return unionIDs(r.ExperimentIDs, r.UnfinishedExperimentIDs)
}

// Results returns the union of failed and unfinished result ids,
// deduplicated, in first-seen order.
func (r *RetrySet) Results() []int64 {
	return unionIDs(r.ResultIDs, r.UnfinishedResultIDs)
}

// Merge returns the field by field union of r and o.
func (r RetrySet) Merge(o RetrySet) RetrySet {
	return RetrySet{
		ExperimentIDs:           unionIDs(r.ExperimentIDs, o.ExperimentIDs),
		ResultIDs:               unionIDs(r.ResultIDs, o.ResultIDs),
		UnfinishedExperimentIDs: unionIDs(r.UnfinishedExperimentIDs, o.UnfinishedExperimentIDs),
		UnfinishedResultIDs:     unionIDs(r.UnfinishedResultIDs, o.UnfinishedResultIDs),
	}
}

func unionIDs(lists ...[]int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// DefaultReconcileTimeoutSeconds bounds one reconcile activity when the
// request does not.
const DefaultReconcileTimeoutSeconds = 600

// ReconcileRequest is the input of the reconcile workflow. With Scan set, or
// with an empty RetrySet, the set is derived from the store.
type ReconcileRequest struct {
	RetrySet RetrySet `json:"retry_set"`
	Scan     bool     `json:"scan"`

	// TimeoutSeconds bounds each activity. Zero selects the default.
	TimeoutSeconds int `json:"timeout_seconds" validate:"gte=0"`
}

// Validate checks the request and its RetrySet.
func (r *ReconcileRequest) Validate() error { return validate.Struct(r) }

// ActivityTimeout returns the per-activity timeout in seconds.
func (r *ReconcileRequest) ActivityTimeout() int {
	if r.TimeoutSeconds > 0 {
		return r.TimeoutSeconds
	}
	return DefaultReconcileTimeoutSeconds
}
