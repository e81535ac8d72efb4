package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// GetExperiment loads an experiment together with the ids of its Results.
func (s *Gorm) GetExperiment(ctx context.Context, id int64) (*domain.Experiment, error) {
	var rec experimentRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "get experiment %d", id)
	}
	exp := rec.toDomain()

	if err := s.db.WithContext(ctx).Model(&resultRecord{}).
		Where("experiment_id = ?", id).Order("id").
		Pluck("id", &exp.ResultIDs).Error; err != nil {
		return nil, fmt.Errorf("list results of experiment %d: %w", id, err)
	}
	return exp, nil
}

// ListExperiments returns the experiments in any of statuses, or all of them
// when no status is given. Result ids are not populated.
func (s *Gorm) ListExperiments(ctx context.Context, statuses ...domain.ExperimentStatus) ([]*domain.Experiment, error) {
	q := s.db.WithContext(ctx).Order("id")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var recs []experimentRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	out := make([]*domain.Experiment, len(recs))
	for i := range recs {
		out[i] = recs[i].toDomain()
	}
	return out, nil
}

// CreateExperiment inserts the experiment and its Results in one transaction.
func (s *Gorm) CreateExperiment(ctx context.Context, exp *domain.Experiment, results []*domain.Result) error {
	if exp.Status == "" {
		exp.Status = domain.ExperimentPending
	}
	if err := exp.Validate(); err != nil {
		return fmt.Errorf("invalid experiment: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := experimentRecord{
			Name:       exp.Name,
			Status:     string(exp.Status),
			DatasetID:  exp.DatasetID,
			ModelID:    exp.ModelID,
			JudgeModel: exp.JudgeModel,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create experiment: %w", err)
		}
		exp.ID = rec.ID
		exp.CreatedAt = rec.CreatedAt
		exp.UpdatedAt = rec.UpdatedAt
		exp.ResultIDs = exp.ResultIDs[:0]

		for _, r := range results {
			r.ExperimentID = exp.ID
			if r.Status == "" {
				r.Status = domain.ResultPending
			}
			if err := r.Validate(); err != nil {
				return fmt.Errorf("invalid result %q: %w", r.MetricName, err)
			}
			rr := resultRecord{
				ExperimentID: r.ExperimentID,
				MetricName:   r.MetricName,
				MetricParams: r.MetricParams,
				Status:       string(r.Status),
			}
			if err := tx.Create(&rr).Error; err != nil {
				return fmt.Errorf("create result %q: %w", r.MetricName, err)
			}
			r.ID = rr.ID
			r.CreatedAt = rr.CreatedAt
			r.UpdatedAt = rr.UpdatedAt
			exp.ResultIDs = append(exp.ResultIDs, rr.ID)
		}
		return nil
	})
}

// SetExperimentStatus writes status unconditionally.
func (s *Gorm) SetExperimentStatus(ctx context.Context, id int64, status domain.ExperimentStatus) error {
	res := s.db.WithContext(ctx).Model(&experimentRecord{}).
		Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("set experiment %d status %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.experimentExists(ctx, id)
	}
	return nil
}

// ClaimExperiment implements ExperimentStore.
func (s *Gorm) ClaimExperiment(ctx context.Context, id int64, status domain.ExperimentStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&experimentRecord{}).
		Where("id = ? AND status <> ?", id, string(status)).
		Update("status", string(status))
	if res.Error != nil {
		return false, fmt.Errorf("claim experiment %d for %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, s.experimentExists(ctx, id)
	}
	return true, nil
}

// FinishExperiment implements ExperimentStore.
func (s *Gorm) FinishExperiment(ctx context.Context, id int64) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&resultRecord{}).
			Where("experiment_id = ? AND status <> ?", id, string(domain.ResultFinished)).
			Count(&open).Error; err != nil {
			return fmt.Errorf("count open results: %w", err)
		}
		if open > 0 {
			return nil
		}
		res := tx.Model(&experimentRecord{}).
			Where("id = ? AND status <> ?", id, string(domain.ExperimentFinished)).
			Update("status", string(domain.ExperimentFinished))
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finish experiment %d: %w", id, err)
	}
	return changed, nil
}

// RebaseExperiment implements ExperimentStore.
func (s *Gorm) RebaseExperiment(ctx context.Context, id int64) (domain.Counts, error) {
	counts, err := s.CountAnswers(ctx, id)
	if err != nil {
		return domain.Counts{}, err
	}
	counts.NumTry = counts.NumSuccess

	res := s.db.WithContext(ctx).Model(&experimentRecord{}).Where("id = ?", id).
		Updates(map[string]any{"num_try": counts.NumTry, "num_success": counts.NumSuccess})
	if res.Error != nil {
		return domain.Counts{}, fmt.Errorf("rebase experiment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Counts{}, s.experimentExists(ctx, id)
	}
	return counts, nil
}

// IncrementExperiment implements ExperimentStore.
func (s *Gorm) IncrementExperiment(ctx context.Context, id int64, success bool) (*domain.Experiment, error) {
	var rec experimentRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&experimentRecord{}).Where("id = ?", id).
			Updates(map[string]any{
				"num_try":     gorm.Expr("num_try + 1"),
				"num_success": gorm.Expr("num_success + ?", boolToInt(success)),
			})
		if res.Error != nil {
			return res.Error
		}
		return tx.First(&rec, id).Error
	})
	if err != nil {
		return nil, notFound(err, "increment experiment %d", id)
	}
	return rec.toDomain(), nil
}

func (s *Gorm) experimentExists(ctx context.Context, id int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&experimentRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup experiment %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("experiment %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
