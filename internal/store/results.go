package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// GetResult loads a Result by id.
func (s *Gorm) GetResult(ctx context.Context, id int64) (*domain.Result, error) {
	var rec resultRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "get result %d", id)
	}
	return rec.toDomain(), nil
}

// FindResult loads the Result of an experiment for one metric.
func (s *Gorm) FindResult(ctx context.Context, experimentID int64, metricName string) (*domain.Result, error) {
	var rec resultRecord
	err := s.db.WithContext(ctx).
		Where("experiment_id = ? AND metric_name = ?", experimentID, metricName).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "find result %q of experiment %d", metricName, experimentID)
	}
	return rec.toDomain(), nil
}

// ListResults returns the Results of an experiment ordered by id.
func (s *Gorm) ListResults(ctx context.Context, experimentID int64) ([]*domain.Result, error) {
	return listResults(s.db.WithContext(ctx).Where("experiment_id = ?", experimentID))
}

// ListResultsByStatus returns the Results in any of statuses, or all of them
// when no status is given.
func (s *Gorm) ListResultsByStatus(ctx context.Context, statuses ...domain.ResultStatus) ([]*domain.Result, error) {
	q := s.db.WithContext(ctx)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	return listResults(q)
}

func listResults(q *gorm.DB) ([]*domain.Result, error) {
	var recs []resultRecord
	if err := q.Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	out := make([]*domain.Result, len(recs))
	for i := range recs {
		out[i] = recs[i].toDomain()
	}
	return out, nil
}

// SetResultStatus writes status unconditionally.
func (s *Gorm) SetResultStatus(ctx context.Context, id int64, status domain.ResultStatus) error {
	res := s.db.WithContext(ctx).Model(&resultRecord{}).
		Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("set result %d status %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return s.resultExists(ctx, id)
	}
	return nil
}

// ClaimResult implements ResultStore.
func (s *Gorm) ClaimResult(ctx context.Context, id int64) (bool, error) {
	return s.casResult(ctx, id, domain.ResultRunning)
}

// FinishResult implements ResultStore.
func (s *Gorm) FinishResult(ctx context.Context, id int64) (bool, error) {
	return s.casResult(ctx, id, domain.ResultFinished)
}

func (s *Gorm) casResult(ctx context.Context, id int64, status domain.ResultStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&resultRecord{}).
		Where("id = ? AND status <> ?", id, string(status)).
		Update("status", string(status))
	if res.Error != nil {
		return false, fmt.Errorf("set result %d %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, s.resultExists(ctx, id)
	}
	return true, nil
}

// RebaseResult recounts the observation rows and resets
// num_try := num_success.
func (s *Gorm) RebaseResult(ctx context.Context, id int64) (domain.Counts, error) {
	counts, err := s.CountObservations(ctx, id)
	if err != nil {
		return domain.Counts{}, err
	}
	counts.NumTry = counts.NumSuccess

	res := s.db.WithContext(ctx).Model(&resultRecord{}).Where("id = ?", id).
		Updates(map[string]any{"num_try": counts.NumTry, "num_success": counts.NumSuccess})
	if res.Error != nil {
		return domain.Counts{}, fmt.Errorf("rebase result %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Counts{}, s.resultExists(ctx, id)
	}
	return counts, nil
}

// IncrementResult adds one attempt, and one success when success is true,
// and returns the row as it is after the update.
func (s *Gorm) IncrementResult(ctx context.Context, id int64, success bool) (*domain.Result, error) {
	var rec resultRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&resultRecord{}).Where("id = ?", id).
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
		return nil, notFound(err, "increment result %d", id)
	}
	return rec.toDomain(), nil
}

func (s *Gorm) resultExists(ctx context.Context, id int64) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&resultRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup result %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("result %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
