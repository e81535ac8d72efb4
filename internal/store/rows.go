package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// GetAnswer loads the answer row of one dataset line.
func (s *Gorm) GetAnswer(ctx context.Context, experimentID int64, line int) (*domain.Answer, error) {
	var rec answerRecord
	err := s.db.WithContext(ctx).
		Where("experiment_id = ? AND line_index = ?", experimentID, line).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "get answer %d of experiment %d", line, experimentID)
	}
	return rec.toDomain(), nil
}

// ListAnswers returns every answer row of an experiment ordered by line.
func (s *Gorm) ListAnswers(ctx context.Context, experimentID int64) ([]*domain.Answer, error) {
	var recs []answerRecord
	if err := s.db.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Order("line_index").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list answers of experiment %d: %w", experimentID, err)
	}
	out := make([]*domain.Answer, len(recs))
	for i := range recs {
		out[i] = recs[i].toDomain()
	}
	return out, nil
}

// CountAnswers derives the answer counters of an experiment from its rows.
func (s *Gorm) CountAnswers(ctx context.Context, experimentID int64) (domain.Counts, error) {
	return countRows(s.db.WithContext(ctx).Model(&answerRecord{}).
		Where("experiment_id = ?", experimentID), "answer")
}

// UpsertAnswer inserts the row or overwrites the existing row of the same
// (experiment_id, line_index).
func (s *Gorm) UpsertAnswer(ctx context.Context, a *domain.Answer) error {
	rec := answerFromDomain(a)
	rec.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "experiment_id"}, {Name: "line_index"}},
		DoUpdates: clause.AssignmentColumns(answerUpdateColumns),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert answer %d of experiment %d: %w", a.LineIndex, a.ExperimentID, err)
	}
	a.UpdatedAt = rec.UpdatedAt
	return nil
}

// ClearAnswerErrors implements RowStore.
func (s *Gorm) ClearAnswerErrors(ctx context.Context, experimentID int64, lines []int) error {
	for _, chunk := range chunks(lines, clearChunkSize) {
		if err := s.db.WithContext(ctx).Model(&answerRecord{}).
			Where("experiment_id = ? AND line_index IN ?", experimentID, chunk).
			Update("error_msg", nil).Error; err != nil {
			return fmt.Errorf("clear answer errors of experiment %d: %w", experimentID, err)
		}
	}
	return nil
}

// GetObservation loads the observation row of one dataset line.
func (s *Gorm) GetObservation(ctx context.Context, resultID int64, line int) (*domain.Observation, error) {
	var rec observationRecord
	err := s.db.WithContext(ctx).
		Where("result_id = ? AND line_index = ?", resultID, line).
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "get observation %d of result %d", line, resultID)
	}
	return rec.toDomain(), nil
}

// ListObservations returns every observation row of a Result ordered by line.
func (s *Gorm) ListObservations(ctx context.Context, resultID int64) ([]*domain.Observation, error) {
	var recs []observationRecord
	if err := s.db.WithContext(ctx).
		Where("result_id = ?", resultID).
		Order("line_index").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list observations of result %d: %w", resultID, err)
	}
	out := make([]*domain.Observation, len(recs))
	for i := range recs {
		out[i] = recs[i].toDomain()
	}
	return out, nil
}

// CountObservations derives the observation counters of a Result from its rows.
func (s *Gorm) CountObservations(ctx context.Context, resultID int64) (domain.Counts, error) {
	return countRows(s.db.WithContext(ctx).Model(&observationRecord{}).
		Where("result_id = ?", resultID), "score")
}

// UpsertObservation inserts the row or overwrites the existing row of the
// same (result_id, line_index).
func (s *Gorm) UpsertObservation(ctx context.Context, o *domain.Observation) error {
	rec := observationFromDomain(o)
	rec.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "result_id"}, {Name: "line_index"}},
		DoUpdates: clause.AssignmentColumns(observationUpdateColumns),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert observation %d of result %d: %w", o.LineIndex, o.ResultID, err)
	}
	o.UpdatedAt = rec.UpdatedAt
	return nil
}

// ClearObservationErrors implements RowStore.
func (s *Gorm) ClearObservationErrors(ctx context.Context, resultID int64, lines []int) error {
	for _, chunk := range chunks(lines, clearChunkSize) {
		if err := s.db.WithContext(ctx).Model(&observationRecord{}).
			Where("result_id = ? AND line_index IN ?", resultID, chunk).
			Update("error_msg", nil).Error; err != nil {
			return fmt.Errorf("clear observation errors of result %d: %w", resultID, err)
		}
	}
	return nil
}

// countRows counts all rows of q as attempts and the rows with a non-null
// value column and no error as successes.
func countRows(q *gorm.DB, valueColumn string) (domain.Counts, error) {
	var row struct {
		Total     int
		Succeeded int
	}
	err := q.Select(
		"COUNT(*) AS total, " +
			"COUNT(CASE WHEN " + valueColumn + " IS NOT NULL AND error_msg IS NULL THEN 1 END) AS succeeded",
	).Scan(&row).Error
	if err != nil {
		return domain.Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return domain.Counts{NumTry: row.Total, NumSuccess: row.Succeeded}, nil
}
