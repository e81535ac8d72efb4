package store

import (
	"context"
	"fmt"

	"github.com/ahrav/go-evalrun/internal/domain"
)

// GetDataset loads a dataset with all of its rows.
func (s *Gorm) GetDataset(ctx context.Context, id int64) (*domain.Dataset, error) {
	var rec datasetRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "get dataset %d", id)
	}
	return rec.toDomain(), nil
}

// CreateDataset inserts a dataset. Size defaults to the number of rows.
func (s *Gorm) CreateDataset(ctx context.Context, d *domain.Dataset) error {
	if d.Size == 0 {
		d.Size = len(d.Rows)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid dataset: %w", err)
	}
	rec := datasetRecord{
		Name:       d.Name,
		Rows:       d.Rows,
		Size:       d.Size,
		ColumnsMap: d.ColumnsMap,
		Sample:     d.Sample,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create dataset %q: %w", d.Name, err)
	}
	d.ID = rec.ID
	return nil
}

// GetModel loads a generation model configuration.
func (s *Gorm) GetModel(ctx context.Context, id int64) (*domain.Model, error) {
	var rec modelRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err, "get model %d", id)
	}
	return rec.toDomain(), nil
}

// CreateModel inserts a generation model configuration.
func (s *Gorm) CreateModel(ctx context.Context, m *domain.Model) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	rec := modelRecord{
		Name:          m.Name,
		Provider:      m.Provider,
		BaseURL:       m.BaseURL,
		APIKey:        m.APIKey,
		SystemPrompt:  m.SystemPrompt,
		PreludePrompt: m.PreludePrompt,
		Sampling:      m.Sampling,
		Tools:         m.Tools,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("create model %q: %w", m.Name, err)
	}
	m.ID = rec.ID
	return nil
}
