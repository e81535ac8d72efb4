package domain

import "fmt"

// Dataset is an ordered sequence of rows evaluated by an experiment.
type Dataset struct {
	ID   int64            `json:"id" validate:"gte=0"`
	Name string           `json:"name" validate:"required"`
	Rows []map[string]any `json:"rows"`

	// Size is the number of rows. It is kept alongside Rows so that callers
	// can reason about completion without loading the full row set.
	Size int `json:"size" validate:"gte=0"`

	// ColumnsMap aliases a canonical column (query, output_true, ...) to the
	// dataset column that holds it.
	ColumnsMap map[string]string `json:"columns_map,omitempty"`

	// Sample restricts evaluation to the listed line indices.
	Sample []int `json:"sample,omitempty" validate:"omitempty,dive,gte=0"`
}

// Validate checks the dataset's structural constraints.
func (d *Dataset) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	for _, idx := range d.Sample {
		if idx >= d.Size {
			return fmt.Errorf("sample index %d out of range [0,%d): %w", idx, d.Size, ErrLineOutOfRange)
		}
	}
	return nil
}

// ExpectedTotal is the number of lines an experiment over this dataset must
// attempt before a stage can complete.
func (d *Dataset) ExpectedTotal() int {
	if len(d.Sample) > 0 {
		return len(d.Sample)
	}
	return d.Size
}

// Lines returns the line indices evaluated over this dataset, in order.
func (d *Dataset) Lines() []int {
	if len(d.Sample) > 0 {
		return append([]int(nil), d.Sample...)
	}
	lines := make([]int, d.Size)
	for i := range lines {
		lines[i] = i
	}
	return lines
}

// Row returns line i with column aliases applied.
// The returned map is a copy and may be modified by the caller.
func (d *Dataset) Row(i int) (map[string]any, error) {
	if i < 0 || i >= len(d.Rows) {
		return nil, fmt.Errorf("line %d of dataset %d: %w", i, d.ID, ErrLineOutOfRange)
	}
	row := make(map[string]any, len(d.Rows[i])+len(d.ColumnsMap))
	for k, v := range d.Rows[i] {
		row[k] = v
	}
	for alias, source := range d.ColumnsMap {
		row[alias] = row[source]
	}
	return row, nil
}

// RowString reads a column of a row as text. Missing and null values return
// ok=false; non-string values are formatted with fmt.
func RowString(row map[string]any, column string) (string, bool) {
	v, ok := row[column]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Provider names understood by the generation backend.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Model is a generation model configuration used to answer dataset queries.
type Model struct {
	ID       int64  `json:"id" validate:"gte=0"`
	Name     string `json:"name" validate:"required"`
	Provider string `json:"provider" validate:"required,oneof=openai anthropic google"`
	BaseURL  string `json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey   string `json:"-"`

	SystemPrompt  string `json:"system_prompt,omitempty"`
	PreludePrompt string `json:"prelude_prompt,omitempty"`

	Sampling SamplingParams `json:"sampling_params"`

	// Tools lists MCP tool or toolset names exposed to the model.
	Tools []string `json:"tools,omitempty"`
}

// Validate checks the model's structural constraints.
func (m *Model) Validate() error { return validate.Struct(m) }

// SamplingParams carries the generation parameters forwarded to providers.
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   int64    `json:"max_tokens,omitempty" validate:"gte=0"`
	ToolChoice  string   `json:"tool_choice,omitempty" validate:"omitempty,oneof=auto none required"`
}
