// Package metrics holds the metric registry consulted by workers when they
// compute observations, together with the built-in metrics.
//
// A Registry is built once at startup and injected; it is read-only while
// workers run. Metric callables receive the answer, the reference answer, the
// resolved required inputs and the generation metadata, and return a score
// with an optional free-form observation.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Type groups metrics by how they compute their score.
type Type string

const (
	// TypeLLM metrics look at the generated text, possibly through a judge.
	TypeLLM Type = "llm"
	// TypeOps metrics report generation metadata such as latency.
	TypeOps Type = "ops"
)

var (
	// ErrUnknownMetric indicates a metric name absent from the registry.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrDuplicateMetric indicates a second registration under one name.
	ErrDuplicateMetric = errors.New("metric already registered")
)

// Input is what a metric callable sees for one dataset line.
type Input struct {
	Output     string
	OutputTrue string

	// Params holds the result's metric parameters merged with the required
	// inputs resolved from the dataset row and the answer metadata.
	Params map[string]any

	// Metadata is the generation metadata of the answer.
	Metadata map[string]any

	// JudgeModel names the model LLM-judged metrics should call.
	JudgeModel string
}

// Param returns Params[key] as text. Missing and nil values yield "".
func (in Input) Param(key string) string {
	v, ok := in.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Outcome is the normalized result of a metric. A nil Score marks a line the
// metric could not score.
type Outcome struct {
	Score       *float64
	Observation string
}

// Score builds an Outcome holding v.
func Score(v float64) Outcome { return Outcome{Score: &v} }

// Func computes a metric for one line.
type Func func(ctx context.Context, in Input) (Outcome, error)

// Metric describes a registered metric.
type Metric struct {
	Name        string
	Description string
	Type        Type

	// Require lists the inputs the metric needs: output, output_true, or the
	// name of a dataset column or metadata field.
	Require []string

	Func Func
}

// Registry maps metric names to metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds m. Require is stored sorted.
func (r *Registry) Register(m Metric) error {
	if m.Name == "" || m.Func == nil {
		return errors.New("metric requires a name and a func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[m.Name]; ok {
		return fmt.Errorf("%q: %w", m.Name, ErrDuplicateMetric)
	}
	m.Require = append([]string(nil), m.Require...)
	sort.Strings(m.Require)
	r.metrics[m.Name] = m
	return nil
}

// MustRegister is Register that panics on error, for static registration.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get returns the metric registered under name.
func (r *Registry) Get(name string) (Metric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	if !ok {
		return Metric{}, fmt.Errorf("%q: %w", name, ErrUnknownMetric)
	}
	return m, nil
}

// Names returns the registered metric names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
