package metrics

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins adds the metrics that need no external service.
func RegisterBuiltins(r *Registry) error {
	builtins := []Metric{
		{
			Name:        "output_length",
			Description: "Number of words of the output",
			Type:        TypeLLM,
			Require:     []string{"output"},
			Func:        outputLength,
		},
		{
			Name:        "qcm_exactness",
			Description: "[0;1] Whether a multiple-choice answer is exactly the expected choice",
			Type:        TypeLLM,
			Require:     []string{"output", "output_true"},
			Func:        qcmExactness,
		},
		metadataMetric("generation_time", "The time to generate the answer", "generation_time"),
		metadataMetric("nb_tool_calls", "Number of tool calls made during generation", "nb_tool_calls"),
		metadataMetric("nb_tokens_prompt", "Number of tokens in the prompt", "nb_tokens_prompt"),
		metadataMetric("nb_tokens_completion", "Number of tokens in the completion", "nb_tokens_completion"),
	}
	for _, m := range builtins {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func outputLength(_ context.Context, in Input) (Outcome, error) {
	return Score(float64(len(strings.Fields(in.Output)))), nil
}

// qcmExactness scores 1 when a single-token answer starts with the expected
// choice. Answers longer than one word are left unscored.
func qcmExactness(_ context.Context, in Input) (Outcome, error) {
	choice := strings.Trim(in.Output, " \n\"'.")
	if len(strings.Fields(choice)) > 1 {
		return Outcome{}, nil
	}
	if choice != "" && choice[:1] == in.OutputTrue {
		return Score(1), nil
	}
	return Score(0), nil
}

func metadataMetric(name, description, field string) Metric {
	return Metric{
		Name:        name,
		Description: description,
		Type:        TypeOps,
		Require:     []string{"output"},
		Func: func(_ context.Context, in Input) (Outcome, error) {
			v, ok := in.Metadata[field]
			if !ok || v == nil {
				return Outcome{}, nil
			}
			f, err := toFloat(v)
			if err != nil {
				return Outcome{}, fmt.Errorf("metadata %s: %w", field, err)
			}
			return Score(f), nil
		},
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
