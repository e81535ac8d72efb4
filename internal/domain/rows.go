package domain

import (
	"strings"
	"time"
)

// ToolStep records one tool invocation performed while generating an answer.
type ToolStep struct {
	ToolName   string `json:"tool_name"`
	ToolParams string `json:"tool_params"`
	ToolResult string `json:"tool_result"`
}

// Answer is the generated output for one dataset line of an experiment.
// It is keyed by (ExperimentID, LineIndex) and written with upsert semantics.
type Answer struct {
	ID           int64 `json:"id"`
	ExperimentID int64 `json:"experiment_id" validate:"gt=0"`
	LineIndex    int   `json:"line_index" validate:"gte=0"`

	Answer   *string `json:"answer,omitempty"`
	Think    *string `json:"think,omitempty"`
	ErrorMsg *string `json:"error_msg,omitempty"`

	ExecutionTime      float64 `json:"execution_time"`
	NbTokensPrompt     int64   `json:"nb_tokens_prompt"`
	NbTokensCompletion int64   `json:"nb_tokens_completion"`
	NbToolCalls        int     `json:"nb_tool_calls"`

	Context          []string     `json:"context,omitempty"`
	RetrievalContext []string     `json:"retrieval_context,omitempty"`
	ToolSteps        [][]ToolStep `json:"tool_steps,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Succeeded reports whether the row holds a usable answer.
// It mirrors the success predicate used to derive experiment counters.
func (a *Answer) Succeeded() bool { return a.Answer != nil && a.ErrorMsg == nil }

// Metadata returns the generation metadata exposed to metric callables.
func (a *Answer) Metadata() map[string]any {
	return map[string]any{
		"generation_time":      a.ExecutionTime,
		"nb_tokens_prompt":     a.NbTokensPrompt,
		"nb_tokens_completion": a.NbTokensCompletion,
		"nb_tool_calls":        a.NbToolCalls,
		"context":              a.Context,
		"retrieval_context":    a.RetrievalContext,
	}
}

// Observation is the outcome of one metric on one dataset line.
// It is keyed by (ResultID, LineIndex) and written with upsert semantics.
type Observation struct {
	ID        int64 `json:"id"`
	ResultID  int64 `json:"result_id" validate:"gt=0"`
	LineIndex int   `json:"line_index" validate:"gte=0"`

	Score       *float64 `json:"score,omitempty"`
	Observation *string  `json:"observation,omitempty"`
	ErrorMsg    *string  `json:"error_msg,omitempty"`

	ExecutionTime float64 `json:"execution_time"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Succeeded reports whether the row holds a usable score.
func (o *Observation) Succeeded() bool { return o.Score != nil && o.ErrorMsg == nil }

// thinkToken separates a reasoning prefix from the final answer.
const thinkToken = "</think>"

// SplitThinkAnswer separates a reasoning prefix terminated by </think> from
// the answer. The match is case-insensitive and the think part keeps the
// closing token. Without a token, think is nil and the answer is trimmed.
func SplitThinkAnswer(text string) (think *string, answer string) {
	for i := 0; i+len(thinkToken) <= len(text); i++ {
		if !strings.EqualFold(text[i:i+len(thinkToken)], thinkToken) {
			continue
		}
		end := i + len(thinkToken)
		t := strings.TrimSpace(text[:end])
		return &t, strings.TrimSpace(text[end:])
	}
	return nil, strings.TrimSpace(text)
}
