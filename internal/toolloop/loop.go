// Package toolloop runs the bounded generate/call-tools cycle used to answer
// one dataset line with a tool-enabled model.
package toolloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Loop bounds.
const (
	DefaultMaxSteps       = 10
	DefaultMaxStepsSearch = 2
)

// SearchPrefix marks tools whose repeated use ends the loop early.
const SearchPrefix = "search"

// EmptyToolResult replaces a tool result without any text.
const EmptyToolResult = "the tool call result is empty"

// Generator performs one chat completion.
type Generator interface {
	Complete(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Bridge executes tool calls.
type Bridge interface {
	CallTool(ctx context.Context, name, arguments string) ([]string, error)
}

// Config bounds the loop. Zero values select the defaults.
type Config struct {
	MaxSteps       int `yaml:"max_steps" validate:"gte=0"`
	MaxStepsSearch int `yaml:"max_steps_search" validate:"gte=0"`
}

// Result is the outcome of Run.
type Result struct {
	// Response is the final, non-tool generation.
	Response *transport.Response

	// Steps holds the tool calls of each iteration.
	Steps [][]domain.ToolStep

	// Usage sums token usage over every generation of the loop.
	Usage transport.NormalizedUsage

	// Messages is the full conversation including tool turns.
	Messages []transport.Message
}

// NbToolCalls returns the number of tool calls performed.
func (r *Result) NbToolCalls() int {
	n := 0
	for _, step := range r.Steps {
		n += len(step)
	}
	return n
}

// Loop alternates generations and tool calls until the model answers.
type Loop struct {
	gen    Generator
	bridge Bridge
	cfg    Config
	logger *slog.Logger
}

// New creates a loop. A nil bridge disables tool execution: the first
// generation is returned as is.
func New(gen Generator, bridge Bridge, cfg Config) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxStepsSearch <= 0 {
		cfg.MaxStepsSearch = DefaultMaxStepsSearch
	}
	return &Loop{
		gen:    gen,
		bridge: bridge,
		cfg:    cfg,
		logger: slog.Default().With("component", "toolloop"),
	}
}

// Run drives the conversation in req to a final answer. req is not modified.
func (l *Loop) Run(ctx context.Context, req *transport.Request) (*Result, error) {
	call := *req
	call.Messages = append([]transport.Message(nil), req.Messages...)
	if len(call.Tools) > 0 && call.ToolChoice == "" {
		call.ToolChoice = transport.ToolChoiceAuto
	}

	res := &Result{}
	toolCounts := make(map[string]int)

	for step := 0; step < l.cfg.MaxSteps; {
		step++

		resp, err := l.generate(ctx, &call, res)
		if err != nil {
			return nil, err
		}
		call.Messages = append(call.Messages, resp.AssistantMessage())

		if isFinal(resp.FinishReason) || l.bridge == nil {
			break
		}
		if resp.FinishReason != transport.FinishToolCalls {
			l.logger.Warn("unknown finish reason", "finish_reason", resp.FinishReason, "model", call.Model)
		}

		var substeps []domain.ToolStep
		for _, tc := range resp.ToolCalls {
			content, err := l.callTool(ctx, tc)
			if err != nil {
				return nil, err
			}
			call.Messages = append(call.Messages, transport.Message{
				Role:       transport.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
			substeps = append(substeps, domain.ToolStep{
				ToolName:   tc.Name,
				ToolParams: tc.Arguments,
				ToolResult: content,
			})

			toolCounts[tc.Name]++
			if strings.HasPrefix(tc.Name, SearchPrefix) && toolCounts[tc.Name] >= l.cfg.MaxStepsSearch {
				step = l.cfg.MaxSteps
			}
		}
		res.Steps = append(res.Steps, substeps)
	}

	if last := call.Messages[len(call.Messages)-1]; last.Role == transport.RoleTool {
		l.logger.Warn("max tool steps reached", "model", call.Model, "max_steps", l.cfg.MaxSteps)
		call.ToolChoice = transport.ToolChoiceNone
		if _, err := l.generate(ctx, &call, res); err != nil {
			return nil, err
		}
		call.Messages = append(call.Messages, res.Response.AssistantMessage())
	}

	res.Messages = call.Messages
	return res, nil
}

func (l *Loop) generate(ctx context.Context, req *transport.Request, res *Result) (*transport.Response, error) {
	resp, err := l.gen.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Response = resp
	res.Usage.PromptTokens += resp.Usage.PromptTokens
	res.Usage.CompletionTokens += resp.Usage.CompletionTokens
	res.Usage.TotalTokens += resp.Usage.TotalTokens
	res.Usage.LatencyMs += resp.Usage.LatencyMs
	return resp, nil
}

func (l *Loop) callTool(ctx context.Context, tc transport.ToolCall) (string, error) {
	texts, err := l.bridge.CallTool(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", tc.Name, err)
	}
	if len(texts) == 0 {
		return EmptyToolResult, nil
	}
	if len(texts) > 1 {
		l.logger.Debug("tool returned several text parts", "tool", tc.Name, "parts", len(texts))
	}
	return strings.Join(texts, "\n\n"), nil
}

func isFinal(finishReason string) bool {
	switch finishReason {
	case "", transport.FinishStop, transport.FinishLength:
		return true
	default:
		return false
	}
}
