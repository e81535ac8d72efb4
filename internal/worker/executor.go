package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ahrav/go-evalrun/internal/domain"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
	"github.com/ahrav/go-evalrun/internal/metrics"
	"github.com/ahrav/go-evalrun/internal/progress"
	"github.com/ahrav/go-evalrun/internal/store"
	"github.com/ahrav/go-evalrun/internal/toolloop"
)

// retrievalSeparator splits a tool result into retrieved chunks.
const retrievalSeparator = "\n---\n"

// Dispatcher starts the next stage of an experiment.
type Dispatcher interface {
	Dispatch(ctx context.Context, experimentID int64, stage domain.Stage) (int, error)
}

// ToolBridge resolves tool names to schemas and executes tool calls.
type ToolBridge interface {
	toolloop.Bridge
	ToolsFor(names []string) ([]transport.Tool, error)
}

// Deps are the collaborators of an Executor. Bridge is optional; without it
// tool-enabled models answer without tools.
type Deps struct {
	Store      store.Store
	Tracker    *progress.Tracker
	Dispatcher Dispatcher
	Generator  toolloop.Generator
	Bridge     ToolBridge
	Metrics    *metrics.Registry
}

// Executor runs one task to completion: it computes the answer or the
// observation, records it on its row, updates the counters and triggers the
// completion checks.
type Executor struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(deps Deps, cfg Config) *Executor {
	return &Executor{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: slog.Default().With("component", "worker"),
	}
}

// Execute routes a task to its handler. A task kind without a handler
// returns an error wrapping domain.ErrUnknownMessageType.
func (e *Executor) Execute(ctx context.Context, task domain.Task) error {
	switch t := task.(type) {
	case domain.GenerateAnswer:
		return e.GenerateAnswer(ctx, t)
	case domain.ComputeObservation:
		return e.ComputeObservation(ctx, t)
	default:
		return fmt.Errorf("%T: %w", task, domain.ErrUnknownMessageType)
	}
}

// GenerateAnswer produces and records the answer of one dataset line. Tasks
// referring to a missing experiment, model or dataset are dropped.
func (e *Executor) GenerateAnswer(ctx context.Context, t domain.GenerateAnswer) error {
	log := e.logger.With("experiment_id", t.ExperimentID, "line", t.LineIndex)

	exp, err := e.deps.Store.GetExperiment(ctx, t.ExperimentID)
	if err != nil {
		return e.drop(log, "experiment", err)
	}
	model, err := e.deps.Store.GetModel(ctx, t.ModelID)
	if err != nil {
		return e.drop(log, "model", err)
	}
	ds, err := e.deps.Store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return e.drop(log, "dataset", err)
	}

	answer := &domain.Answer{ExperimentID: t.ExperimentID, LineIndex: t.LineIndex}
	start := time.Now()
	var res *toolloop.Result
	genErr := e.protect(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.generate(ctx, model, t.Query)
		return err
	})
	answer.ExecutionTime = time.Since(start).Seconds()

	if genErr != nil {
		msg := fmt.Sprintf("Generation failed with error: %s", genErr)
		answer.ErrorMsg = &msg
		log.Error("answer generation failed", "model", model.Name,
			"rate_limited", llmerrors.IsRateLimitError(genErr), "error", genErr)
	} else {
		fillAnswer(answer, res)
	}

	if err := e.deps.Store.UpsertAnswer(ctx, answer); err != nil {
		return err
	}
	if _, err := e.deps.Tracker.RecordAnswer(ctx, t.ExperimentID, answer.Answer != nil); err != nil {
		return err
	}

	if !t.FollowObservation {
		return nil
	}
	done, err := e.deps.Tracker.AnswersComplete(ctx, t.ExperimentID, ds.ExpectedTotal())
	if err != nil || !done {
		return err
	}
	n, err := e.deps.Dispatcher.Dispatch(ctx, t.ExperimentID, domain.StageObservations)
	if err != nil {
		return fmt.Errorf("dispatch observations: %w", err)
	}
	log.Info("answers complete", "observation_tasks", n)
	return nil
}

func (e *Executor) generate(ctx context.Context, model *domain.Model, query string) (*toolloop.Result, error) {
	if model.PreludePrompt != "" {
		query = model.PreludePrompt + "\n\n" + query
	}
	var messages []transport.Message
	if model.SystemPrompt != "" {
		messages = append(messages, transport.Message{Role: transport.RoleSystem, Content: model.SystemPrompt})
	}
	messages = append(messages, transport.Message{Role: transport.RoleUser, Content: query})

	req := &transport.Request{
		Operation:   transport.OpGeneration,
		Provider:    model.Provider,
		Model:       model.Name,
		BaseURL:     model.BaseURL,
		APIKey:      model.APIKey,
		Messages:    messages,
		ToolChoice:  model.Sampling.ToolChoice,
		Temperature: model.Sampling.Temperature,
		TopP:        model.Sampling.TopP,
		MaxTokens:   model.Sampling.MaxTokens,
	}

	var bridge toolloop.Bridge
	if len(model.Tools) > 0 && e.deps.Bridge != nil {
		tools, err := e.deps.Bridge.ToolsFor(model.Tools)
		if err != nil {
			return nil, fmt.Errorf("resolve tools: %w", err)
		}
		req.Tools = tools
		bridge = e.deps.Bridge
	}

	return toolloop.New(e.deps.Generator, bridge, e.cfg.ToolLoop).Run(ctx, req)
}

// fillAnswer copies a successful generation into the answer row. An empty
// answer text leaves Answer nil so the line is retried.
func fillAnswer(a *domain.Answer, res *toolloop.Result) {
	think, text := domain.SplitThinkAnswer(res.Response.Content)
	a.Think = think
	if text != "" {
		a.Answer = &text
	}
	a.NbTokensPrompt = res.Usage.PromptTokens
	a.NbTokensCompletion = res.Usage.CompletionTokens
	a.NbToolCalls = res.NbToolCalls()
	a.ToolSteps = res.Steps
	a.Context, a.RetrievalContext = contexts(res.Steps)
}

// contexts derives the context (one entry per tool result) and the
// retrieval context (tool results split into chunks) of a tool run. The
// retrieval context is nil when splitting found no chunk boundary.
func contexts(steps [][]domain.ToolStep) (toolContext, retrieval []string) {
	for _, step := range steps {
		for _, s := range step {
			toolContext = append(toolContext, s.ToolResult)
		}
	}
	for _, c := range toolContext {
		retrieval = append(retrieval, strings.Split(c, retrievalSeparator)...)
	}
	if len(retrieval) == len(toolContext) {
		retrieval = nil
	}
	return toolContext, retrieval
}

// ComputeObservation scores one line with one metric and records the
// observation. Tasks referring to a missing result, experiment or dataset
// are dropped.
func (e *Executor) ComputeObservation(ctx context.Context, t domain.ComputeObservation) error {
	log := e.logger.With("experiment_id", t.ExperimentID, "metric", t.MetricName, "line", t.LineIndex)

	var (
		res *domain.Result
		err error
	)
	if t.ResultID > 0 {
		res, err = e.deps.Store.GetResult(ctx, t.ResultID)
	} else {
		res, err = e.deps.Store.FindResult(ctx, t.ExperimentID, t.MetricName)
	}
	if err != nil {
		return e.drop(log, "result", err)
	}
	exp, err := e.deps.Store.GetExperiment(ctx, res.ExperimentID)
	if err != nil {
		return e.drop(log, "experiment", err)
	}
	ds, err := e.deps.Store.GetDataset(ctx, exp.DatasetID)
	if err != nil {
		return e.drop(log, "dataset", err)
	}

	metadata := map[string]any{}
	answer, err := e.deps.Store.GetAnswer(ctx, exp.ID, t.LineIndex)
	switch {
	case err == nil:
		metadata = answer.Metadata()
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	obs := &domain.Observation{ResultID: res.ID, LineIndex: t.LineIndex}
	var (
		outcome metrics.Outcome
		ignored bool
	)
	start := time.Now()
	scoreErr := e.protect(ctx, func(ctx context.Context) error {
		row, err := ds.Row(t.LineIndex)
		if err != nil {
			return err
		}
		outcome, ignored, err = e.score(ctx, t, res, exp, row, metadata)
		return err
	})
	obs.ExecutionTime = time.Since(start).Seconds()

	switch {
	case ignored:
		msg := fmt.Sprintf("Ignoring '%s' with missing require field.", t.MetricName)
		obs.ErrorMsg = &msg
		log.Warn(msg)
	case scoreErr != nil:
		msg := fmt.Sprintf("Observation '%s' failed with error: %s", t.MetricName, scoreErr)
		obs.ErrorMsg = &msg
		log.Error("observation failed", "error", scoreErr)
	default:
		obs.Score = outcome.Score
		if outcome.Observation != "" {
			obs.Observation = &outcome.Observation
		}
	}

	if err := e.deps.Store.UpsertObservation(ctx, obs); err != nil {
		return err
	}
	if _, err := e.deps.Tracker.RecordObservation(ctx, res.ID, obs.Score != nil || ignored); err != nil {
		return err
	}
	_, err = e.deps.Tracker.CheckResult(ctx, res.ID, ds.ExpectedTotal())
	return err
}

// score resolves the metric inputs and calls the metric. ignored is set when
// a missing context input makes the line unscorable without being a failure.
func (e *Executor) score(
	ctx context.Context,
	t domain.ComputeObservation,
	res *domain.Result,
	exp *domain.Experiment,
	row map[string]any,
	metadata map[string]any,
) (outcome metrics.Outcome, ignored bool, err error) {
	metric, err := e.deps.Metrics.Get(t.MetricName)
	if err != nil {
		return metrics.Outcome{}, false, err
	}

	params := make(map[string]any, len(res.MetricParams)+len(metric.Require))
	for k, v := range res.MetricParams {
		params[k] = v
	}
	for _, req := range metric.Require {
		switch req {
		case "output":
			if t.Output == nil || *t.Output == "" {
				return metrics.Outcome{}, false, missingInput(t.MetricName, req)
			}
			continue
		case "output_true":
			if t.OutputTrue == nil || *t.OutputTrue == "" {
				return metrics.Outcome{}, false, missingInput(t.MetricName, req)
			}
			continue
		}

		v, ok := row[req]
		if !ok {
			v = metadata[req]
		}
		if isEmpty(v) {
			ignored = req == "context" || req == "retrieval_context"
			return metrics.Outcome{}, ignored, missingInput(t.MetricName, req)
		}
		params[req] = v
	}

	in := metrics.Input{
		Params:     params,
		Metadata:   metadata,
		JudgeModel: exp.JudgeModel,
	}
	if t.Output != nil {
		in.Output = *t.Output
	}
	if t.OutputTrue != nil {
		in.OutputTrue = *t.OutputTrue
	}
	outcome, err = metric.Func(ctx, in)
	return outcome, false, err
}

func missingInput(metric, input string) error {
	return fmt.Errorf("the metric %q requires a non empty %q value", metric, input)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}

// protect runs fn under the per-task timeout and turns a panic into an error.
func (e *Executor) protect(ctx context.Context, fn func(context.Context) error) (err error) {
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// drop logs a task whose referenced entity is gone. Other store errors are
// returned.
func (e *Executor) drop(log *slog.Logger, entity string, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Error("dropping task", "missing", entity, "error", err)
	return nil
}
