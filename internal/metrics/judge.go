package metrics

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/ahrav/go-evalrun/internal/domain"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Judge defaults.
const (
	DefaultJudgeModel       = "gpt-4o-mini"
	DefaultJudgeProvider    = domain.ProviderOpenAI
	DefaultJudgeTemperature = 0.2
)

// Generator performs one chat completion for a judge.
type Generator interface {
	Complete(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// JudgeConfig selects the model LLM-judged metrics call when neither the
// experiment nor the metric parameters name one.
type JudgeConfig struct {
	Provider    string  `yaml:"provider" validate:"omitempty,oneof=openai anthropic google"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// DefaultJudgeConfig returns the judge defaults.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Provider:    DefaultJudgeProvider,
		Model:       DefaultJudgeModel,
		Temperature: DefaultJudgeTemperature,
	}
}

var exactnessTemplate = template.Must(template.New("judge_exactness").Parse(`Given the following question A:

<A>
{{.Query}}
</A>

And given the associated correct answer B:

<B>
{{.OutputTrue}}
</B>

And given the answer C produced by another agent, to be evaluated:

<C>
{{.Output}}
</C>

Does answer C match the true answer B? In other words, is the agent's answer similar to the correct answer?
Reply 1 if yes or 0 if no.
Return only 1 or 0, nothing else!`))

var notatorTemplate = template.Must(template.New("judge_notator").Parse(`Given the following question A:

<A>
{{.Query}}
</A>

And given the associated correct answer B:

<B>
{{.OutputTrue}}
</B>

And given the answer C produced by another agent, to be evaluated:

<C>
{{.Output}}
</C>

Rate the semantic similarity between the reference answer B and the evaluated answer C with a score between 1 and 10.

Scoring guidelines:
- 10: the answers are semantically identical or nearly so, even if worded differently.
- 7-9: the answers are very close in meaning, with only minor differences or extra details in one of them.
- 4-6: the answers share some meaning, but with notable differences or important omissions.
- 1-3: the answers differ significantly in meaning, or C does not correctly answer the question.

Focus on the overall meaning and the main information each answer conveys. Do not penalize wording differences
as long as the meaning is preserved. A shorter answer that captures the essential information can score high.

Return only the score, nothing else!`))

// RegisterJudges adds the LLM-judged metrics, which call gen with the judge
// model of cfg unless the experiment or the metric parameters override it.
func RegisterJudges(r *Registry, gen Generator, cfg JudgeConfig) error {
	if cfg.Provider == "" {
		cfg.Provider = DefaultJudgeProvider
	}
	if cfg.Model == "" {
		cfg.Model = DefaultJudgeModel
	}
	j := &judge{gen: gen, cfg: cfg}

	judges := []Metric{
		{
			Name:        "judge_exactness",
			Description: "[0;1] Binary similarity between output and output_true, decided by an LLM judge",
			Type:        TypeLLM,
			Require:     []string{"output", "output_true", "query"},
			Func:        j.metric(exactnessTemplate),
		},
		{
			Name:        "judge_notator",
			Description: "[1;10] Semantic similarity between output and output_true, rated by an LLM judge",
			Type:        TypeLLM,
			Require:     []string{"output", "output_true", "query"},
			Func:        j.metric(notatorTemplate),
		},
	}
	for _, m := range judges {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

type judge struct {
	gen Generator
	cfg JudgeConfig
}

type promptData struct {
	Query      string
	Output     string
	OutputTrue string
}

func (j *judge) metric(tmpl *template.Template) Func {
	return func(ctx context.Context, in Input) (Outcome, error) {
		var prompt bytes.Buffer
		if err := tmpl.Execute(&prompt, promptData{
			Query:      in.Param("query"),
			Output:     in.Output,
			OutputTrue: in.OutputTrue,
		}); err != nil {
			return Outcome{}, fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
		}

		resp, err := j.gen.Complete(ctx, j.request(in, prompt.String()))
		if err != nil {
			return Outcome{}, fmt.Errorf("%s judge: %w", tmpl.Name(), err)
		}
		return Outcome{Score: parseJudgeScore(resp.Content), Observation: resp.Content}, nil
	}
}

// request builds the judge call. Model precedence is the "model" metric
// parameter, then the experiment's judge model, then the configured default.
func (j *judge) request(in Input, prompt string) *transport.Request {
	model := in.Param("model")
	if model == "" {
		model = in.JudgeModel
	}
	if model == "" {
		model = j.cfg.Model
	}

	temperature := j.cfg.Temperature
	if v, ok := in.Params["temperature"]; ok {
		if f, err := toFloat(v); err == nil {
			temperature = f
		}
	}

	return &transport.Request{
		Operation:   transport.OpJudge,
		Provider:    j.cfg.Provider,
		Model:       model,
		BaseURL:     j.cfg.BaseURL,
		APIKey:      j.cfg.APIKey,
		Messages:    []transport.Message{{Role: transport.RoleUser, Content: prompt}},
		Temperature: &temperature,
	}
}

// parseJudgeScore reads a bare number from a judge reply, after dropping a
// reasoning prefix, markdown fences and surrounding punctuation. A reply that
// is not a number yields nil.
func parseJudgeScore(content string) *float64 {
	_, answer := domain.SplitThinkAnswer(content)
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	answer = strings.Trim(answer, " \n\"'.%")

	score, err := strconv.ParseFloat(answer, 64)
	if err != nil {
		return nil
	}
	return &score
}
