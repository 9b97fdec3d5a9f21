// Package generate turns a ContextBundle into a validated, timed
// presentation script by calling a generation service.
//
// Every attempt sends the same instruction. A rejected response is retried
// with the rejection reason appended as a corrective instruction until the
// retry limit is reached, at which point api.ErrGenerationFailed is
// returned.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/llm"
)

// Input is everything one generation needs.
type Input struct {
	Bundle       api.ContextBundle
	Presentation api.Presentation
	// Flows lists the names of known demo flows the script may reference.
	Flows []string
	// Retries is the number of additional attempts after the first.
	Retries int
	// Timeout bounds each call to the generation service. Zero means none.
	Timeout time.Duration
	// OnAttempt, when set, observes the attempts of this call only.
	OnAttempt AttemptFunc
	// Logger, when set, replaces the generator's logger for this call.
	Logger *slog.Logger
}

// AttemptFunc observes the outcome of each attempt; err is nil on success.
type AttemptFunc func(attempt int, err error)

// Generator produces scripts. It is safe for concurrent use.
type Generator struct {
	client    llm.Client
	logger    *slog.Logger
	schema    *sjsonschema.Schema
	schemaDoc []byte
	onAttempt AttemptFunc
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithAttemptHook registers fn to be called after every attempt.
func WithAttemptHook(fn AttemptFunc) Option {
	return func(g *Generator) { g.onAttempt = fn }
}

// New creates a generator backed by client.
func New(client llm.Client, opts ...Option) (*Generator, error) {
	if client == nil {
		return nil, errors.New("generation client is required")
	}
	schemaDoc, err := ResponseSchema()
	if err != nil {
		return nil, err
	}
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}

	g := &Generator{
		client:    client,
		logger:    slog.Default(),
		schema:    sch,
		schemaDoc: schemaDoc,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate produces a script for in. It returns api.ErrGenerationFailed when
// every attempt fails, or the context error when ctx is done.
func (g *Generator) Generate(ctx context.Context, in Input) (*api.Script, error) {
	if in.Presentation.Duration <= 0 {
		return nil, fmt.Errorf("%w: presentation duration must be positive", api.ErrConfigInvalid)
	}
	if in.Retries < 0 {
		return nil, fmt.Errorf("%w: generation retries must not be negative", api.ErrConfigInvalid)
	}

	data := newPromptData(in, g.schemaDoc)
	system, err := render(systemTmpl, data)
	if err != nil {
		return nil, err
	}
	prompt, err := render(promptTmpl, data)
	if err != nil {
		return nil, err
	}

	logger := g.logger
	if in.Logger != nil {
		logger = in.Logger
	}

	attempts := in.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req := llm.Request{System: system, Prompt: prompt, JSON: true}
		if lastErr != nil {
			corrective, err := render(correctiveTmpl, correctiveData{Attempt: attempt - 1, Error: lastErr.Error()})
			if err != nil {
				return nil, err
			}
			req.Prompt += corrective
		}

		script, err := g.attempt(ctx, req, in)
		if g.onAttempt != nil {
			g.onAttempt(attempt, err)
		}
		if in.OnAttempt != nil {
			in.OnAttempt(attempt, err)
		}
		if err == nil {
			logger.Info("script generated", "attempt", attempt, "sections", len(script.Sections),
				"triggers", len(script.Triggers), "duration", script.TotalDuration())
			return script, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("generating script: %w", ctxErr)
		}

		logger.Warn("script attempt rejected", "attempt", attempt, "attempts", attempts, "error", err)
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", api.ErrGenerationFailed, attempts, lastErr)
}

func (g *Generator) attempt(ctx context.Context, req llm.Request, in Input) (*api.Script, error) {
	callCtx := ctx
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	raw, err := g.client.Complete(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", g.client.ModelName(), err)
	}
	return g.parse(raw, in.Presentation)
}

// parse validates a raw response and converts it into a script.
func (g *Generator) parse(raw string, p api.Presentation) (*api.Script, error) {
	body := llm.ExtractJSONObject(raw)

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := g.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("response does not match the schema: %s", schemaViolations(err))
	}

	var resp scriptResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	script := toScript(resp, p)
	if err := ValidateScript(script); err != nil {
		return nil, err
	}
	if err := CheckDuration(script.TotalDuration(), p.Duration); err != nil {
		return nil, err
	}
	return script, nil
}

func toScript(resp scriptResponse, p api.Presentation) *api.Script {
	script := &api.Script{Title: resp.Title}
	if script.Title == "" {
		script.Title = p.Title
	}

	var start time.Duration
	for _, s := range resp.Sections {
		d := seconds(s.DurationSeconds)
		script.Sections = append(script.Sections, api.ScriptSection{
			ID:        s.ID,
			Title:     s.Title,
			Narration: s.Narration,
			Start:     start,
			Duration:  d,
			Triggers:  s.Triggers,
		})
		start += d
	}

	for _, t := range resp.Triggers {
		trigger := api.DemoTrigger{
			ID:              t.ID,
			Target:          t.Target,
			Flow:            t.Flow,
			Description:     t.Description,
			ExpectedOutcome: t.ExpectedOutcome,
			Checkpoint:      t.Checkpoint,
		}
		for _, st := range t.Steps {
			trigger.Steps = append(trigger.Steps, api.ActionStep{
				Kind:    api.StepKind(st.Kind),
				Target:  st.Target,
				Payload: st.Payload,
				Timeout: seconds(st.TimeoutSeconds),
				Expect:  st.Expect,
			})
		}
		script.Triggers = append(script.Triggers, trigger)
	}
	return script
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}
