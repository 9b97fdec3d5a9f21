// Package planner derives an executable action sequence for each demo
// trigger.
//
// Sources are tried in order: the static flow catalog, the steps the
// script declared inline, then the planning routine. The first sequence
// that passes static validation wins.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/executor"
)

// Proposer suggests action steps for a trigger no static source covers.
type Proposer interface {
	Propose(ctx context.Context, trigger api.DemoTrigger, baseURL string) ([]api.ActionStep, error)
}

// Planner maps triggers to sequences. It is safe for concurrent use.
type Planner struct {
	flows           *api.FlowCatalog
	proposer        Proposer
	baseURL         string
	stepTimeout     time.Duration
	planningTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithFlows sets the static flow catalog.
func WithFlows(c *api.FlowCatalog) Option {
	return func(p *Planner) { p.flows = c }
}

// WithProposer sets the planning routine used as the last source.
func WithProposer(pr Proposer) Option {
	return func(p *Planner) { p.proposer = pr }
}

// WithBaseURL sets the URL relative targets are resolved against.
func WithBaseURL(u string) Option {
	return func(p *Planner) { p.baseURL = u }
}

// WithTimeouts sets the default step timeout and the planning routine timeout.
func WithTimeouts(step, planning time.Duration) Option {
	return func(p *Planner) {
		p.stepTimeout = step
		p.planningTimeout = planning
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// New creates a planner.
func New(opts ...Option) *Planner {
	p := &Planner{
		stepTimeout:     api.DefaultStepTimeout,
		planningTimeout: api.DefaultPlanningTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanTrigger returns the sequence for trigger or an error wrapping
// api.ErrUnplannableTrigger. Cancellation of ctx is returned as is.
func (p *Planner) PlanTrigger(ctx context.Context, trigger api.DemoTrigger) (api.Sequence, error) {
	logger := p.logger.With("trigger", trigger.ID)
	var reasons []string

	if trigger.Flow != "" {
		if flow, ok := p.flows.Lookup(trigger.Flow); ok {
			seq, err := p.sequence(trigger, api.SourceFlow, flow.Steps)
			if err == nil {
				return seq, nil
			}
			reasons = append(reasons, fmt.Sprintf("flow %q: %v", flow.Name, err))
		} else {
			reasons = append(reasons, fmt.Sprintf("flow %q is not in the catalog", trigger.Flow))
		}
	}

	if len(trigger.Steps) > 0 {
		seq, err := p.sequence(trigger, api.SourceInline, trigger.Steps)
		if err == nil {
			return seq, nil
		}
		reasons = append(reasons, fmt.Sprintf("inline steps: %v", err))
	}

	if trigger.Checkpoint {
		return api.Sequence{TriggerID: trigger.ID, Source: api.SourceInline, Checkpoint: true, Fallback: p.Fallback(trigger)}, nil
	}

	if p.proposer != nil {
		steps, err := p.propose(ctx, trigger)
		if err != nil && ctx.Err() != nil {
			return api.Sequence{}, ctx.Err()
		}
		if err == nil {
			seq, verr := p.sequence(trigger, api.SourceProposed, steps)
			if verr == nil {
				return seq, nil
			}
			err = verr
		}
		reasons = append(reasons, fmt.Sprintf("planning routine: %v", err))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no flow, steps or planning routine available")
	}
	logger.Warn("trigger unplannable", "reasons", reasons)
	return api.Sequence{}, fmt.Errorf("%w %q: %s", api.ErrUnplannableTrigger, trigger.ID, strings.Join(reasons, "; "))
}

func (p *Planner) propose(ctx context.Context, trigger api.DemoTrigger) ([]api.ActionStep, error) {
	pctx := ctx
	if p.planningTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, p.planningTimeout)
		defer cancel()
	}
	return p.proposer.Propose(pctx, trigger, p.baseURL)
}

// Fallback describes the prerecorded content shown instead of a live demo.
func (p *Planner) Fallback(trigger api.DemoTrigger) string {
	if flow, ok := p.flows.Lookup(trigger.Flow); ok && flow.Fallback != "" {
		return flow.Fallback
	}
	var parts []string
	if trigger.Description != "" {
		parts = append(parts, trigger.Description)
	}
	if trigger.ExpectedOutcome != "" {
		parts = append(parts, "Expected outcome: "+trigger.ExpectedOutcome)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Prerecorded walkthrough for %s.", trigger.ID)
	}
	return strings.Join(parts, " ")
}

// sequence normalizes and validates steps into a sequence for trigger.
func (p *Planner) sequence(trigger api.DemoTrigger, source api.PlanSource, steps []api.ActionStep) (api.Sequence, error) {
	normalized, err := p.normalize(trigger, steps)
	if err != nil {
		return api.Sequence{}, err
	}
	if err := Validate(normalized); err != nil {
		return api.Sequence{}, err
	}
	return api.Sequence{
		TriggerID:  trigger.ID,
		Source:     source,
		Steps:      normalized,
		Checkpoint: trigger.Checkpoint,
	}, nil
}

// normalize resolves relative navigation targets, fills default timeouts
// and makes sure the sequence starts from a known page.
func (p *Planner) normalize(trigger api.DemoTrigger, steps []api.ActionStep) ([]api.ActionStep, error) {
	out := make([]api.ActionStep, 0, len(steps)+1)

	if len(steps) > 0 && steps[0].Kind != api.StepNavigate {
		if entry := trigger.Target; entry != "" || p.baseURL != "" {
			out = append(out, api.ActionStep{Kind: api.StepNavigate, Target: entry})
		}
	}
	out = append(out, steps...)

	for i := range out {
		if out[i].Timeout == 0 {
			out[i].Timeout = p.stepTimeout
		}
		if out[i].Kind == api.StepNavigate {
			resolved, err := p.resolve(out[i].Target)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			out[i].Target = resolved
		}
	}
	return out, nil
}

func (p *Planner) resolve(target string) (string, error) {
	target = strings.TrimSpace(target)
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if p.baseURL == "" {
		return "", fmt.Errorf("relative target %q needs a base URL", target)
	}
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", p.baseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Validate statically checks a normalized sequence.
func Validate(steps []api.ActionStep) error {
	if len(steps) == 0 {
		return errors.New("sequence has no steps")
	}
	var errs []error
	for i, s := range steps {
		if err := validateStep(s); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, s.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func validateStep(s api.ActionStep) error {
	if !api.ValidStepKind(s.Kind) {
		return fmt.Errorf("unknown kind %q", s.Kind)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", s.Timeout)
	}

	switch s.Kind {
	case api.StepNavigate:
		u, err := url.Parse(s.Target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target %q is not an http(s) URL", s.Target)
		}
	case api.StepClick:
		if strings.TrimSpace(s.Target) == "" {
			return errors.New("target selector is required")
		}
	case api.StepType:
		if strings.TrimSpace(s.Target) == "" {
			return errors.New("target selector is required")
		}
	case api.StepWait:
		if strings.TrimSpace(s.Target) == "" {
			d, err := time.ParseDuration(s.Payload)
			if err != nil || d <= 0 {
				return fmt.Errorf("wait needs a target selector or a positive duration payload, got %q", s.Payload)
			}
		}
	case api.StepAssert:
		if strings.TrimSpace(s.Target) == "" && strings.TrimSpace(s.Payload) == "" {
			return errors.New("assert needs a target selector or an expression payload")
		}
		if s.Payload != "" {
			if _, err := executor.CompileExpectation(s.Payload); err != nil {
				return err
			}
		}
	}

	if s.Expect != "" {
		if _, err := executor.CompileExpectation(s.Expect); err != nil {
			return err
		}
	}
	return nil
}
