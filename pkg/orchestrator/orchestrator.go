// Package orchestrator sequences context building, script generation, demo
// planning and demo execution into one time-aligned ResultBundle.
//
// A run moves through building, generating, planning, executing and
// assembling to done. Context overflow, exhausted generation retries and
// cancellation move it to aborted, which yields only the analysis summary
// and the error. Unplannable triggers fall back to a static description and
// failing triggers are logged; neither stops the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/systemstart/showrunner/pkg/analysis"
	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/contextbuild"
	"github.com/systemstart/showrunner/pkg/executor"
	"github.com/systemstart/showrunner/pkg/generate"
	"github.com/systemstart/showrunner/pkg/metrics"
	"github.com/systemstart/showrunner/pkg/planner"
)

// ScriptGenerator produces a validated script from a context bundle.
type ScriptGenerator interface {
	Generate(ctx context.Context, in generate.Input) (*api.Script, error)
}

// Session is one browser session, used by a single run.
type Session interface {
	executor.Driver
	Close() error
}

// SessionOpener starts a session for a run.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// SessionOpenerFunc adapts a function to SessionOpener.
type SessionOpenerFunc func(ctx context.Context) (Session, error)

func (f SessionOpenerFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// Hooks observe a run. They are called synchronously from the run's
// goroutine and must not block.
type Hooks struct {
	OnTransition func(runID string, from, to Stage)
	OnTrigger    func(runID string, log api.TriggerLog)
}

// Request describes one run.
type Request struct {
	// RunID is generated when empty.
	RunID  string
	Config *api.Config
	Flows  *api.FlowCatalog

	// Repository and Document are local paths analyzed during building.
	// Input text that is already set is used as is.
	Repository string
	Document   string
	Input      contextbuild.Input

	// Hooks observe this run only, after the orchestrator's own hooks.
	Hooks Hooks
}

// Orchestrator runs requests. It keeps no per-run state, so concurrent
// Run calls are independent.
type Orchestrator struct {
	generator    ScriptGenerator
	proposer     planner.Proposer
	opener       SessionOpener
	analyzer     *analysis.Analyzer
	hooks        Hooks
	metrics      *metrics.Collectors
	logger       *slog.Logger
	stepBackoff  time.Duration
	stepMaxDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger; every run adds its id.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSessionOpener sets how browser sessions are started. Without one,
// every trigger with steps falls back to its static description.
func WithSessionOpener(op SessionOpener) Option {
	return func(o *Orchestrator) { o.opener = op }
}

// WithProposer sets the planning routine for triggers no flow covers.
func WithProposer(p planner.Proposer) Option {
	return func(o *Orchestrator) { o.proposer = p }
}

func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithStepBackoff sets the retry delays between step attempts.
func WithStepBackoff(initial, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.stepBackoff = initial
		o.stepMaxDelay = maxDelay
	}
}

// New creates an orchestrator around a script generator.
func New(gen ScriptGenerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator:    gen,
		analyzer:     analysis.NewAnalyzer(),
		logger:       slog.Default(),
		stepBackoff:  500 * time.Millisecond,
		stepMaxDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run bundles a RunState with what the stages share.
type run struct {
	*Orchestrator
	state    *RunState
	cfg      *api.Config
	logger   *slog.Logger
	runHooks Hooks
}

// Run executes req to completion.
//
// An invalid configuration returns an error wrapping api.ErrConfigInvalid
// and no bundle. An aborted run returns its bundle together with the error
// that aborted it. Otherwise the bundle has status done and err is nil.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*api.ResultBundle, error) {
	if req.Config == nil {
		return nil, fmt.Errorf("%w: configuration is required", api.ErrConfigInvalid)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	if req.Flows != nil {
		if err := req.Flows.Validate(); err != nil {
			return nil, fmt.Errorf("%w: flows: %w", api.ErrConfigInvalid, err)
		}
	}

	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		Orchestrator: o,
		state:        newRunState(id, time.Now()),
		cfg:          req.Config,
		logger:       o.logger.With("run", id),
		runHooks:     req.Hooks,
	}

	if o.metrics != nil {
		o.metrics.ActiveRuns.Inc()
		defer o.metrics.ActiveRuns.Dec()
	}
	r.logger.Info("run started", "audience", r.cfg.Presentation.Audience, "duration", r.cfg.Presentation.Duration)

	stages := []struct {
		next Stage
		fn   func(context.Context, Request) error
	}{
		{StageGenerating, r.build},
		{StagePlanning, r.generate},
		{StageExecuting, r.plan},
		{StageAssembling, r.execute},
	}
	for _, st := range stages {
		if err := st.fn(ctx, req); err != nil {
			return r.abort(err)
		}
		if err := ctx.Err(); err != nil {
			return r.abort(err)
		}
		r.transition(st.next)
	}

	bundle := r.assemble(api.StatusDone)
	r.transition(StageDone)
	bundle.Stage = string(StageDone)

	if o.metrics != nil {
		o.metrics.Runs.WithLabelValues(string(api.StatusDone)).Inc()
	}
	r.logger.Info("run finished", "status", bundle.Status,
		"succeeded", bundle.CountStatus(api.TriggerSucceeded),
		"failed", bundle.CountStatus(api.TriggerFailed),
		"fallback", bundle.CountStatus(api.TriggerFallback))
	return bundle, nil
}

func (r *run) transition(next Stage) {
	from := r.state.Stage
	spent, err := r.state.advance(next, time.Now())
	if err != nil {
		r.logger.Error("state machine", "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.ObserveStage(string(from), spent)
	}
	r.logger.Debug("stage transition", "from", from, "to", next, "spent", spent)
	for _, h := range []Hooks{r.hooks, r.runHooks} {
		if h.OnTransition != nil {
			h.OnTransition(r.state.ID, from, next)
		}
	}
}

func (r *run) abort(err error) (*api.ResultBundle, error) {
	r.state.Err = err
	stage := r.state.Stage
	r.transition(StageAborted)

	bundle := &api.ResultBundle{
		RunID:      r.state.ID,
		Status:     api.StatusAborted,
		Stage:      string(stage),
		DemoLog:    []api.TriggerLog{},
		Summary:    r.state.Summary,
		Error:      err.Error(),
		StartedAt:  r.state.StartedAt,
		FinishedAt: time.Now(),
	}

	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(string(api.StatusAborted)).Inc()
	}
	r.logger.Error("run aborted", "stage", stage, "error", err)
	return bundle, err
}

func (r *run) build(ctx context.Context, req Request) error {
	in := req.Input
	if req.Repository != "" || req.Document != "" {
		repo, doc := req.Repository, req.Document
		if in.Codebase != "" {
			repo = ""
		}
		if in.DocText != "" {
			doc = ""
		}
		gathered, err := analysis.Gather(ctx, r.logger, r.analyzer, repo, doc)
		if err != nil {
			return err
		}
		if repo != "" {
			in.Repository, in.Codebase = gathered.Repository, gathered.Codebase
		}
		if doc != "" {
			in.Document, in.DocText = gathered.Document, gathered.DocText
		}
	}
	in.Metadata = contextbuild.MergeMetadata(presentationMetadata(r.cfg.Presentation), in.Metadata)

	bundle, err := contextbuild.Build(in, r.cfg.Limits.TokenBudgetOrDefault())
	r.state.Summary = contextbuild.Summarize(in, bundle)
	if err != nil {
		r.state.Summary.Repository, r.state.Summary.Document = in.Repository, in.Document
		r.state.Summary.DocTokens = contextbuild.EstimateTokens(in.DocText)
		r.state.Summary.CodeTokens = contextbuild.EstimateTokens(in.Codebase)
		r.state.Summary.Budget = r.cfg.Limits.TokenBudgetOrDefault()
		return err
	}
	r.state.Bundle = bundle
	r.logger.Info("context built", "tokens", bundle.TotalTokens(), "budget", bundle.Budget(),
		"codeTruncated", r.state.Summary.CodeTruncated)
	return nil
}

func (r *run) generate(ctx context.Context, req Request) error {
	script, err := r.generator.Generate(ctx, generate.Input{
		Bundle:       r.state.Bundle,
		Presentation: r.cfg.Presentation,
		Flows:        req.Flows.Names(),
		Retries:      r.cfg.Limits.GenerationRetriesOrDefault(),
		Timeout:      r.cfg.Timeouts.GenerationOrDefault(),
		Logger:       r.logger,
		OnAttempt: func(attempt int, err error) {
			r.state.GenerationAttempts = attempt
			if r.metrics != nil {
				r.metrics.GenerationAttempt(err)
			}
		},
	})
	if err != nil {
		return err
	}
	r.state.Script = script
	return nil
}

func (r *run) plan(ctx context.Context, req Request) error {
	p := planner.New(
		planner.WithFlows(req.Flows),
		planner.WithProposer(r.proposer),
		planner.WithBaseURL(r.cfg.Demo.BaseURL),
		planner.WithTimeouts(r.cfg.Timeouts.StepOrDefault(), r.cfg.Timeouts.PlanningOrDefault()),
		planner.WithLogger(r.logger),
	)

	plan := &api.Plan{Sequences: make(map[string]api.Sequence)}
	for _, cue := range r.state.Script.Cues() {
		r.state.Trigger = cue.TriggerID
		trigger, _ := r.state.Script.Trigger(cue.TriggerID)

		seq, err := p.PlanTrigger(ctx, trigger)
		switch {
		case err == nil:
		case errors.Is(err, api.ErrUnplannableTrigger):
			seq = api.Sequence{
				TriggerID: trigger.ID,
				Source:    api.SourceFallback,
				Fallback:  p.Fallback(trigger),
				Reason:    err.Error(),
			}
		default:
			return err
		}
		plan.Sequences[trigger.ID] = seq
	}
	r.state.Trigger = ""

	if err := checkPlan(r.state.Script, plan); err != nil {
		return err
	}
	r.state.Plan = plan
	return nil
}

// checkPlan verifies every cued trigger has steps or a fallback.
func checkPlan(s *api.Script, plan *api.Plan) error {
	for _, cue := range s.Cues() {
		seq, ok := plan.Sequences[cue.TriggerID]
		if !ok {
			return fmt.Errorf("trigger %q has no planned sequence", cue.TriggerID)
		}
		if len(seq.Steps) == 0 && seq.Fallback == "" {
			return fmt.Errorf("trigger %q has neither steps nor a fallback", cue.TriggerID)
		}
	}
	return nil
}

func (r *run) execute(ctx context.Context, req Request) error {
	cues := r.state.Script.Cues()
	fb := planner.New(planner.WithFlows(req.Flows))

	var session Session
	var openErr error
	if r.needsBrowser() {
		if r.opener == nil {
			openErr = errors.New("no browser session configured")
		} else {
			session, openErr = r.opener.Open(ctx)
		}
		if openErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("browser unavailable, using fallbacks", "error", openErr)
		}
	}
	if session != nil {
		defer func() {
			if err := session.Close(); err != nil {
				r.logger.Warn("closing browser session", "error", err)
			}
		}()
	}

	exec := executor.New(
		executor.WithRetries(r.cfg.Limits.StepRetriesOrDefault()),
		executor.WithStepTimeout(r.cfg.Timeouts.StepOrDefault()),
		executor.WithBackoff(r.stepBackoff, r.stepMaxDelay),
		executor.WithLogger(r.logger),
		executor.WithStepHook(func(triggerID string, l api.StepLog) {
			r.state.StepAttempts[triggerID] += l.Attempts
			if r.metrics != nil {
				r.metrics.StepAttempts.Add(float64(l.Attempts))
			}
		}),
	)

	for _, cue := range cues {
		r.state.Trigger = cue.TriggerID
		seq := r.state.Plan.Sequences[cue.TriggerID]
		trigger, _ := r.state.Script.Trigger(cue.TriggerID)

		var log api.TriggerLog
		var err error
		switch {
		case seq.Source == api.SourceFallback:
			log = api.TriggerLog{TriggerID: seq.TriggerID, Status: api.TriggerFallback, Fallback: seq.Fallback, Error: seq.Reason}
		case len(seq.Steps) == 0:
			log = api.TriggerLog{TriggerID: seq.TriggerID, Status: api.TriggerCheckpoint}
		case session == nil:
			log = api.TriggerLog{TriggerID: seq.TriggerID, Status: api.TriggerFallback, Fallback: fb.Fallback(trigger), Error: openErr.Error()}
		default:
			log, err = exec.Execute(ctx, session, seq)
			if log.Status == api.TriggerFailed {
				log.Fallback = fb.Fallback(trigger)
			}
		}

		log.SectionID = cue.Section.ID
		log.CueAt = cue.Section.Start
		log.Overrun = log.Elapsed > cue.Section.Duration
		r.record(log)

		if err != nil {
			return err
		}
	}
	r.state.Trigger = ""
	return nil
}

func (r *run) needsBrowser() bool {
	for _, seq := range r.state.Plan.Sequences {
		if seq.Source != api.SourceFallback && len(seq.Steps) > 0 {
			return true
		}
	}
	return false
}

func (r *run) record(log api.TriggerLog) {
	r.state.DemoLog = append(r.state.DemoLog, log)
	if r.metrics != nil {
		r.metrics.Triggers.WithLabelValues(string(log.Status)).Inc()
	}
	for _, h := range []Hooks{r.hooks, r.runHooks} {
		if h.OnTrigger != nil {
			h.OnTrigger(r.state.ID, log)
		}
	}
	r.logger.Info("trigger finished", "trigger", log.TriggerID, "status", log.Status,
		"elapsed", log.Elapsed, "overrun", log.Overrun)
}

func (r *run) assemble(status api.RunStatus) *api.ResultBundle {
	demoLog := r.state.DemoLog
	if demoLog == nil {
		demoLog = []api.TriggerLog{}
	}
	return &api.ResultBundle{
		RunID:      r.state.ID,
		Status:     status,
		Script:     r.state.Script,
		Plan:       r.state.Plan,
		DemoLog:    demoLog,
		Summary:    r.state.Summary,
		StartedAt:  r.state.StartedAt,
		FinishedAt: time.Now(),
	}
}

func presentationMetadata(p api.Presentation) map[string]string {
	m := map[string]string{
		"audience": p.Audience,
		"duration": p.Duration.String(),
	}
	if p.Title != "" {
		m["title"] = p.Title
	}
	if len(p.Focus) > 0 {
		m["focus"] = fmt.Sprint(p.Focus)
	}
	return m
}
