package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/llm"
)

type proposerFunc func(ctx context.Context, trigger api.DemoTrigger, baseURL string) ([]api.ActionStep, error)

func (f proposerFunc) Propose(ctx context.Context, trigger api.DemoTrigger, baseURL string) ([]api.ActionStep, error) {
	return f(ctx, trigger, baseURL)
}

type stubClient struct {
	reply string
	err   error
	req   llm.Request
}

func (c *stubClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.req = req
	return c.reply, c.err
}

func (c *stubClient) ModelName() string { return "stub" }

func catalog() *api.FlowCatalog {
	return &api.FlowCatalog{Flows: []api.Flow{
		{
			Name:     "login",
			Fallback: "Screenshot of the login page.",
			Steps: []api.ActionStep{
				{Kind: api.StepNavigate, Target: "/login"},
				{Kind: api.StepType, Target: "#email", Payload: "demo@example.com"},
				{Kind: api.StepClick, Target: "button[type=submit]"},
			},
		},
		{
			Name:  "broken",
			Steps: []api.ActionStep{{Kind: api.StepClick}},
		},
	}}
}

func newPlanner(opts ...Option) *Planner {
	base := []Option{
		WithFlows(catalog()),
		WithBaseURL("http://app.test"),
		WithTimeouts(20*time.Second, time.Second),
	}
	return New(append(base, opts...)...)
}

func TestPlanTrigger_StaticFlow(t *testing.T) {
	seq, err := newPlanner().PlanTrigger(context.Background(), api.DemoTrigger{ID: "t1", Flow: "login"})
	require.NoError(t, err)

	assert.Equal(t, api.SourceFlow, seq.Source)
	require.Len(t, seq.Steps, 3)
	assert.Equal(t, "http://app.test/login", seq.Steps[0].Target)
	for _, s := range seq.Steps {
		assert.Equal(t, 20*time.Second, s.Timeout)
	}
}

func TestPlanTrigger_InlineStepsGetLeadingNavigate(t *testing.T) {
	trigger := api.DemoTrigger{
		ID:     "t2",
		Target: "/reports",
		Steps: []api.ActionStep{
			{Kind: api.StepClick, Target: "#export", Timeout: 5 * time.Second},
			{Kind: api.StepAssert, Payload: `text contains "Exported"`},
		},
	}

	seq, err := newPlanner().PlanTrigger(context.Background(), trigger)
	require.NoError(t, err)

	assert.Equal(t, api.SourceInline, seq.Source)
	require.Len(t, seq.Steps, 3)
	assert.Equal(t, api.ActionStep{Kind: api.StepNavigate, Target: "http://app.test/reports", Timeout: 20 * time.Second}, seq.Steps[0])
	assert.Equal(t, 5*time.Second, seq.Steps[1].Timeout)
	assert.Equal(t, "t2", seq.TriggerID)
}

func TestPlanTrigger_FallsThroughSources(t *testing.T) {
	var proposed bool
	p := newPlanner(WithProposer(proposerFunc(func(_ context.Context, tr api.DemoTrigger, base string) ([]api.ActionStep, error) {
		proposed = true
		assert.Equal(t, "http://app.test", base)
		return []api.ActionStep{{Kind: api.StepNavigate, Target: "/settings"}, {Kind: api.StepClick, Target: "#save"}}, nil
	})))

	trigger := api.DemoTrigger{
		ID:    "t3",
		Flow:  "broken",
		Steps: []api.ActionStep{{Kind: api.StepType, Payload: "no target"}},
	}
	seq, err := p.PlanTrigger(context.Background(), trigger)
	require.NoError(t, err)
	assert.True(t, proposed)
	assert.Equal(t, api.SourceProposed, seq.Source)
	assert.Equal(t, "http://app.test/settings", seq.Steps[0].Target)
}

func TestPlanTrigger_Unplannable(t *testing.T) {
	tests := []struct {
		name    string
		planner *Planner
		trigger api.DemoTrigger
		reason  string
	}{
		{
			name:    "nothing available",
			planner: newPlanner(),
			trigger: api.DemoTrigger{ID: "t"},
			reason:  "no flow, steps or planning routine",
		},
		{
			name:    "unknown flow",
			planner: newPlanner(),
			trigger: api.DemoTrigger{ID: "t", Flow: "checkout"},
			reason:  `flow "checkout" is not in the catalog`,
		},
		{
			name: "proposer fails",
			planner: newPlanner(WithProposer(proposerFunc(func(context.Context, api.DemoTrigger, string) ([]api.ActionStep, error) {
				return nil, errors.New("service unavailable")
			}))),
			trigger: api.DemoTrigger{ID: "t"},
			reason:  "service unavailable",
		},
		{
			name: "proposal invalid",
			planner: newPlanner(WithProposer(proposerFunc(func(context.Context, api.DemoTrigger, string) ([]api.ActionStep, error) {
				return []api.ActionStep{{Kind: "hover", Target: "#x"}}, nil
			}))),
			trigger: api.DemoTrigger{ID: "t"},
			reason:  `unknown kind "hover"`,
		},
		{
			name:    "relative target without base",
			planner: New(),
			trigger: api.DemoTrigger{ID: "t", Steps: []api.ActionStep{{Kind: api.StepNavigate, Target: "/home"}}},
			reason:  "needs a base URL",
		},
		{
			name:    "bad expectation",
			planner: newPlanner(),
			trigger: api.DemoTrigger{ID: "t", Steps: []api.ActionStep{{Kind: api.StepClick, Target: "#a", Expect: "title =="}}},
			reason:  "compile expectation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.planner.PlanTrigger(context.Background(), tt.trigger)
			require.ErrorIs(t, err, api.ErrUnplannableTrigger)
			assert.Contains(t, err.Error(), tt.reason)
			assert.False(t, api.IsFatal(err))
		})
	}
}

func TestPlanTrigger_Checkpoint(t *testing.T) {
	seq, err := newPlanner().PlanTrigger(context.Background(), api.DemoTrigger{ID: "pause", Checkpoint: true})
	require.NoError(t, err)
	assert.True(t, seq.Checkpoint)
	assert.Empty(t, seq.Steps)
	assert.Equal(t, "Prerecorded walkthrough for pause.", seq.Fallback)
}

func TestPlanTrigger_ProposerTimeoutAndCancellation(t *testing.T) {
	hang := proposerFunc(func(ctx context.Context, _ api.DemoTrigger, _ string) ([]api.ActionStep, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := newPlanner(WithProposer(hang), WithTimeouts(time.Second, 10*time.Millisecond))
	_, err := p.PlanTrigger(context.Background(), api.DemoTrigger{ID: "slow"})
	require.ErrorIs(t, err, api.ErrUnplannableTrigger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newPlanner(WithProposer(hang)).PlanTrigger(ctx, api.DemoTrigger{ID: "slow"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFallback(t *testing.T) {
	p := newPlanner()
	assert.Equal(t, "Screenshot of the login page.", p.Fallback(api.DemoTrigger{ID: "t", Flow: "login"}))
	assert.Equal(t, "Open the report. Expected outcome: A chart appears.",
		p.Fallback(api.DemoTrigger{ID: "t", Description: "Open the report.", ExpectedOutcome: "A chart appears."}))
	assert.Equal(t, "Prerecorded walkthrough for t.", p.Fallback(api.DemoTrigger{ID: "t"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		step    api.ActionStep
		wantErr string
	}{
		{"ok navigate", api.ActionStep{Kind: api.StepNavigate, Target: "https://x.test/a", Timeout: time.Second}, ""},
		{"zero timeout", api.ActionStep{Kind: api.StepClick, Target: "#a"}, "timeout must be positive"},
		{"ftp navigate", api.ActionStep{Kind: api.StepNavigate, Target: "ftp://x.test", Timeout: time.Second}, "not an http(s) URL"},
		{"type without target", api.ActionStep{Kind: api.StepType, Payload: "x", Timeout: time.Second}, "selector is required"},
		{"wait duration", api.ActionStep{Kind: api.StepWait, Payload: "2s", Timeout: time.Second}, ""},
		{"wait nothing", api.ActionStep{Kind: api.StepWait, Timeout: time.Second}, "positive duration"},
		{"assert nothing", api.ActionStep{Kind: api.StepAssert, Timeout: time.Second}, "target selector or an expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]api.ActionStep{tt.step})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.Error(t, Validate(nil))
}

func TestLLMProposer(t *testing.T) {
	client := &stubClient{reply: "```json\n" + `{"steps":[{"kind":"click","target":"#new","timeout_seconds":3},{"kind":"assert","payload":"found"}]}` + "\n```"}
	steps, err := NewLLMProposer(client).Propose(context.Background(),
		api.DemoTrigger{ID: "t", Description: "Create a project", Target: "/projects"}, "http://app.test")
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, api.ActionStep{Kind: api.StepClick, Target: "#new", Timeout: 3 * time.Second}, steps[0])
	assert.True(t, client.req.JSON)
	assert.Contains(t, client.req.Prompt, "Create a project")
	assert.Contains(t, client.req.Prompt, "Start page: /projects")
	assert.Contains(t, client.req.Prompt, "http://app.test")

	prose := &stubClient{reply: "Sure, here are the steps:\n" + `{"steps":[{"kind":"click","target":"#save","timeout_seconds":2}]}` + "\nGood luck!"}
	steps, err = NewLLMProposer(prose).Propose(context.Background(), api.DemoTrigger{ID: "t"}, "")
	require.NoError(t, err)
	assert.Equal(t, []api.ActionStep{{Kind: api.StepClick, Target: "#save", Timeout: 2 * time.Second}}, steps)

	for _, reply := range []string{"nope", `{"steps":[]}`} {
		_, err := NewLLMProposer(&stubClient{reply: reply}).Propose(context.Background(), api.DemoTrigger{ID: "t"}, "")
		assert.Error(t, err)
	}
	_, err = NewLLMProposer(&stubClient{err: errors.New("down")}).Propose(context.Background(), api.DemoTrigger{ID: "t"}, "")
	assert.ErrorContains(t, err, "down")
}
