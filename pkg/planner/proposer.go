package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/llm"
)

const proposerSystem = `You plan browser automation for live product demos.
Reply with one JSON object only: {"steps":[{"kind":"navigate|click|type|wait|assert","target":"...","payload":"...","timeout_seconds":10,"expect":"..."}]}.
Targets of click, type, wait and assert are CSS selectors; navigate targets are URLs or paths.
assert payloads and expect are boolean expressions over url, title, text and found.`

const proposerPrompt = `Plan the steps for this demo moment.
Trigger: {{ .ID }}
{{- with .Description }}
What to show: {{ . }}
{{- end }}
{{- with .ExpectedOutcome }}
Expected outcome: {{ . }}
{{- end }}
{{- with .Target }}
Start page: {{ . }}
{{- end }}
Application base URL: {{ default "unknown" .BaseURL }}
Use at most {{ .MaxSteps }} steps.`

var proposerTmpl = template.Must(template.New("proposer").Funcs(sprig.TxtFuncMap()).Parse(proposerPrompt))

// MaxProposedSteps bounds the length of a proposed sequence.
const MaxProposedSteps = 12

type proposal struct {
	Steps []struct {
		Kind           string  `json:"kind"`
		Target         string  `json:"target"`
		Payload        string  `json:"payload"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
		Expect         string  `json:"expect"`
	} `json:"steps"`
}

// LLMProposer asks a generation service for a step sequence.
type LLMProposer struct {
	Client llm.Client
}

// NewLLMProposer creates a proposer backed by client.
func NewLLMProposer(client llm.Client) *LLMProposer {
	return &LLMProposer{Client: client}
}

// Propose implements Proposer.
func (p *LLMProposer) Propose(ctx context.Context, trigger api.DemoTrigger, baseURL string) ([]api.ActionStep, error) {
	var buf bytes.Buffer
	err := proposerTmpl.Execute(&buf, map[string]any{
		"ID":              trigger.ID,
		"Description":     trigger.Description,
		"ExpectedOutcome": trigger.ExpectedOutcome,
		"Target":          trigger.Target,
		"BaseURL":         baseURL,
		"MaxSteps":        MaxProposedSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("executing proposer template: %w", err)
	}

	raw, err := p.Client.Complete(ctx, llm.Request{System: proposerSystem, Prompt: buf.String(), JSON: true})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", p.Client.ModelName(), err)
	}

	var prop proposal
	if err := json.Unmarshal([]byte(llm.ExtractJSONObject(raw)), &prop); err != nil {
		return nil, fmt.Errorf("proposal is not valid JSON: %w", err)
	}
	if len(prop.Steps) == 0 {
		return nil, fmt.Errorf("proposal has no steps")
	}
	if len(prop.Steps) > MaxProposedSteps {
		return nil, fmt.Errorf("proposal has %d steps, at most %d allowed", len(prop.Steps), MaxProposedSteps)
	}

	steps := make([]api.ActionStep, 0, len(prop.Steps))
	for _, s := range prop.Steps {
		steps = append(steps, api.ActionStep{
			Kind:    api.StepKind(s.Kind),
			Target:  s.Target,
			Payload: s.Payload,
			Timeout: time.Duration(s.TimeoutSeconds * float64(time.Second)),
			Expect:  s.Expect,
		})
	}
	return steps, nil
}
