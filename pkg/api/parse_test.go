package api

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Valid(t *testing.T) {
	content := `
presentation:
  title: Team demo
  audience: mixed
  duration: 5m
  focus: [features, architecture]
limits:
  generationRetries: 0
  tokenBudget: 8000
timeouts:
  step: 10s
demo:
  baseURL: http://localhost:3000
  flows: flows.yaml
`
	dir := t.TempDir()
	f := filepath.Join(dir, "presentation.yaml")
	if err := os.WriteFile(f, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Presentation.Duration != 5*time.Minute {
		t.Fatalf("expected 5m, got %s", c.Presentation.Duration)
	}
	if c.Dir != dir {
		t.Fatalf("expected Dir=%q, got %q", dir, c.Dir)
	}
	if got := c.Limits.GenerationRetriesOrDefault(); got != 0 {
		t.Errorf("explicit zero retries must be kept, got %d", got)
	}
	if got := c.Limits.StepRetriesOrDefault(); got != DefaultStepRetries {
		t.Errorf("expected default step retries, got %d", got)
	}
	if got := c.Timeouts.StepOrDefault(); got != 10*time.Second {
		t.Errorf("expected 10s step timeout, got %s", got)
	}
	if got := c.Timeouts.GenerationOrDefault(); got != DefaultGenerationTimeout {
		t.Errorf("expected default generation timeout, got %s", got)
	}
	if got := c.FlowsPath(); got != filepath.Join(dir, "flows.yaml") {
		t.Errorf("unexpected flows path %q", got)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/presentation.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "presentation.yaml")
	if err := os.WriteFile(f, []byte("presentation: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(f)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadFlows(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "flows.yaml")
	if err := os.WriteFile(f, []byte(`
flows:
  - name: login
    description: Sign in as the demo user
    fallback: Screenshot walkthrough of the sign-in page
    steps:
      - kind: navigate
        target: /login
      - kind: type
        target: "input[name=email]"
        payload: demo@example.com
        timeout: 5s
      - kind: click
        target: "button[type=submit]"
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cat, err := LoadFlows(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flow, ok := cat.Lookup("login")
	if !ok {
		t.Fatal("expected login flow")
	}
	if len(flow.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(flow.Steps))
	}
	if flow.Steps[1].Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", flow.Steps[1].Timeout)
	}
	if _, ok := cat.Lookup("missing"); ok {
		t.Error("unexpected lookup hit")
	}
}

func TestFlowCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		catalog FlowCatalog
		wantErr string
	}{
		{"empty", FlowCatalog{}, "flows list is empty"},
		{"missing name", FlowCatalog{Flows: []Flow{{}}}, "name is required"},
		{"duplicate", FlowCatalog{Flows: []Flow{{Name: "a"}, {Name: "a"}}}, "duplicate name"},
		{"bad kind", FlowCatalog{Flows: []Flow{{Name: "a", Steps: []ActionStep{{Kind: "scroll"}}}}}, "unknown kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte("presentation:\n  audience: technical\n  duration: 10m\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Presentation.Duration != 10*time.Minute || c.Dir != "" {
		t.Errorf("unexpected config %+v", c)
	}

	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"malformed", "presentation: [", "parsing config"},
		{"out of range", "presentation:\n  audience: mixed\n  duration: 2h\n", "duration 2h0m0s out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			if !errors.Is(err, ErrConfigInvalid) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected ErrConfigInvalid containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseFlows_Invalid(t *testing.T) {
	_, err := ParseFlows([]byte("flows: []"))
	if !errors.Is(err, ErrConfigInvalid) || !strings.Contains(err.Error(), "flows list is empty") {
		t.Errorf("expected empty catalog error, got %v", err)
	}
}
