package api

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Presentation: Presentation{
			Audience: AudienceTechnical,
			Duration: 5 * time.Minute,
			Focus:    []string{FocusFeatures},
		},
		Demo: DemoConfig{BaseURL: "https://demo.example.com"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown audience", func(c *Config) { c.Presentation.Audience = "investors" }, "audience"},
		{"empty audience", func(c *Config) { c.Presentation.Audience = "" }, "audience"},
		{"too short", func(c *Config) { c.Presentation.Duration = 30 * time.Second }, "out of range"},
		{"too long", func(c *Config) { c.Presentation.Duration = 2 * time.Hour }, "out of range"},
		{"unknown focus", func(c *Config) { c.Presentation.Focus = []string{"pricing"} }, "focus area"},
		{"duplicate focus", func(c *Config) { c.Presentation.Focus = []string{FocusSecurity, FocusSecurity} }, "duplicate focus"},
		{"negative retries", func(c *Config) { c.Limits.GenerationRetries = IntPtr(-1) }, "generationRetries"},
		{"too many step retries", func(c *Config) { c.Limits.StepRetries = IntPtr(MaxRetries + 1) }, "stepRetries"},
		{"tiny budget", func(c *Config) { c.Limits.TokenBudget = IntPtr(10) }, "tokenBudget"},
		{"negative timeout", func(c *Config) { c.Timeouts.Step = -time.Second }, "step timeout"},
		{"relative base url", func(c *Config) { c.Demo.BaseURL = "localhost:3000" }, "baseURL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_TimeoutsReportedInOrder(t *testing.T) {
	c := validConfig()
	c.Timeouts = Timeouts{Generation: -time.Second, Planning: -2 * time.Second, Step: -3 * time.Second}
	for i := 0; i < 20; i++ {
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), "generation timeout must not be negative, got -1s") {
			t.Fatalf("expected the generation timeout to be reported first, got %v", err)
		}
	}

	c.Timeouts.Generation = 0
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "planning timeout") {
		t.Errorf("expected planning timeout error, got %v", err)
	}
}

func TestValidate_BoundaryDurations(t *testing.T) {
	for _, d := range []time.Duration{MinDuration, MaxDuration} {
		c := validConfig()
		c.Presentation.Duration = d
		if err := c.Validate(); err != nil {
			t.Errorf("duration %s should be valid: %v", d, err)
		}
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrContextOverflow, true},
		{ErrGenerationFailed, true},
		{ErrConfigInvalid, true},
		{ErrUnplannableTrigger, false},
		{ErrExecutionStepFailed, false},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
