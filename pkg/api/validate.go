package api

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

var validAudiences = map[string]bool{
	AudienceTechnical: true,
	AudienceBusiness:  true,
	AudienceMixed:     true,
	AudienceExecutive: true,
}

var validFocusAreas = map[string]bool{
	FocusArchitecture:   true,
	FocusFeatures:       true,
	FocusUserExperience: true,
	FocusPerformance:    true,
	FocusSecurity:       true,
	FocusIntegration:    true,
}

// Validate checks the configuration. Every error wraps ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.Presentation.validate(); err != nil {
		return fmt.Errorf("presentation: %w", err)
	}
	if err := c.Limits.validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := c.Timeouts.validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if err := c.Demo.validate(); err != nil {
		return fmt.Errorf("demo: %w", err)
	}
	return nil
}

func (p Presentation) validate() error {
	if !validAudiences[p.Audience] {
		return fmt.Errorf("audience %q is not valid (valid: %s)", p.Audience, keys(validAudiences))
	}
	if p.Duration < MinDuration || p.Duration > MaxDuration {
		return fmt.Errorf("duration %s out of range [%s, %s]", p.Duration, MinDuration, MaxDuration)
	}
	seen := make(map[string]bool, len(p.Focus))
	for _, f := range p.Focus {
		if !validFocusAreas[f] {
			return fmt.Errorf("focus area %q is not valid (valid: %s)", f, keys(validFocusAreas))
		}
		if seen[f] {
			return fmt.Errorf("duplicate focus area %q", f)
		}
		seen[f] = true
	}
	return nil
}

func (l Limits) validate() error {
	if err := checkRange("generationRetries", l.GenerationRetries, 0, MaxRetries); err != nil {
		return err
	}
	if err := checkRange("stepRetries", l.StepRetries, 0, MaxRetries); err != nil {
		return err
	}
	return checkRange("tokenBudget", l.TokenBudget, MinTokenBudget, MaxTokenBudget)
}

func (t Timeouts) validate() error {
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"generation", t.Generation},
		{"planning", t.Planning},
		{"step", t.Step},
	} {
		if f.d < 0 {
			return fmt.Errorf("%s timeout must not be negative, got %s", f.name, f.d)
		}
	}
	return nil
}

func (d DemoConfig) validate() error {
	if d.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return fmt.Errorf("baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("baseURL %q must be an absolute http(s) URL", d.BaseURL)
	}
	return nil
}

func checkRange(name string, v *int, lo, hi int) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s %d out of range [%d, %d]", name, *v, lo, hi)
	}
	return nil
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return strings.Join(out, ", ")
}
