package api

import "time"

const (
	AudienceTechnical = "technical"
	AudienceBusiness  = "business"
	AudienceMixed     = "mixed"
	AudienceExecutive = "executive"

	FocusArchitecture   = "architecture"
	FocusFeatures       = "features"
	FocusUserExperience = "user-experience"
	FocusPerformance    = "performance"
	FocusSecurity       = "security"
	FocusIntegration    = "integration"

	MinDuration = time.Minute
	MaxDuration = time.Hour

	DefaultGenerationRetries = 2
	DefaultStepRetries       = 1
	DefaultTokenBudget       = 8000
	MaxRetries               = 5
	MinTokenBudget           = 512
	MaxTokenBudget           = 1_000_000

	DefaultGenerationTimeout = 2 * time.Minute
	DefaultPlanningTimeout   = time.Minute
	DefaultStepTimeout       = 30 * time.Second

	// DurationTolerance is the accepted relative deviation between the
	// requested duration and the generated narration total.
	DurationTolerance = 0.10
)

// Config is the presentation configuration file format.
type Config struct {
	Presentation Presentation `yaml:"presentation" json:"presentation"`
	Limits       Limits       `yaml:"limits" json:"limits"`
	Timeouts     Timeouts     `yaml:"timeouts" json:"timeouts"`
	Demo         DemoConfig   `yaml:"demo" json:"demo"`

	// Set by the loader, not from YAML.
	Dir string `yaml:"-" json:"-"`
}

// Presentation describes what to generate.
type Presentation struct {
	Title    string        `yaml:"title" json:"title,omitempty"`
	Audience string        `yaml:"audience" json:"audience"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	Focus    []string      `yaml:"focus" json:"focus,omitempty"`
}

// Limits bounds retries and context size. Nil fields take their defaults.
type Limits struct {
	GenerationRetries *int `yaml:"generationRetries,omitempty" json:"generationRetries,omitempty"`
	StepRetries       *int `yaml:"stepRetries,omitempty" json:"stepRetries,omitempty"`
	TokenBudget       *int `yaml:"tokenBudget,omitempty" json:"tokenBudget,omitempty"`
}

// Timeouts for the blocking external calls. Zero means default.
type Timeouts struct {
	Generation time.Duration `yaml:"generation" json:"generation,omitempty"`
	Planning   time.Duration `yaml:"planning" json:"planning,omitempty"`
	Step       time.Duration `yaml:"step" json:"step,omitempty"`
}

// DemoConfig points at the application under demonstration.
type DemoConfig struct {
	BaseURL string `yaml:"baseURL" json:"baseURL,omitempty"`
	Flows   string `yaml:"flows" json:"flows,omitempty"`
}

// GenerationRetriesOrDefault returns the configured limit or the default.
func (l Limits) GenerationRetriesOrDefault() int {
	return intOrDefault(l.GenerationRetries, DefaultGenerationRetries)
}

func (l Limits) StepRetriesOrDefault() int {
	return intOrDefault(l.StepRetries, DefaultStepRetries)
}

func (l Limits) TokenBudgetOrDefault() int {
	return intOrDefault(l.TokenBudget, DefaultTokenBudget)
}

func (t Timeouts) GenerationOrDefault() time.Duration {
	return durationOrDefault(t.Generation, DefaultGenerationTimeout)
}

func (t Timeouts) PlanningOrDefault() time.Duration {
	return durationOrDefault(t.Planning, DefaultPlanningTimeout)
}

func (t Timeouts) StepOrDefault() time.Duration {
	return durationOrDefault(t.Step, DefaultStepTimeout)
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func durationOrDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// IntPtr is a convenience for building Limits in code.
func IntPtr(v int) *int { return &v }
