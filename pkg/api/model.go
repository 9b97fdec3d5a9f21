package api

import (
	"slices"
	"time"
)

// SegmentKind tags a piece of context text.
type SegmentKind string

const (
	SegmentCode     SegmentKind = "code"
	SegmentDoc      SegmentKind = "doc"
	SegmentMetadata SegmentKind = "metadata"
)

// Segment is one tagged piece of a ContextBundle.
type Segment struct {
	Kind      SegmentKind `json:"kind"`
	Source    string      `json:"source,omitempty"`
	Text      string      `json:"text"`
	Tokens    int         `json:"tokens"`
	Truncated bool        `json:"truncated,omitempty"`
}

// ContextBundle is the merged, size-bounded generation input. It is built
// once and never modified; Segments returns a copy.
type ContextBundle struct {
	segments []Segment
	budget   int
}

// NewContextBundle freezes segments into a bundle.
func NewContextBundle(budget int, segments ...Segment) ContextBundle {
	return ContextBundle{segments: slices.Clone(segments), budget: budget}
}

func (b ContextBundle) Segments() []Segment { return slices.Clone(b.segments) }

func (b ContextBundle) Budget() int { return b.budget }

// TotalTokens is the sum of segment token counts.
func (b ContextBundle) TotalTokens() int {
	total := 0
	for _, s := range b.segments {
		total += s.Tokens
	}
	return total
}

// Segment returns the first segment of the given kind.
func (b ContextBundle) Segment(kind SegmentKind) (Segment, bool) {
	for _, s := range b.segments {
		if s.Kind == kind {
			return s, true
		}
	}
	return Segment{}, false
}

// StepKind is the closed set of browser actions.
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepClick    StepKind = "click"
	StepType     StepKind = "type"
	StepWait     StepKind = "wait"
	StepAssert   StepKind = "assert"
)

// ValidStepKind reports whether k is a known action kind.
func ValidStepKind(k StepKind) bool {
	switch k {
	case StepNavigate, StepClick, StepType, StepWait, StepAssert:
		return true
	}
	return false
}

// ActionStep is one atomic browser-automation instruction.
type ActionStep struct {
	Kind    StepKind      `yaml:"kind" json:"kind"`
	Target  string        `yaml:"target" json:"target,omitempty"`
	Payload string        `yaml:"payload" json:"payload,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// Expect is an optional expression that must hold after the step.
	Expect string `yaml:"expect" json:"expect,omitempty"`
}

// DemoTrigger is a point in the script requiring a live demonstration.
type DemoTrigger struct {
	ID              string       `json:"id"`
	Target          string       `json:"target,omitempty"`
	Flow            string       `json:"flow,omitempty"`
	Description     string       `json:"description,omitempty"`
	ExpectedOutcome string       `json:"expectedOutcome,omitempty"`
	Checkpoint      bool         `json:"checkpoint,omitempty"`
	Steps           []ActionStep `json:"steps,omitempty"`
}

// ScriptSection is one narrated segment of the presentation.
type ScriptSection struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Narration string        `json:"narration"`
	Start     time.Duration `json:"start"`
	Duration  time.Duration `json:"duration"`
	Triggers  []string      `json:"triggers,omitempty"`
}

// Script is a validated presentation script.
type Script struct {
	Title    string          `json:"title"`
	Sections []ScriptSection `json:"sections"`
	Triggers []DemoTrigger   `json:"triggers,omitempty"`
}

// TotalDuration sums the section durations.
func (s *Script) TotalDuration() time.Duration {
	var total time.Duration
	for _, sec := range s.Sections {
		total += sec.Duration
	}
	return total
}

// Trigger looks up a declared trigger by id.
func (s *Script) Trigger(id string) (DemoTrigger, bool) {
	for _, t := range s.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return DemoTrigger{}, false
}

// Cue pairs a trigger with the section that references it.
type Cue struct {
	TriggerID string
	Section   ScriptSection
}

// Cues lists trigger references in presentation order.
func (s *Script) Cues() []Cue {
	var cues []Cue
	for _, sec := range s.Sections {
		for _, id := range sec.Triggers {
			cues = append(cues, Cue{TriggerID: id, Section: sec})
		}
	}
	return cues
}

// PlanSource records how a sequence was derived.
type PlanSource string

const (
	SourceFlow     PlanSource = "flow"
	SourceInline   PlanSource = "inline"
	SourceProposed PlanSource = "proposed"
	SourceFallback PlanSource = "fallback"
)

// Sequence is the planned outcome for one trigger: either steps or a
// fallback description.
type Sequence struct {
	TriggerID string       `json:"triggerId"`
	Source    PlanSource   `json:"source"`
	Steps     []ActionStep `json:"steps,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	// Checkpoint sequences carry no steps, only a fallback.
	Checkpoint bool   `json:"checkpoint,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Plan maps trigger ids to their sequences.
type Plan struct {
	Sequences map[string]Sequence `json:"sequences"`
}

// TriggerStatus is the outcome of one trigger in the demo log.
type TriggerStatus string

const (
	TriggerSucceeded  TriggerStatus = "succeeded"
	TriggerFailed     TriggerStatus = "failed"
	TriggerFallback   TriggerStatus = "fallback"
	TriggerCheckpoint TriggerStatus = "checkpoint"
	TriggerCancelled  TriggerStatus = "cancelled"
)

// StepLog records the execution of one ActionStep.
type StepLog struct {
	Index     int           `json:"index"`
	Kind      StepKind      `json:"kind"`
	Target    string        `json:"target,omitempty"`
	Attempts  int           `json:"attempts"`
	Succeeded bool          `json:"succeeded"`
	Observed  string        `json:"observed,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// TriggerLog records the execution of one trigger.
type TriggerLog struct {
	TriggerID string        `json:"triggerId"`
	SectionID string        `json:"sectionId"`
	Status    TriggerStatus `json:"status"`
	CueAt     time.Duration `json:"cueAt"`
	Elapsed   time.Duration `json:"elapsed"`
	Overrun   bool          `json:"overrun,omitempty"`
	Fallback  string        `json:"fallback,omitempty"`
	Steps     []StepLog     `json:"steps,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AnalysisSummary describes the inputs of a run.
type AnalysisSummary struct {
	Repository     string `json:"repository,omitempty"`
	Document       string `json:"document,omitempty"`
	CodeTokens     int    `json:"codeTokens"`
	DocTokens      int    `json:"docTokens"`
	MetadataTokens int    `json:"metadataTokens"`
	Budget         int    `json:"budget"`
	CodeTruncated  bool   `json:"codeTruncated,omitempty"`
	Segments       int    `json:"segments"`
}

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	StatusDone    RunStatus = "done"
	StatusAborted RunStatus = "aborted"
)

// ResultBundle is the final output of one run.
type ResultBundle struct {
	RunID      string          `json:"runId"`
	Status     RunStatus       `json:"status"`
	Stage      string          `json:"stage"`
	Script     *Script         `json:"script,omitempty"`
	Plan       *Plan           `json:"plan,omitempty"`
	DemoLog    []TriggerLog    `json:"demoLog"`
	Summary    AnalysisSummary `json:"summary"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// CountStatus counts demo log entries with the given status.
func (r *ResultBundle) CountStatus(status TriggerStatus) int {
	n := 0
	for _, l := range r.DemoLog {
		if l.Status == status {
			n++
		}
	}
	return n
}
