package generate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/systemstart/showrunner/pkg/api"
)

// ValidateScript checks the structural invariants of a script: unique
// section and trigger ids, every referenced trigger declared, and every
// declared trigger referenced by exactly one section.
func ValidateScript(s *api.Script) error {
	var errs []error

	if len(s.Sections) == 0 {
		errs = append(errs, errors.New("script has no sections"))
	}

	sectionIDs := make(map[string]bool, len(s.Sections))
	for i, sec := range s.Sections {
		switch {
		case sec.ID == "":
			errs = append(errs, fmt.Errorf("sections[%d]: id is required", i))
		case sectionIDs[sec.ID]:
			errs = append(errs, fmt.Errorf("sections[%d]: duplicate section id %q", i, sec.ID))
		}
		sectionIDs[sec.ID] = true
		if sec.Duration <= 0 {
			errs = append(errs, fmt.Errorf("section %q: duration must be positive", sec.ID))
		}
	}

	declared := make(map[string]bool, len(s.Triggers))
	for i, t := range s.Triggers {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("triggers[%d]: id is required", i))
		case declared[t.ID]:
			errs = append(errs, fmt.Errorf("triggers[%d]: duplicate trigger id %q", i, t.ID))
		}
		declared[t.ID] = true
		for j, st := range t.Steps {
			if !api.ValidStepKind(st.Kind) {
				errs = append(errs, fmt.Errorf("trigger %q step %d: unknown kind %q", t.ID, j, st.Kind))
			}
		}
	}

	referencedBy := make(map[string]string)
	for _, sec := range s.Sections {
		for _, id := range sec.Triggers {
			if !declared[id] {
				errs = append(errs, fmt.Errorf("section %q references undeclared trigger %q", sec.ID, id))
				continue
			}
			if prev, ok := referencedBy[id]; ok {
				errs = append(errs, fmt.Errorf("trigger %q is referenced by sections %q and %q", id, prev, sec.ID))
				continue
			}
			referencedBy[id] = sec.ID
		}
	}
	for _, t := range s.Triggers {
		if t.ID != "" && referencedBy[t.ID] == "" {
			errs = append(errs, fmt.Errorf("trigger %q is not referenced by any section", t.ID))
		}
	}

	return errors.Join(errs...)
}

// DurationError reports a narration total outside the accepted tolerance.
type DurationError struct {
	Actual    time.Duration
	Requested time.Duration
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("sections add up to %s but %s was requested (allowed deviation %d%%)",
		e.Actual, e.Requested, int(api.DurationTolerance*100))
}

// CheckDuration accepts actual when it is within api.DurationTolerance of
// requested.
func CheckDuration(actual, requested time.Duration) error {
	allowed := float64(requested) * api.DurationTolerance
	if math.Abs(float64(actual-requested)) > allowed {
		return &DurationError{Actual: actual, Requested: requested}
	}
	return nil
}
