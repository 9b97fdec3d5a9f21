package executor

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Observation is what the driver saw after performing a step.
type Observation struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	// Text is the text of the step's target element, or of the page body
	// when the step has no target.
	Text string `json:"text,omitempty"`
	// Found reports whether the step's target element was present.
	Found bool `json:"found"`
}

func (o Observation) env() map[string]any {
	return map[string]any{
		"url":   o.URL,
		"title": o.Title,
		"text":  o.Text,
		"found": o.Found,
	}
}

func (o Observation) String() string {
	var parts []string
	if o.URL != "" {
		parts = append(parts, "url="+o.URL)
	}
	if o.Title != "" {
		parts = append(parts, fmt.Sprintf("title=%q", o.Title))
	}
	parts = append(parts, fmt.Sprintf("found=%t", o.Found))
	return strings.Join(parts, " ")
}

// CompileExpectation compiles a boolean expression over url, title, text
// and found.
func CompileExpectation(src string) (*vm.Program, error) {
	program, err := expr.Compile(src, expr.Env(Observation{}.env()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expectation %q: %w", src, err)
	}
	return program, nil
}

// Evaluate runs the expectation src against obs.
func Evaluate(src string, obs Observation) (bool, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return true, nil
	}
	program, err := CompileExpectation(src)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, obs.env())
	if err != nil {
		return false, fmt.Errorf("eval expectation %q: %w", src, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expectation %q did not return bool (got %T)", src, output)
	}
	return result, nil
}
