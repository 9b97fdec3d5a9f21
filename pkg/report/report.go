// Package report renders a ResultBundle as Markdown.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/charmbracelet/glamour"

	"github.com/systemstart/showrunner/pkg/api"
)

var markdownTemplate = template.Must(template.New("report").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"clock": clock, "cell": cell}).
	Parse(`# {{ .Title }}

Run ` + "`{{ .RunID }}`" + ` finished with status **{{ .Status }}**{{ if .Error }} at stage {{ .Stage }}: {{ .Error }}{{ end }}.

## Inputs

| Repository | Document | Code tokens | Document tokens | Budget | Code truncated |
|---|---|---|---|---|---|
| {{ cell .Summary.Repository }} | {{ cell .Summary.Document }} | {{ .Summary.CodeTokens }} | {{ .Summary.DocTokens }} | {{ .Summary.Budget }} | {{ .Summary.CodeTruncated }} |
{{- with .Script }}

## Timeline

Total {{ clock .TotalDuration }}.

| Start | Length | Section | Demo |
|---|---|---|---|
{{- range .Sections }}
| {{ clock .Start }} | {{ clock .Duration }} | {{ cell (default .ID .Title) }} | {{ cell (join ", " .Triggers) }} |
{{- end }}

## Script
{{ range .Sections }}
### {{ clock .Start }} {{ default .ID .Title }}

{{ trim .Narration }}
{{ end }}
{{- end }}
{{- if .DemoLog }}

## Demo log

| Cue | Trigger | Status | Elapsed | Notes |
|---|---|---|---|---|
{{- range .DemoLog }}
| {{ clock .CueAt }} | {{ cell .TriggerID }} | {{ .Status }}{{ if .Overrun }} (overrun){{ end }} | {{ .Elapsed.Round 1000000 }} | {{ cell (default .Fallback .Error) }} |
{{- end }}
{{- end }}
`))

type view struct {
	*api.ResultBundle
	Title string
}

// Markdown renders bundle as a Markdown document.
func Markdown(bundle *api.ResultBundle) (string, error) {
	v := view{ResultBundle: bundle, Title: "Presentation run"}
	if bundle.Script != nil && bundle.Script.Title != "" {
		v.Title = bundle.Script.Title
	}

	var buf bytes.Buffer
	if err := markdownTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return buf.String(), nil
}

// Render styles Markdown for a terminal of the given width. Width 0
// disables wrapping.
func Render(markdown string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// clock formats d as m:ss.
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// cell makes s safe inside a table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
