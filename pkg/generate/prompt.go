package generate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// WordsPerMinute is the speaking rate narration is written for.
const WordsPerMinute = 150

const systemTemplate = `You write narration scripts for live software product presentations.
Every section is spoken aloud at about {{ .WordsPerMinute }} words per minute.
Some sections cue a live demonstration in a web browser; those cues are demo triggers.
Reply with one JSON object only, without prose or code fences, valid against this JSON Schema:
{{ .Schema }}`

const promptTemplate = `Write the script for a {{ .Minutes }}-minute presentation ({{ .Seconds }} seconds in total)
for a {{ .Audience }} audience{{ with .Focus }} focusing on {{ join ", " . }}{{ end }}.
{{- with .Title }}
Title: {{ . }}
{{- end }}

Rules:
- List sections in presentation order. Section ids are unique lowercase slugs.
- duration_seconds of all sections must add up to {{ .Seconds }} (at most 10% off).
- A section of N seconds holds about N*{{ .WordsPerSecond }} words of narration.
- Declare every demo trigger in "triggers" and reference each trigger id from exactly one section.
- A trigger's target is a path or URL in the application under demonstration.
{{- if .Flows }}
- When a trigger demonstrates one of these known flows, set "flow" to its name: {{ join ", " .Flows }}.
{{- end }}
- Give steps (navigate, click, type, wait, assert) only when you know the page structure; selectors are CSS.
- Mark a trigger "checkpoint" when the presenter only pauses on the current screen.

Context:
{{- range .Segments }}

=== {{ upper .Kind }}{{ with .Source }} ({{ . }}){{ end }}{{ if .Truncated }} [truncated]{{ end }} ===
{{ .Text }}
{{- end }}`

const correctiveTemplate = `

Your previous answer (attempt {{ .Attempt }}) was rejected:
{{ .Error | indent 2 }}
Return the complete corrected JSON object.`

type segmentView struct {
	Kind      string
	Source    string
	Text      string
	Truncated bool
}

type promptData struct {
	Title          string
	Audience       string
	Focus          []string
	Minutes        string
	Seconds        int
	WordsPerMinute int
	WordsPerSecond string
	Flows          []string
	Segments       []segmentView
	Schema         string
}

type correctiveData struct {
	Attempt int
	Error   string
}

var (
	systemTmpl     = template.Must(template.New("system").Funcs(sprig.TxtFuncMap()).Parse(systemTemplate))
	promptTmpl     = template.Must(template.New("prompt").Funcs(sprig.TxtFuncMap()).Parse(promptTemplate))
	correctiveTmpl = template.Must(template.New("corrective").Funcs(sprig.TxtFuncMap()).Parse(correctiveTemplate))
)

func newPromptData(in Input, schema []byte) promptData {
	d := promptData{
		Title:          in.Presentation.Title,
		Audience:       in.Presentation.Audience,
		Focus:          in.Presentation.Focus,
		Minutes:        formatMinutes(in.Presentation.Duration),
		Seconds:        int(in.Presentation.Duration.Round(time.Second) / time.Second),
		WordsPerMinute: WordsPerMinute,
		WordsPerSecond: fmt.Sprintf("%.1f", float64(WordsPerMinute)/60),
		Flows:          in.Flows,
		Schema:         string(schema),
	}
	for _, s := range in.Bundle.Segments() {
		d.Segments = append(d.Segments, segmentView{
			Kind:      string(s.Kind),
			Source:    s.Source,
			Text:      s.Text,
			Truncated: s.Truncated,
		})
	}
	return d
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func formatMinutes(d time.Duration) string {
	m := d.Minutes()
	if m == float64(int(m)) {
		return fmt.Sprintf("%d", int(m))
	}
	return strings.TrimRight(fmt.Sprintf("%.1f", m), "0")
}
