package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaResource = "script-response-v1.json"

// scriptResponse is the JSON object the generation service must return.
type scriptResponse struct {
	Title    string            `json:"title,omitempty"`
	Sections []sectionResponse `json:"sections" jsonschema:"required,minItems=1"`
	Triggers []triggerResponse `json:"triggers,omitempty"`
}

type sectionResponse struct {
	ID              string   `json:"id" jsonschema:"required,minLength=1"`
	Title           string   `json:"title,omitempty"`
	Narration       string   `json:"narration" jsonschema:"required,minLength=1"`
	DurationSeconds float64  `json:"duration_seconds" jsonschema:"required,exclusiveMinimum=0"`
	Triggers        []string `json:"triggers,omitempty"`
}

type triggerResponse struct {
	ID              string         `json:"id" jsonschema:"required,minLength=1"`
	Target          string         `json:"target,omitempty"`
	Flow            string         `json:"flow,omitempty"`
	Description     string         `json:"description" jsonschema:"required"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty"`
	Checkpoint      bool           `json:"checkpoint,omitempty"`
	Steps           []stepResponse `json:"steps,omitempty"`
}

type stepResponse struct {
	Kind           string  `json:"kind" jsonschema:"required,enum=navigate,enum=click,enum=type,enum=wait,enum=assert"`
	Target         string  `json:"target,omitempty"`
	Payload        string  `json:"payload,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty" jsonschema:"minimum=0"`
	Expect         string  `json:"expect,omitempty"`
}

// ResponseSchema produces the JSON Schema (Draft 2020-12) of the script
// response, reflected from the Go response types.
func ResponseSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.AllowAdditionalProperties = true

	s := r.Reflect(&scriptResponse{})
	s.ID = "https://github.com/systemstart/showrunner/schemas/" + schemaResource
	s.Title = "Presentation script response v1"
	s.Description = "Timed narration sections and the demo triggers they cue"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

func compileSchema() (*sjsonschema.Schema, error) {
	schemaJSON, err := ResponseSchema()
	if err != nil {
		return nil, err
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// schemaViolations flattens a validation error into "path: message" lines.
func schemaViolations(err error) string {
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var lines []string
	for _, cause := range flatten(ve) {
		path := "/" + strings.Join(cause.InstanceLocation, "/")
		lines = append(lines, fmt.Sprintf("%s: %v", path, cause.ErrorKind))
	}
	return strings.Join(lines, "; ")
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}
