// Package llm defines the Generation Service Client contract and its
// Gemini and OpenAI-compatible implementations.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Request is one completion call.
type Request struct {
	System string
	Prompt string
	// JSON asks the service for a JSON object response.
	JSON bool
}

// Client sends a prompt to a text-generation service and returns the reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)

	// ModelName returns the model identifier for provenance.
	ModelName() string
}

// Provider names accepted by NewFromEnv.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewFromEnv creates a client from environment variables:
//
//	LLM_PROVIDER     gemini (default) | openai
//	LLM_MODEL        optional model override
//	GEMINI_API_KEY   required for gemini
//	OPENAI_BASE_URL  required for openai (any chat-completions compatible API)
//	OPENAI_API_KEY   required for openai
func NewFromEnv(ctx context.Context) (Client, error) {
	provider := envOrDefault("LLM_PROVIDER", ProviderGemini)
	model := os.Getenv("LLM_MODEL")

	switch provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  model,
		})
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   model,
		})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q (valid: %s, %s)", provider, ProviderGemini, ProviderOpenAI)
	}
}

// StripCodeFence removes a wrapping ```...``` code fence if present.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		trimmed = trimmed[idx+1:]
	} else {
		return ""
	}
	if last := strings.LastIndex(trimmed, "```"); last != -1 {
		trimmed = trimmed[:last]
	}
	return strings.TrimSpace(trimmed)
}

// ExtractJSONObject returns the first complete JSON object in a reply,
// skipping code fences and any prose around the object. When no object
// decodes, the fence-stripped text is returned unchanged so the caller's
// parse error describes the reply.
func ExtractJSONObject(s string) string {
	body := StripCodeFence(s)
	for i := strings.IndexByte(body, '{'); i != -1; {
		var obj json.RawMessage
		dec := json.NewDecoder(strings.NewReader(body[i:]))
		if err := dec.Decode(&obj); err == nil && len(obj) > 0 && obj[0] == '{' {
			return string(obj)
		}
		next := strings.IndexByte(body[i+1:], '{')
		if next == -1 {
			break
		}
		i += next + 1
	}
	return body
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
