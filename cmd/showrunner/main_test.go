package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/systemstart/showrunner/pkg/api"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", fmt.Errorf("validating: %w", api.ErrConfigInvalid), exitConfigInvalid},
		{"overflow", fmt.Errorf("%w: document", api.ErrContextOverflow), exitContextOverflow},
		{"generation", fmt.Errorf("%w after 3 attempts", api.ErrGenerationFailed), exitGenerationFailed},
		{"cancelled", context.Canceled, exitRunCancelled},
		{"dotenv", fmt.Errorf("%w: bad line", errDotenv), exitDotenvError},
		{"logging", fmt.Errorf("%w: bad level", errLoggingSetup), exitLoggingSetupFailed},
		{"output", fmt.Errorf("%w: disk full", errOutput), exitOutputFailed},
		{"other", errors.New("boom"), exitCommandFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestEnsureOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	if err := ensureOutputDirectory(dir, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale := filepath.Join(dir, "stale.json")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ensureOutputDirectory(dir, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("existing files should be kept without overwrite: %v", err)
	}

	if err := ensureOutputDirectory(dir, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("overwrite should remove existing files, got %v", err)
	}
}

func TestWriteBundle(t *testing.T) {
	dir := t.TempDir()
	bundle := &api.ResultBundle{
		RunID:   "run-1",
		Status:  api.StatusAborted,
		Stage:   "generating",
		DemoLog: []api.TriggerLog{},
		Error:   "generation failed after 3 attempts",
	}

	markdown, err := writeBundle(dir, bundle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "bundle.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status": "aborted"`) {
		t.Errorf("bundle.json missing status:\n%s", data)
	}

	script, err := os.ReadFile(filepath.Join(dir, "script.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(script) != markdown {
		t.Error("script.md should hold the returned markdown")
	}
	if !strings.Contains(markdown, "generation failed after 3 attempts") {
		t.Errorf("report missing error:\n%s", markdown)
	}
}

func TestWriteBundle_MissingDirectory(t *testing.T) {
	_, err := writeBundle(filepath.Join(t.TempDir(), "missing"), &api.ResultBundle{RunID: "r"})
	if !errors.Is(err, errOutput) {
		t.Errorf("expected output error, got %v", err)
	}
}
