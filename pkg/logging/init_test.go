package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		logType   string
		level     string
		wantError bool
	}{
		{"json/info", JSON, "info", false},
		{"text/debug", Text, "debug", false},
		{"tint/warn", Tint, "warn", false},
		{"json/error", JSON, "error", false},
		{"invalid level", JSON, "bogus", true},
		{"unknown type", "unknown", "info", true},
	}

	defer slog.SetDefault(slog.Default())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := InitializeWriter(&buf, tt.logType, tt.level)
			if (err != nil) != tt.wantError {
				t.Errorf("InitializeWriter(%q, %q) error = %v, wantError = %v", tt.logType, tt.level, err, tt.wantError)
			}
		})
	}
}

func TestNewHandler_JSONWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, JSON, "info")
	if err != nil {
		t.Fatal(err)
	}

	slog.New(h).Info("stage entered", "stage", "building")
	if !strings.Contains(buf.String(), `"stage":"building"`) {
		t.Errorf("expected structured stage attribute, got %q", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	NewNop().Error("discarded")
}
