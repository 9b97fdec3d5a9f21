package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Initialize installs the default logger writing to stderr, keeping stdout
// free for rendered reports and bundle output.
func Initialize(loggingType string, logLevelName string) error {
	return InitializeWriter(os.Stderr, loggingType, logLevelName)
}

// InitializeWriter is Initialize with an explicit destination.
func InitializeWriter(w io.Writer, loggingType string, logLevelName string) error {
	handler, err := NewHandler(w, loggingType, logLevelName)
	if err != nil {
		return err
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "type", loggingType, "logLevel", logLevelName)
	return nil
}

// NewHandler builds a slog handler of the given type and level.
func NewHandler(w io.Writer, loggingType string, logLevelName string) (slog.Handler, error) {
	var logLevel slog.Level
	err := logLevel.UnmarshalText([]byte(logLevelName))
	if err != nil {
		return nil, fmt.Errorf("could not parse log level: %v", err)
	}

	logHandlerOptions := slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	}

	switch loggingType {
	case JSON:
		return slog.NewJSONHandler(w, &logHandlerOptions), nil
	case Text:
		return slog.NewTextHandler(w, &logHandlerOptions), nil
	case Tint:
		return tint.NewHandler(w, &tint.Options{
			AddSource: logHandlerOptions.AddSource,
			Level:     logHandlerOptions.Level,
		}), nil
	default:
		return nil, fmt.Errorf("unknown logging type: %s", loggingType)
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
