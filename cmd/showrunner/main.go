package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/generate"
	"github.com/systemstart/showrunner/pkg/logging"
)

var version = "dev"

const (
	_ = iota
	exitCommandFailed
	exitDotenvError
	exitLoggingSetupFailed
	exitConfigInvalid
	exitContextOverflow
	exitGenerationFailed
	exitRunCancelled
	exitOutputFailed
)

var (
	errDotenv       = errors.New("loading .env")
	errLoggingSetup = errors.New("setting up logging")
	errOutput       = errors.New("writing output")
)

var (
	loggingType string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:           "showrunner",
	Short:         "Turn a codebase and a requirements document into a narrated, live-demoed presentation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := logging.Initialize(loggingType, logLevel); err != nil {
			return fmt.Errorf("%w: %w", errLoggingSetup, err)
		}
		return includeEnv()
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema generated scripts must satisfy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := generate.ResponseSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&loggingType, "logging-type", "tint", "logging type: json, text or tint")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level: debug, info, warn, error")
	rootCmd.AddCommand(runCmd, serveCmd, schemaCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("showrunner failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errDotenv):
		return exitDotenvError
	case errors.Is(err, errLoggingSetup):
		return exitLoggingSetupFailed
	case errors.Is(err, api.ErrConfigInvalid):
		return exitConfigInvalid
	case errors.Is(err, api.ErrContextOverflow):
		return exitContextOverflow
	case errors.Is(err, api.ErrGenerationFailed):
		return exitGenerationFailed
	case errors.Is(err, errOutput):
		return exitOutputFailed
	case api.IsFatal(err):
		return exitRunCancelled
	default:
		return exitCommandFailed
	}
}

func includeEnv() error {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: %w", errDotenv, err)
		}
		slog.Debug("no .env file found")
	} else {
		slog.Debug("using .env file")
	}
	return nil
}
