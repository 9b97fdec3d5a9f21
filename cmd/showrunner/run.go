package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/avatar"
	"github.com/systemstart/showrunner/pkg/browser"
	"github.com/systemstart/showrunner/pkg/generate"
	"github.com/systemstart/showrunner/pkg/llm"
	"github.com/systemstart/showrunner/pkg/orchestrator"
	"github.com/systemstart/showrunner/pkg/planner"
	"github.com/systemstart/showrunner/pkg/report"
)

type runOptions struct {
	configFile      string
	repository      string
	document        string
	outputDirectory string
	overwrite       bool
	noBrowser       bool
	headless        bool
	debuggerURL     string
	browserBin      string
	narrate         bool
	narrationLimit  time.Duration
	width           int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate a script, plan and execute its demo, and write the result bundle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPresentation(ctx, runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.configFile, "config", "", "presentation YAML file")
	f.StringVar(&runOpts.repository, "repo", "", "repository directory to analyze")
	f.StringVar(&runOpts.document, "document", "", "requirements document (.md or .txt)")
	f.StringVar(&runOpts.outputDirectory, "output", "showrunner-out", "output directory")
	f.BoolVar(&runOpts.overwrite, "overwrite-output", false, "delete and recreate output directory")
	f.BoolVar(&runOpts.noBrowser, "no-browser", false, "skip live demos and use fallbacks")
	f.BoolVar(&runOpts.headless, "headless", true, "run the browser headless")
	f.StringVar(&runOpts.debuggerURL, "debugger-url", "", "connect to a running browser instead of launching one")
	f.StringVar(&runOpts.browserBin, "browser-bin", "", "browser binary to launch")
	f.BoolVar(&runOpts.narrate, "narrate", false, "render the narration as an avatar video")
	f.DurationVar(&runOpts.narrationLimit, "narration-limit", time.Minute, "longest narration sent to the avatar service")
	f.IntVar(&runOpts.width, "width", 100, "terminal width for the printed report")
	_ = runCmd.MarkFlagRequired("config")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("document")
}

func runPresentation(ctx context.Context, opts runOptions) error {
	cfg, err := api.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	var flows *api.FlowCatalog
	if path := cfg.FlowsPath(); path != "" {
		if flows, err = api.LoadFlows(path); err != nil {
			return err
		}
	}
	if err := ensureOutputDirectory(opts.outputDirectory, opts.overwrite); err != nil {
		return err
	}

	client, err := llm.NewFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("creating generation client: %w", err)
	}
	gen, err := generate.New(client)
	if err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{orchestrator.WithProposer(planner.NewLLMProposer(client))}
	if !opts.noBrowser {
		orchOpts = append(orchOpts, orchestrator.WithSessionOpener(sessionOpener(opts)))
	}

	slog.Info("starting run", "model", client.ModelName(), "repository", opts.repository, "document", opts.document)
	bundle, runErr := orchestrator.New(gen, orchOpts...).Run(ctx, orchestrator.Request{
		Config:     cfg,
		Flows:      flows,
		Repository: opts.repository,
		Document:   opts.document,
	})
	if bundle == nil {
		return runErr
	}

	markdown, err := writeBundle(opts.outputDirectory, bundle)
	if err != nil {
		return err
	}
	if rendered, err := report.Render(markdown, opts.width); err != nil {
		slog.Warn("rendering report", "error", err)
	} else {
		fmt.Println(rendered)
	}

	if runErr != nil {
		return runErr
	}
	if opts.narrate {
		return narrate(ctx, opts, bundle)
	}
	return nil
}

func sessionOpener(opts runOptions) orchestrator.SessionOpener {
	bcfg := browser.DefaultConfig()
	bcfg.Headless = opts.headless
	bcfg.DebuggerURL = opts.debuggerURL
	bcfg.Bin = opts.browserBin
	opener := browser.NewOpener(bcfg, slog.Default())
	return orchestrator.SessionOpenerFunc(func(ctx context.Context) (orchestrator.Session, error) {
		s, err := opener.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func writeBundle(dir string, bundle *api.ResultBundle) (string, error) {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encoding bundle: %w", errOutput, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bundle.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", errOutput, err)
	}

	markdown, err := report.Markdown(bundle)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errOutput, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "script.md"), []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", errOutput, err)
	}
	slog.Info("bundle written", "directory", dir, "status", bundle.Status)
	return markdown, nil
}

func narrate(ctx context.Context, opts runOptions, bundle *api.ResultBundle) error {
	client, err := avatar.NewClient(avatar.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("creating avatar client: %w", err)
	}

	script := avatar.NarrationScript(bundle, avatar.MaxWordsFor(opts.narrationLimit))
	video, err := client.CreateVideo(ctx, avatar.VideoRequest{Script: script, VideoName: bundle.Script.Title})
	if err != nil {
		return err
	}
	slog.Info("avatar video queued", "video", video.ID)

	video, err = client.WaitForCompletion(ctx, video.ID, 10*time.Second, 10*time.Minute)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(video, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding video: %w", errOutput, err)
	}
	if err := os.WriteFile(filepath.Join(opts.outputDirectory, "video.json"), data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", errOutput, err)
	}
	slog.Info("avatar video ready", "video", video.ID, "url", video.HostedURL)
	return nil
}

func ensureOutputDirectory(dir string, overwrite bool) error {
	_, err := os.Stat(dir)
	if !os.IsNotExist(err) {
		if err != nil {
			return fmt.Errorf("%w: checking output directory %s: %w", errOutput, dir, err)
		}
		if overwrite {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("%w: cleaning output directory %s: %w", errOutput, dir, err)
			}
		}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating output directory %s: %w", errOutput, dir, err)
	}
	return nil
}
