package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/systemstart/showrunner/pkg/generate"
	"github.com/systemstart/showrunner/pkg/llm"
	"github.com/systemstart/showrunner/pkg/metrics"
	"github.com/systemstart/showrunner/pkg/orchestrator"
	"github.com/systemstart/showrunner/pkg/planner"
	"github.com/systemstart/showrunner/pkg/server"
	"github.com/systemstart/showrunner/pkg/store"
)

type serveOptions struct {
	addr          string
	redisAddr     string
	redisPassword string
	redisDB       int
	ttl           time.Duration
	noBrowser     bool
	headless      bool
	debuggerURL   string
	browserBin    string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, serveOpts)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.addr, "addr", ":8080", "listen address")
	f.StringVar(&serveOpts.redisAddr, "redis", "", "Redis address for result bundles (in-memory when empty)")
	f.StringVar(&serveOpts.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	f.IntVar(&serveOpts.redisDB, "redis-db", 0, "Redis database")
	f.DurationVar(&serveOpts.ttl, "ttl", 24*time.Hour, "how long result bundles are kept in Redis (0 keeps them)")
	f.BoolVar(&serveOpts.noBrowser, "no-browser", false, "skip live demos and use fallbacks")
	f.BoolVar(&serveOpts.headless, "headless", true, "run browsers headless")
	f.StringVar(&serveOpts.debuggerURL, "debugger-url", "", "connect to a running browser instead of launching one")
	f.StringVar(&serveOpts.browserBin, "browser-bin", "", "browser binary to launch")
}

func serve(ctx context.Context, opts serveOptions) error {
	client, err := llm.NewFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("creating generation client: %w", err)
	}
	gen, err := generate.New(client)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orchOpts := []orchestrator.Option{
		orchestrator.WithProposer(planner.NewLLMProposer(client)),
		orchestrator.WithMetrics(metrics.New(reg)),
	}
	if !opts.noBrowser {
		orchOpts = append(orchOpts, orchestrator.WithSessionOpener(sessionOpener(runOptions{
			headless:    opts.headless,
			debuggerURL: opts.debuggerURL,
			browserBin:  opts.browserBin,
		})))
	}

	var st store.Store = store.NewMemory()
	if opts.redisAddr != "" {
		rs := store.NewRedis(opts.redisAddr, opts.redisPassword, opts.redisDB, store.WithTTL(opts.ttl))
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis %s: %w", opts.redisAddr, err)
		}
		st = rs
	}

	srv := server.New(orchestrator.New(gen, orchOpts...), st, server.WithGatherer(reg))
	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", opts.addr, "model", client.ModelName())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
