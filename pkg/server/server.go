// Package server exposes runs over HTTP. Each POST starts an independent
// run in the background; its bundle is stored when the run terminates.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/contextbuild"
	"github.com/systemstart/showrunner/pkg/orchestrator"
	"github.com/systemstart/showrunner/pkg/store"
)

// maxBodyBytes bounds a run request.
const maxBodyBytes = 16 << 20

// Runner executes one run to completion.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*api.ResultBundle, error)
}

// RunRequest is the body of POST /runs. Config and Flows are YAML
// documents in the configuration file format.
type RunRequest struct {
	Config string `json:"config"`
	Flows  string `json:"flows,omitempty"`

	Codebase string `json:"codebase,omitempty"`
	Document string `json:"document,omitempty"`
	// RepositoryPath and DocumentPath are read on the server when the
	// inline text is empty.
	RepositoryPath string            `json:"repositoryPath,omitempty"`
	DocumentPath   string            `json:"documentPath,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RunStatus is the progress of a run that has not terminated.
type RunStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Triggers int    `json:"triggers"`
}

type activeRun struct {
	cancel   context.CancelFunc
	stage    orchestrator.Stage
	triggers int
}

// Server tracks active runs and serves stored bundles.
type Server struct {
	runner   Runner
	store    store.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeRun
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer serves the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a server. Runs started by it outlive their HTTP requests
// until Shutdown.
func New(runner Runner, st store.Store, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		store:    st,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		active:   make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.stop = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.startRun)
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Delete("/{id}", s.cancelRun)
	})
	return r
}

// Shutdown cancels active runs and waits for them to store their bundles.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runs: %w", ctx.Err())
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	run := &activeRun{cancel: cancel, stage: orchestrator.StageBuilding}
	req.Hooks = orchestrator.Hooks{
		OnTransition: func(_ string, _, to orchestrator.Stage) { s.update(req.RunID, func(a *activeRun) { a.stage = to }) },
		OnTrigger:    func(string, api.TriggerLog) { s.update(req.RunID, func(a *activeRun) { a.triggers++ }) },
	}

	s.mu.Lock()
	s.active[req.RunID] = run
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, cancel, req)

	s.logger.Info("run accepted", "run", req.RunID)
	writeJSON(w, http.StatusAccepted, RunStatus{ID: req.RunID, Status: "running", Stage: string(orchestrator.StageBuilding)})
}

// buildRequest validates the body before any run is started.
func (s *Server) buildRequest(body RunRequest) (orchestrator.Request, error) {
	if body.Config == "" {
		return orchestrator.Request{}, fmt.Errorf("%w: config is required", api.ErrConfigInvalid)
	}
	cfg, err := api.ParseConfig([]byte(body.Config))
	if err != nil {
		return orchestrator.Request{}, err
	}
	var flows *api.FlowCatalog
	if body.Flows != "" {
		if flows, err = api.ParseFlows([]byte(body.Flows)); err != nil {
			return orchestrator.Request{}, err
		}
	}
	if body.Codebase == "" && body.RepositoryPath == "" {
		return orchestrator.Request{}, errors.New("codebase or repositoryPath is required")
	}
	if body.Document == "" && body.DocumentPath == "" {
		return orchestrator.Request{}, errors.New("document or documentPath is required")
	}

	return orchestrator.Request{
		RunID:      uuid.NewString(),
		Config:     cfg,
		Flows:      flows,
		Repository: body.RepositoryPath,
		Document:   body.DocumentPath,
		Input: contextbuild.Input{
			Codebase: body.Codebase,
			DocText:  body.Document,
			Metadata: body.Metadata,
		},
	}, nil
}

func (s *Server) execute(ctx context.Context, cancel context.CancelFunc, req orchestrator.Request) {
	defer s.wg.Done()
	defer cancel()

	bundle, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.Warn("run ended with error", "run", req.RunID, "error", err)
	}
	if bundle == nil {
		bundle = &api.ResultBundle{
			RunID:      req.RunID,
			Status:     api.StatusAborted,
			Stage:      string(orchestrator.StageBuilding),
			DemoLog:    []api.TriggerLog{},
			Error:      fmt.Sprint(err),
			FinishedAt: time.Now(),
		}
	}

	// Stored with a fresh context so cancelled runs keep their bundle.
	saveCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := s.store.Save(saveCtx, bundle); err != nil {
		s.logger.Error("storing bundle", "run", req.RunID, "error", err)
	}

	s.mu.Lock()
	delete(s.active, req.RunID)
	s.mu.Unlock()
}

func (s *Server) update(id string, fn func(*activeRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.active[id]; ok {
		fn(a)
	}
}

func (s *Server) status(id string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[id]
	if !ok {
		return RunStatus{}, false
	}
	return RunStatus{ID: id, Status: "running", Stage: string(a.stage), Triggers: a.triggers}, true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runs := make([]RunStatus, 0, len(s.active))
	for id, a := range s.active {
		runs = append(runs, RunStatus{ID: id, Status: "running", Stage: string(a.stage), Triggers: a.triggers})
	}
	s.mu.Unlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })

	ids, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, id := range ids {
		b, err := s.store.Load(r.Context(), id)
		if errors.Is(err, api.ErrRunNotFound) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		runs = append(runs, RunStatus{ID: id, Status: string(b.Status), Stage: b.Stage, Triggers: len(b.DemoLog)})
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if st, ok := s.status(id); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}
	bundle, err := s.store.Load(r.Context(), id)
	if errors.Is(err, api.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// cancelRun cancels an active run or deletes a stored bundle.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	a, ok := s.active[id]
	var stage orchestrator.Stage
	if ok {
		stage = a.stage
	}
	s.mu.Unlock()
	if ok {
		a.cancel()
		s.logger.Info("run cancelled", "run", id)
		writeJSON(w, http.StatusAccepted, RunStatus{ID: id, Status: "cancelling", Stage: string(stage)})
		return
	}

	if _, err := s.store.Load(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
