package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/logging"
	"github.com/systemstart/showrunner/pkg/orchestrator"
	"github.com/systemstart/showrunner/pkg/store"
)

const validConfig = `presentation:
  audience: mixed
  duration: 5m
demo:
  baseURL: http://app.test
`

// fakeRunner finishes immediately, or blocks until cancelled when block is set.
// With abortStage it reports the aborted transition once cancelled, as the
// orchestrator does.
type fakeRunner struct {
	block      bool
	abortStage bool
	started    chan string
	reqs       chan orchestrator.Request
}

func newRunner(block bool) *fakeRunner {
	return &fakeRunner{block: block, started: make(chan string, 4), reqs: make(chan orchestrator.Request, 4)}
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request) (*api.ResultBundle, error) {
	f.reqs <- req
	req.Hooks.OnTransition(req.RunID, orchestrator.StageBuilding, orchestrator.StageGenerating)
	if f.block {
		f.started <- req.RunID
		<-ctx.Done()
		if f.abortStage {
			req.Hooks.OnTransition(req.RunID, orchestrator.StageGenerating, orchestrator.StageAborted)
		}
		return &api.ResultBundle{RunID: req.RunID, Status: api.StatusAborted, Stage: "generating", Error: ctx.Err().Error()}, ctx.Err()
	}
	log := api.TriggerLog{TriggerID: "login", Status: api.TriggerSucceeded}
	req.Hooks.OnTrigger(req.RunID, log)
	return &api.ResultBundle{RunID: req.RunID, Status: api.StatusDone, Stage: "done", DemoLog: []api.TriggerLog{log}}, nil
}

func setup(t *testing.T, runner Runner) (*Server, *httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	srv := New(runner, st, WithGatherer(prometheus.NewRegistry()), WithLogger(logging.NewNop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, ts, st
}

func postRun(t *testing.T, ts *httptest.Server, body RunRequest) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func validRequest() RunRequest {
	return RunRequest{Config: validConfig, Codebase: "Files: 1", Document: "# Goals", Metadata: map[string]string{"product": "Acme"}}
}

func TestStartRun_StoresBundle(t *testing.T) {
	runner := newRunner(false)
	_, ts, _ := setup(t, runner)

	resp, out := postRun(t, ts, validRequest())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "running", out["status"])

	req := <-runner.reqs
	assert.Equal(t, id, req.RunID)
	assert.Equal(t, "Files: 1", req.Input.Codebase)
	assert.Equal(t, "# Goals", req.Input.DocText)
	assert.Equal(t, "Acme", req.Input.Metadata["product"])
	assert.Equal(t, 5*time.Minute, req.Config.Presentation.Duration)

	bundle := waitForBundle(t, ts, id)
	assert.Equal(t, api.StatusDone, bundle.Status)
	assert.Equal(t, 1, bundle.CountStatus(api.TriggerSucceeded))
}

func TestStartRun_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed body", "{", "invalid request body"},
		{"missing config", `{"codebase":"x","document":"y"}`, "config is required"},
		{"invalid config", `{"config":"presentation:\n  audience: kids\n  duration: 5m\n","codebase":"x","document":"y"}`, "config invalid"},
		{"invalid flows", `{"config":` + jsonString(validConfig) + `,"flows":"flows: []","codebase":"x","document":"y"}`, "flows list is empty"},
		{"missing codebase", `{"config":` + jsonString(validConfig) + `,"document":"y"}`, "codebase or repositoryPath"},
		{"missing document", `{"config":` + jsonString(validConfig) + `,"codebase":"x"}`, "document or documentPath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newRunner(false)
			_, ts, _ := setup(t, runner)

			resp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), tt.wantErr)
			assert.Empty(t, runner.reqs, "no run may start")
		})
	}
}

func TestCancelRun(t *testing.T) {
	runner := newRunner(true)
	_, ts, _ := setup(t, runner)

	_, out := postRun(t, ts, validRequest())
	id := out["id"].(string)
	<-runner.started

	var status RunStatus
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/runs/"+id, &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "generating", status.Stage)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/runs/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	bundle := waitForBundle(t, ts, id)
	assert.Equal(t, api.StatusAborted, bundle.Status)
	assert.Contains(t, bundle.Error, "context canceled")
}

func TestCancelRun_StageUpdatedConcurrently(t *testing.T) {
	runner := newRunner(true)
	runner.abortStage = true
	_, ts, _ := setup(t, runner)

	_, out := postRun(t, ts, validRequest())
	id := out["id"].(string)
	<-runner.started

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/runs/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var status RunStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "cancelling", status.Status)
	assert.Contains(t, []string{"generating", "aborted"}, status.Stage)

	bundle := waitForBundle(t, ts, id)
	assert.Equal(t, api.StatusAborted, bundle.Status)
}

func TestDeleteStoredRun(t *testing.T) {
	_, ts, st := setup(t, newRunner(false))
	require.NoError(t, st.Save(context.Background(), &api.ResultBundle{RunID: "old", Status: api.StatusDone}))

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/runs/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, del("old"))
	assert.Equal(t, http.StatusNotFound, del("old"))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/runs/old", nil))
}

func TestListRuns(t *testing.T) {
	runner := newRunner(true)
	_, ts, st := setup(t, runner)
	require.NoError(t, st.Save(context.Background(), &api.ResultBundle{RunID: "finished", Status: api.StatusDone, Stage: "done"}))

	_, out := postRun(t, ts, validRequest())
	id := out["id"].(string)
	<-runner.started

	var runs []RunStatus
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/runs", &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, RunStatus{ID: id, Status: "running", Stage: "generating"}, runs[0])
	assert.Equal(t, RunStatus{ID: "finished", Status: "done", Stage: "done"}, runs[1])
}

func TestGetUnknownRun(t *testing.T) {
	_, ts, _ := setup(t, newRunner(false))
	var out map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/runs/nope", &out))
	assert.Contains(t, out["error"], "run not found")
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "showrunner_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := New(newRunner(false), store.NewMemory(), WithGatherer(reg))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var health map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "showrunner_test_total 1")
}

func TestShutdownCancelsRuns(t *testing.T) {
	runner := newRunner(true)
	st := store.NewMemory()
	srv := New(runner, st, WithGatherer(prometheus.NewRegistry()), WithLogger(logging.NewNop()))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, out := postRun(t, ts, validRequest())
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	bundle, err := st.Load(context.Background(), out["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, api.StatusAborted, bundle.Status)
}

// waitForBundle polls until the run is no longer active.
func waitForBundle(t *testing.T, ts *httptest.Server, id string) api.ResultBundle {
	t.Helper()
	var bundle api.ResultBundle
	require.Eventually(t, func() bool {
		bundle = api.ResultBundle{}
		return getJSON(t, ts.URL+"/runs/"+id, &bundle) == http.StatusOK && bundle.RunID == id
	}, 2*time.Second, 10*time.Millisecond)
	return bundle
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
