package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemstart/showrunner/pkg/api"
)

func TestSleep(t *testing.T) {
	require.NoError(t, sleep(context.Background(), "1ms"))
	assert.Error(t, sleep(context.Background(), "soon"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(sleep(ctx, "1h"), context.Canceled))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "héllo", clip("héllo", 10))
	assert.Equal(t, "hé", clip("héllo", 2))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.Equal(t, 1280, cfg.ViewportWidth)
}

// TestSession_Live drives a real browser. It runs only when
// SHOWRUNNER_BROWSER_TESTS is set, since it needs a local Chromium.
func TestSession_Live(t *testing.T) {
	if os.Getenv("SHOWRUNNER_BROWSER_TESTS") == "" {
		t.Skip("set SHOWRUNNER_BROWSER_TESTS=1 to run browser tests")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Dashboard</title></head><body>
<input id="q"><button id="go" onclick="document.getElementById('out').textContent='Hello '+document.getElementById('q').value">Go</button>
<p id="out"></p></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := NewOpener(DefaultConfig(), nil).Open(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	obs, err := s.Do(ctx, api.ActionStep{Kind: api.StepNavigate, Target: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Dashboard", obs.Title)

	_, err = s.Do(ctx, api.ActionStep{Kind: api.StepType, Target: "#q", Payload: "team"})
	require.NoError(t, err)
	_, err = s.Do(ctx, api.ActionStep{Kind: api.StepClick, Target: "#go"})
	require.NoError(t, err)

	obs, err = s.Do(ctx, api.ActionStep{Kind: api.StepAssert, Target: "#out"})
	require.NoError(t, err)
	assert.True(t, obs.Found)
	assert.Equal(t, "Hello team", obs.Text)

	obs, err = s.Do(ctx, api.ActionStep{Kind: api.StepAssert, Target: "#missing"})
	require.NoError(t, err)
	assert.False(t, obs.Found)
}
