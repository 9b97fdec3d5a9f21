// Package browser implements the demo executor's driver on top of go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/systemstart/showrunner/pkg/api"
	"github.com/systemstart/showrunner/pkg/executor"
)

// maxTextRunes caps the page text kept in an observation.
const maxTextRunes = 16 << 10

// Config controls how browsers are started.
type Config struct {
	// DebuggerURL connects to a running browser instead of launching one.
	DebuggerURL string
	// Bin is the browser binary; empty lets rod find or download one.
	Bin            string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
}

// DefaultConfig returns a headless 1280x800 configuration.
func DefaultConfig() Config {
	return Config{Headless: true, ViewportWidth: 1280, ViewportHeight: 800}
}

// Opener starts one browser session per run.
type Opener struct {
	cfg    Config
	logger *slog.Logger
}

// NewOpener creates an opener. A nil logger uses slog.Default().
func NewOpener(cfg Config, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{cfg: cfg, logger: logger}
}

// Open launches (or connects to) a browser and opens an isolated page.
func (o *Opener) Open(ctx context.Context) (*Session, error) {
	s := &Session{logger: o.logger}

	controlURL := o.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(o.cfg.Headless)
		if o.cfg.Bin != "" {
			l = l.Bin(o.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		s.launcher = l
		controlURL = u
	}

	s.browser = rod.New().ControlURL(controlURL)
	if err := s.browser.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	incognito, err := s.browser.Incognito()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	s.incognito = incognito

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.page = page

	if o.cfg.ViewportWidth > 0 && o.cfg.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             o.cfg.ViewportWidth,
			Height:            o.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
		}).Call(page); err != nil {
			o.logger.Warn("failed to set viewport", "error", err)
		}
	}

	o.logger.Debug("browser session opened", "controlURL", controlURL)
	return s, nil
}

// Session is a single page driven step by step. It is not safe for
// concurrent use; a run executes one step at a time.
type Session struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	logger    *slog.Logger
}

// Do performs step and observes the page afterwards.
func (s *Session) Do(ctx context.Context, step api.ActionStep) (executor.Observation, error) {
	page := s.page.Context(ctx)
	var el *rod.Element
	found := true

	switch step.Kind {
	case api.StepNavigate:
		if err := page.Navigate(step.Target); err != nil {
			return executor.Observation{}, fmt.Errorf("navigate %s: %w", step.Target, err)
		}
		if err := page.WaitLoad(); err != nil {
			return executor.Observation{}, fmt.Errorf("wait for load: %w", err)
		}

	case api.StepClick:
		var err error
		if el, err = page.Element(step.Target); err != nil {
			return executor.Observation{}, fmt.Errorf("element %q not found: %w", step.Target, err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return executor.Observation{}, fmt.Errorf("click %q: %w", step.Target, err)
		}

	case api.StepType:
		var err error
		if el, err = page.Element(step.Target); err != nil {
			return executor.Observation{}, fmt.Errorf("element %q not found: %w", step.Target, err)
		}
		if err := el.SelectAllText(); err != nil {
			s.logger.Debug("select text before typing failed", "target", step.Target, "error", err)
		}
		if err := el.Input(step.Payload); err != nil {
			return executor.Observation{}, fmt.Errorf("type into %q: %w", step.Target, err)
		}

	case api.StepWait:
		if step.Target == "" {
			if err := sleep(ctx, step.Payload); err != nil {
				return executor.Observation{}, err
			}
			break
		}
		var err error
		if el, err = page.Element(step.Target); err != nil {
			return executor.Observation{}, fmt.Errorf("element %q not found: %w", step.Target, err)
		}
		if err := el.WaitVisible(); err != nil {
			return executor.Observation{}, fmt.Errorf("wait for %q: %w", step.Target, err)
		}

	case api.StepAssert:
		if step.Target != "" {
			has, e, err := page.Has(step.Target)
			if err != nil {
				return executor.Observation{}, fmt.Errorf("query %q: %w", step.Target, err)
			}
			found, el = has, e
		}

	default:
		return executor.Observation{}, fmt.Errorf("unsupported step kind %q", step.Kind)
	}

	return s.observe(page, el, found)
}

func (s *Session) observe(page *rod.Page, el *rod.Element, found bool) (executor.Observation, error) {
	obs := executor.Observation{Found: found}

	info, err := page.Info()
	if err != nil {
		return obs, fmt.Errorf("page info: %w", err)
	}
	obs.URL = info.URL
	obs.Title = info.Title

	if el == nil && found {
		if body, err := page.Element("body"); err == nil {
			el = body
		}
	}
	if el != nil {
		if text, err := el.Text(); err == nil {
			obs.Text = clip(text, maxTextRunes)
		}
	}
	return obs, nil
}

// Close releases the page, the browser and a launched process.
func (s *Session) Close() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if s.incognito != nil {
		if err := s.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
		}
	}
	if s.browser != nil && s.launcher != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	s.cleanup()
	return errors.Join(errs...)
}

func (s *Session) cleanup() {
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
}

func sleep(ctx context.Context, payload string) error {
	d, err := time.ParseDuration(payload)
	if err != nil {
		return fmt.Errorf("wait duration %q: %w", payload, err)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
