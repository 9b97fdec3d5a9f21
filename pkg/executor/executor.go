// Package executor runs planned action sequences against a browser driver.
//
// Steps run strictly in order, one at a time, each under its own timeout.
// A failing step is retried with exponential backoff; when it keeps failing
// the rest of the sequence is skipped and the trigger is logged as failed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/systemstart/showrunner/pkg/api"
)

// Driver performs one browser action and reports what it observed.
type Driver interface {
	Do(ctx context.Context, step api.ActionStep) (Observation, error)
}

// StepFunc observes every finished step.
type StepFunc func(triggerID string, log api.StepLog)

// Executor runs sequences one at a time. It holds no per-run state and may
// be shared between runs that use different drivers.
type Executor struct {
	retries        int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	stepTimeout    time.Duration
	logger         *slog.Logger
	onStep         StepFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetries sets how many times a failing step is retried.
func WithRetries(n int) Option {
	return func(e *Executor) { e.retries = n }
}

// WithBackoff sets the initial and maximum retry delays.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(e *Executor) {
		e.initialBackoff = initial
		e.maxBackoff = maxDelay
	}
}

// WithStepTimeout sets the timeout for steps that carry none.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithStepHook(fn StepFunc) Option {
	return func(e *Executor) { e.onStep = fn }
}

// New creates an executor with the default retry policy.
func New(opts ...Option) *Executor {
	e := &Executor{
		retries:        api.DefaultStepRetries,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		stepTimeout:    api.DefaultStepTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs seq through driver. Step failures are recorded in the
// returned log and do not produce an error; only cancellation of ctx does,
// in which case the log is marked cancelled.
func (e *Executor) Execute(ctx context.Context, driver Driver, seq api.Sequence) (api.TriggerLog, error) {
	start := time.Now()
	log := api.TriggerLog{TriggerID: seq.TriggerID, Status: api.TriggerSucceeded}
	logger := e.logger.With("trigger", seq.TriggerID)

	for i, step := range seq.Steps {
		if err := ctx.Err(); err != nil {
			log.Status = api.TriggerCancelled
			log.Error = err.Error()
			log.Elapsed = time.Since(start)
			return log, err
		}

		stepLog := e.runStep(ctx, driver, i, step)
		log.Steps = append(log.Steps, stepLog)
		if e.onStep != nil {
			e.onStep(seq.TriggerID, stepLog)
		}

		if stepLog.Succeeded {
			logger.Debug("step succeeded", "step", i, "kind", step.Kind, "attempts", stepLog.Attempts)
			continue
		}

		if err := ctx.Err(); err != nil {
			log.Status = api.TriggerCancelled
			log.Error = err.Error()
			log.Elapsed = time.Since(start)
			return log, err
		}

		log.Status = api.TriggerFailed
		log.Error = fmt.Errorf("%w: step %d (%s %s): %s",
			api.ErrExecutionStepFailed, i, step.Kind, step.Target, stepLog.Error).Error()
		logger.Warn("sequence aborted", "step", i, "kind", step.Kind, "attempts", stepLog.Attempts, "error", stepLog.Error)
		break
	}

	log.Elapsed = time.Since(start)
	return log, nil
}

func (e *Executor) runStep(ctx context.Context, driver Driver, index int, step api.ActionStep) api.StepLog {
	start := time.Now()
	sl := api.StepLog{Index: index, Kind: step.Kind, Target: step.Target}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}

	var obs Observation
	op := func() error {
		sl.Attempts++
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var err error
		obs, err = driver.Do(stepCtx, step)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s: %w", timeout, err)
			}
			return err
		}
		return check(step, obs)
	}

	err := backoff.RetryNotify(op, e.policy(ctx), func(err error, next time.Duration) {
		e.logger.Debug("retrying step", "step", index, "kind", step.Kind, "attempt", sl.Attempts, "in", next, "error", err)
	})

	sl.Elapsed = time.Since(start)
	sl.Observed = obs.String()
	if err != nil {
		sl.Error = err.Error()
		return sl
	}
	sl.Succeeded = true
	return sl
}

func (e *Executor) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = e.maxBackoff
	b.MaxElapsedTime = 0
	retries := max(e.retries, 0)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// check verifies a step's post-conditions against the observation.
func check(step api.ActionStep, obs Observation) error {
	if step.Kind == api.StepAssert {
		if step.Payload != "" {
			ok, err := Evaluate(step.Payload, obs)
			if err != nil {
				return backoff.Permanent(err)
			}
			if !ok {
				return fmt.Errorf("assertion %q does not hold (%s)", step.Payload, obs)
			}
		} else if !obs.Found {
			return fmt.Errorf("expected element %q not found", step.Target)
		}
	}

	if step.Expect != "" {
		ok, err := Evaluate(step.Expect, obs)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("expectation %q does not hold (%s)", step.Expect, obs)
		}
	}
	return nil
}
