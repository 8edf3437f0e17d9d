/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
)

// MetricsCollector receives observations about deliveries.
// *dbops.PrometheusMetrics implements it.
type MetricsCollector interface {
	ObserveAttempt(strategy string, succeeded bool, elapsed time.Duration)
	ObserveScript(succeeded bool)
}

// Applier delivers scripts by trying its strategies in order until one succeeds.
// Nothing is retried: each strategy gets exactly one attempt per script.
type Applier struct {
	strategies []Strategy
	logger     log.FieldLogger
	metrics    MetricsCollector
	ledger     *Ledger
	onAttempt  func(script *Script, attempt Attempt)
	onState    func(script *Script, from, to State)
}

// ApplierOption is a functional option for NewApplier.
type ApplierOption func(*Applier)

// WithMetrics sets a metrics collector.
func WithMetrics(metrics MetricsCollector) ApplierOption {
	return func(a *Applier) {
		a.metrics = metrics
	}
}

// WithLedger makes ApplyAll skip scripts recorded in the ledger and record the ones it applies.
func WithLedger(ledger *Ledger) ApplierOption {
	return func(a *Applier) {
		a.ledger = ledger
	}
}

// WithAttemptObserver sets a callback invoked after every attempt, successful or not.
func WithAttemptObserver(fn func(script *Script, attempt Attempt)) ApplierOption {
	return func(a *Applier) {
		a.onAttempt = fn
	}
}

// WithStateObserver sets a callback invoked on every state change of a script.
func WithStateObserver(fn func(script *Script, from, to State)) ApplierOption {
	return func(a *Applier) {
		a.onState = fn
	}
}

// NewApplier creates a new Applier.
func NewApplier(strategies []Strategy, logger log.FieldLogger, opts ...ApplierOption) (*Applier, error) {
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	a := &Applier{strategies: strategies, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Apply delivers one script. The returned Result is always in a terminal state.
func (a *Applier) Apply(ctx context.Context, script *Script) *Result {
	res := &Result{Script: script, State: StateNotStarted}
	logger := a.logger.With(log.String("script", script.ID))

	if len(script.Statements()) == 0 {
		res.Err = fmt.Errorf("%s: %w", script.ID, ErrEmptyScript)
		logger.Error("script failed", log.Error(res.Err))
		a.transition(res, StateFailed)
		a.observeScript(false)
		return res
	}

	var lastErr, interruptErr error
	for _, s := range a.strategies {
		if interruptErr = ctx.Err(); interruptErr != nil {
			break
		}
		attempt := a.attempt(ctx, res, s)
		res.Attempts = append(res.Attempts, attempt)
		if a.metrics != nil {
			a.metrics.ObserveAttempt(attempt.Strategy, attempt.Succeeded(), attempt.Duration)
		}
		if a.onAttempt != nil {
			a.onAttempt(script, attempt)
		}
		if attempt.Succeeded() {
			logger.Info("script applied", log.String("via", attempt.Strategy), log.Duration("duration", attempt.Duration))
			a.transition(res, StateSucceeded)
			a.observeScript(true)
			return res
		}
		logger.Warn("attempt failed", log.String("strategy", attempt.Strategy),
			log.String("kind", string(attempt.Kind)), log.Error(attempt.Err))
		lastErr = attempt.Err
	}

	res.Err = failureError(res.Attempts, lastErr, interruptErr)
	logger.Error("script failed", log.Int("attempts", len(res.Attempts)), log.Error(res.Err))
	a.transition(res, StateFailed)
	a.observeScript(false)
	return res
}

func (a *Applier) attempt(ctx context.Context, res *Result, s Strategy) Attempt {
	a.transition(res, StateConnecting)
	start := time.Now()
	err := s.Connect(ctx)
	if err == nil {
		a.transition(res, StateExecuting)
		err = s.Execute(ctx, res.Script)
	}
	if closeErr := s.Close(); closeErr != nil {
		a.logger.Warn("close strategy", log.String("strategy", s.Name()), log.Error(closeErr))
	}
	return Attempt{Strategy: s.Name(), Err: err, Kind: Classify(err), Duration: time.Since(start)}
}

func (a *Applier) transition(res *Result, to State) {
	from := res.State
	if from == to {
		return
	}
	res.State = to
	if a.onState != nil {
		a.onState(res.Script, from, to)
	}
}

func (a *Applier) observeScript(succeeded bool) {
	if a.metrics != nil {
		a.metrics.ObserveScript(succeeded)
	}
}

func failureError(attempts []Attempt, lastErr, interruptErr error) error {
	switch {
	case interruptErr != nil:
		return fmt.Errorf("interrupted after %d attempt(s): %w", len(attempts), interruptErr)
	case len(attempts) == 0:
		return ErrNoStrategies
	case len(attempts) == 1:
		return fmt.Errorf("%s: %w", attempts[0].Strategy, lastErr)
	}
	allNoProcedure := true
	for _, at := range attempts {
		if at.Kind != FailureNoProcedure {
			allNoProcedure = false
			break
		}
	}
	last := attempts[len(attempts)-1].Strategy
	if allNoProcedure {
		return fmt.Errorf("%w: tried %d candidates, last %s: %w", ErrNoProcedure, len(attempts), last, lastErr)
	}
	return fmt.Errorf("all %d strategies failed, last %s: %w", len(attempts), last, lastErr)
}

// Summary is the outcome of ApplyAll.
type Summary struct {
	Results []*Result
	// Applied is the number of scripts delivered during this run.
	Applied int
	// Skipped is the number of scripts the ledger reported as already applied.
	Skipped int
}

// Failed returns the result of the script that stopped the run, if any.
func (s *Summary) Failed() *Result {
	for _, r := range s.Results {
		if !r.Succeeded() {
			return r
		}
	}
	return nil
}

// ApplyAll applies scripts in the given order and stops at the first failure.
// Scripts applied before the failure stay applied.
func (a *Applier) ApplyAll(ctx context.Context, scripts []*Script) (*Summary, error) {
	sum := &Summary{}
	toApply := scripts
	if a.ledger != nil {
		if err := a.ledger.Ensure(ctx); err != nil {
			return sum, err
		}
		applied, err := a.ledger.Applied(ctx)
		if err != nil {
			return sum, err
		}
		toApply = Pending(scripts, applied)
		sum.Skipped = len(scripts) - len(toApply)
		if sum.Skipped != 0 {
			a.logger.Info("skipping scripts recorded in ledger",
				log.Int("skipped", sum.Skipped), log.String("table", a.ledger.TableName()))
		}
	} else {
		a.logger.Warn("no migration ledger, scripts are re-applied on every run and rely on their own guards " +
			"(IF NOT EXISTS) to be idempotent")
	}

	for _, script := range toApply {
		res := a.Apply(ctx, script)
		sum.Results = append(sum.Results, res)
		if !res.Succeeded() {
			return sum, fmt.Errorf("apply %s (%d applied before it): %w", script.ID, sum.Applied, res.Err)
		}
		sum.Applied++
		if a.ledger != nil {
			if err := a.ledger.Record(ctx, script.ID, res.Via()); err != nil {
				return sum, err
			}
		}
	}
	return sum, nil
}
