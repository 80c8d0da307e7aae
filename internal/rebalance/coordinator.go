// Package rebalance executes an approved opportunity as an ordered,
// partially irreversible saga: withdraw, optional bridge, deposit. On-chain
// transactions cannot be rolled back, so any failure after the first fund
// movement parks the saga in a terminal PARTIAL_FAILURE state for manual
// resolution instead of attempting compensation.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/alerts"
)

// State is the saga's position in its lifecycle.
type State string

const (
	StatePending        State = "PENDING"
	StateValidated      State = "VALIDATED"
	StateWithdrawn      State = "WITHDRAWN"
	StateBridged        State = "BRIDGED"
	StateDeposited      State = "DEPOSITED"       // terminal success
	StateAborted        State = "ABORTED"         // terminal, pre-capital-movement only
	StatePartialFailure State = "PARTIAL_FAILURE" // terminal, funds mid-flight
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateDeposited || s == StateAborted || s == StatePartialFailure
}

// StepRecord documents one completed saga step.
type StepRecord struct {
	Step     string        `json:"step"`
	TxRef    string        `json:"tx_ref,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
}

// Plan is the would-be execution sequence, returned by dry runs.
type Plan struct {
	Steps      []string `json:"steps"`
	CrossChain bool     `json:"cross_chain"`
}

// Outcome is the saga's final report. Pending outcomes are neither success
// nor failure: a step timed out and the machine held at its last committed
// state rather than guessing.
type Outcome struct {
	ID      uuid.UUID    `json:"id"`
	Target  Target       `json:"target"`
	State   State        `json:"state"`
	Steps   []StepRecord `json:"steps,omitempty"`
	Pending bool         `json:"pending"`
	Reason  string       `json:"reason,omitempty"`
	DryRun  bool         `json:"dry_run"`
	Plan    *Plan        `json:"plan,omitempty"`
}

// Succeeded reports terminal success.
func (o *Outcome) Succeeded() bool { return o.State == StateDeposited }

// Config bounds each saga step. Bridging routinely takes minutes.
type Config struct {
	StepTimeout   time.Duration `yaml:"step_timeout"`
	BridgeTimeout time.Duration `yaml:"bridge_timeout"`
}

// DefaultConfig returns production step bounds.
func DefaultConfig() Config {
	return Config{
		StepTimeout:   2 * time.Minute,
		BridgeTimeout: 20 * time.Minute,
	}
}

// Coordinator drives the saga. Strictly sequential by necessity: each step's
// precondition is the prior step's committed on-chain effect.
type Coordinator struct {
	executor    TransactionExecutor
	bridge      BridgeManager
	revalidator Revalidator
	alerter     alerts.Sink
	cfg         Config
}

// ErrNotConfigured is returned when execution is requested without the
// required collaborators.
var ErrNotConfigured = errors.New("rebalance: executor and bridge manager not configured")

// NewCoordinator creates a saga coordinator.
func NewCoordinator(executor TransactionExecutor, bridge BridgeManager, revalidator Revalidator, alerter alerts.Sink, cfg Config) *Coordinator {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultConfig().StepTimeout
	}
	if cfg.BridgeTimeout <= 0 {
		cfg.BridgeTimeout = DefaultConfig().BridgeTimeout
	}
	if alerter == nil {
		alerter = alerts.LogSink{}
	}
	return &Coordinator{
		executor:    executor,
		bridge:      bridge,
		revalidator: revalidator,
		alerter:     alerter,
		cfg:         cfg,
	}
}

// Execute runs the saga for one approved target. In dry-run mode every
// read-only check runs and the would-be plan is returned with zero calls to
// the executor or bridge. Every terminal state emits exactly one alert; the
// coordinator never silently swallows a failure.
func (c *Coordinator) Execute(ctx context.Context, target Target, dryRun bool) (*Outcome, error) {
	outcome := &Outcome{
		ID:     uuid.New(),
		Target: target,
		State:  StatePending,
		DryRun: dryRun,
	}

	logger := log.With().
		Str("rebalance_id", outcome.ID.String()).
		Str("user", target.User).
		Str("asset", target.Asset).
		Int64("from_chain", target.FromChain).
		Int64("to_chain", target.ToChain).
		Bool("dry_run", dryRun).
		Logger()

	// PENDING -> VALIDATED: profitability must still hold against fresh
	// market data. Losing it here is normal operation, not a fault.
	ok, reason, err := c.revalidator.Recheck(ctx, target)
	if err != nil {
		outcome.State = StateAborted
		outcome.Reason = fmt.Sprintf("revalidation error: %v", err)
		logger.Warn().Err(err).Msg("Rebalance aborted before any fund movement, retryable")
		c.notify(outcome, alerts.SeverityWarning)
		return outcome, nil
	}
	if !ok {
		outcome.State = StateAborted
		outcome.Reason = reason
		logger.Info().Str("reason", reason).Msg("Opportunity no longer profitable, rebalance aborted")
		c.notify(outcome, alerts.SeverityInfo)
		return outcome, nil
	}
	outcome.State = StateValidated

	crossChain := target.FromChain != target.ToChain
	if dryRun {
		plan := &Plan{Steps: []string{"withdraw"}, CrossChain: crossChain}
		if crossChain {
			plan.Steps = append(plan.Steps, "bridge")
		}
		plan.Steps = append(plan.Steps, "deposit")
		outcome.Plan = plan
		logger.Info().Strs("plan", plan.Steps).Msg("Dry run validated, stopping before submission")
		return outcome, nil
	}

	if c.executor == nil || (crossChain && c.bridge == nil) {
		outcome.State = StateAborted
		outcome.Reason = ErrNotConfigured.Error()
		c.notify(outcome, alerts.SeverityWarning)
		return outcome, ErrNotConfigured
	}

	withdrawParams := TxParams{
		User:     target.User,
		ChainID:  target.FromChain,
		Protocol: target.FromProtocol,
		Asset:    target.Asset,
		Amount:   target.Amount,
	}

	// Executor pre-flight. Still pre-capital-movement, so a failure here
	// aborts cleanly and the next cycle may retry.
	validation, err := c.callValidate(ctx, withdrawParams)
	if err != nil {
		outcome.State = StateAborted
		outcome.Reason = fmt.Sprintf("executor validation: %v", err)
		logger.Warn().Err(err).Msg("Executor validation failed, rebalance aborted")
		c.notify(outcome, alerts.SeverityWarning)
		return outcome, nil
	}
	if !validation.Valid {
		outcome.State = StateAborted
		outcome.Reason = validation.Reason
		logger.Warn().Str("reason", validation.Reason).Msg("Executor rejected parameters, rebalance aborted")
		c.notify(outcome, alerts.SeverityWarning)
		return outcome, nil
	}

	// VALIDATED -> WITHDRAWN. The last point of no return is inside this
	// call: once it succeeds, funds have left the source market.
	res, timedOut, err := c.submit(ctx, c.cfg.StepTimeout, func(stepCtx context.Context) (TxResult, error) {
		return c.executor.Withdraw(stepCtx, withdrawParams)
	})
	if timedOut {
		return c.hold(outcome, "withdraw", logger), nil
	}
	if err != nil || !res.Success {
		outcome.State = StateAborted
		outcome.Reason = failureReason("withdraw", res, err)
		logger.Warn().Str("reason", outcome.Reason).Msg("Withdraw failed before any fund movement, rebalance aborted")
		c.notify(outcome, alerts.SeverityWarning)
		return outcome, nil
	}
	outcome.State = StateWithdrawn
	outcome.record("withdraw", res.TxRef)

	// WITHDRAWN -> BRIDGED, cross-chain only.
	if crossChain {
		bridgeParams := BridgeParams{
			User:      target.User,
			FromChain: target.FromChain,
			ToChain:   target.ToChain,
			Asset:     target.Asset,
			Amount:    target.Amount,
		}
		res, timedOut, err = c.submit(ctx, c.cfg.BridgeTimeout, func(stepCtx context.Context) (TxResult, error) {
			return c.bridge.Bridge(stepCtx, bridgeParams)
		})
		if timedOut {
			return c.hold(outcome, "bridge", logger), nil
		}
		if err != nil || !res.Success {
			return c.partialFailure(outcome, "bridge", res, err, logger), nil
		}
		outcome.State = StateBridged
		outcome.record("bridge", res.TxRef)
	}

	// (WITHDRAWN|BRIDGED) -> DEPOSITED.
	depositParams := TxParams{
		User:     target.User,
		ChainID:  target.ToChain,
		Protocol: target.ToProtocol,
		Asset:    target.Asset,
		Amount:   target.Amount,
	}
	res, timedOut, err = c.submit(ctx, c.cfg.StepTimeout, func(stepCtx context.Context) (TxResult, error) {
		return c.executor.Deposit(stepCtx, depositParams)
	})
	if timedOut {
		return c.hold(outcome, "deposit", logger), nil
	}
	if err != nil || !res.Success {
		return c.partialFailure(outcome, "deposit", res, err, logger), nil
	}
	outcome.State = StateDeposited
	outcome.record("deposit", res.TxRef)

	logger.Info().Int("steps", len(outcome.Steps)).Msg("Rebalance completed")
	c.notify(outcome, alerts.SeverityInfo)
	return outcome, nil
}

func (c *Coordinator) callValidate(ctx context.Context, params TxParams) (Validation, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	defer cancel()
	return c.executor.Validate(stepCtx, params)
}

// submit runs one transaction step under its timeout. A timeout is reported
// separately from failure: the transaction may or may not have landed, so
// the machine must hold rather than assume either way.
func (c *Coordinator) submit(ctx context.Context, timeout time.Duration, fn func(context.Context) (TxResult, error)) (TxResult, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fn(stepCtx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded)) {
		return res, true, err
	}
	return res, false, err
}

// hold reports a timed-out step: state stays where it was, outcome is
// pending, and an operator is told which step is unconfirmed.
func (c *Coordinator) hold(outcome *Outcome, step string, logger zerolog.Logger) *Outcome {
	outcome.Pending = true
	outcome.Reason = fmt.Sprintf("%s step timed out; state held at %s pending confirmation", step, outcome.State)
	logger.Warn().Str("step", step).Str("state", string(outcome.State)).
		Msg("Saga step timed out, holding state pending confirmation")
	c.alerter.Notify(
		"Rebalance pending confirmation",
		fmt.Sprintf("rebalance %s: %s", outcome.ID, outcome.Reason),
		alerts.SeverityWarning,
	)
	return outcome
}

// partialFailure parks the saga after funds have moved. Never auto-retried:
// retry semantics on already-submitted transactions are unsafe to infer.
func (c *Coordinator) partialFailure(outcome *Outcome, step string, res TxResult, err error, logger zerolog.Logger) *Outcome {
	completed := outcome.State
	outcome.State = StatePartialFailure
	outcome.Reason = fmt.Sprintf("%s failed after %s: %s", step, completed, failureReason(step, res, err))
	logger.Error().Str("failed_step", step).Str("completed_through", string(completed)).
		Msg("Rebalance partially failed, manual resolution required")
	c.notify(outcome, alerts.SeverityCritical)
	return outcome
}

func (c *Coordinator) notify(outcome *Outcome, severity alerts.Severity) {
	var title string
	switch outcome.State {
	case StateDeposited:
		title = "Rebalance completed"
	case StateAborted:
		title = "Rebalance aborted"
	case StatePartialFailure:
		title = "Rebalance PARTIAL FAILURE"
	default:
		title = "Rebalance update"
	}
	msg := fmt.Sprintf("rebalance %s (%s %.4f, chain %d -> %d): %s",
		outcome.ID, outcome.Target.Asset, outcome.Target.Amount,
		outcome.Target.FromChain, outcome.Target.ToChain, outcome.describe())
	c.alerter.Notify(title, msg, severity)
}

func (o *Outcome) describe() string {
	if o.Reason != "" {
		return fmt.Sprintf("state %s: %s", o.State, o.Reason)
	}
	return fmt.Sprintf("state %s, %d steps executed", o.State, len(o.Steps))
}

func (o *Outcome) record(step, txRef string) {
	now := time.Now().UTC()
	var dur time.Duration
	if n := len(o.Steps); n > 0 {
		dur = now.Sub(o.Steps[n-1].At)
	}
	o.Steps = append(o.Steps, StepRecord{Step: step, TxRef: txRef, At: now, Duration: dur})
}

func failureReason(step string, res TxResult, err error) string {
	if err != nil {
		return fmt.Sprintf("%s error: %v", step, err)
	}
	if res.Reason != "" {
		return fmt.Sprintf("%s rejected: %s", step, res.Reason)
	}
	return fmt.Sprintf("%s unsuccessful", step)
}
