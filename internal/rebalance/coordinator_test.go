package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/yieldrun/internal/alerts"
)

// scriptedExecutor counts calls and fails on demand per step.
type scriptedExecutor struct {
	mu            sync.Mutex
	validateCalls int
	withdrawCalls int
	depositCalls  int

	rejectReason string
	validateErr  error
	withdrawFail bool
	depositFail  bool
	withdrawHang bool
	depositHang  bool
}

func (e *scriptedExecutor) Validate(_ context.Context, _ TxParams) (Validation, error) {
	e.mu.Lock()
	e.validateCalls++
	e.mu.Unlock()
	if e.validateErr != nil {
		return Validation{}, e.validateErr
	}
	if e.rejectReason != "" {
		return Validation{Valid: false, Reason: e.rejectReason}, nil
	}
	return Validation{Valid: true}, nil
}

func (e *scriptedExecutor) Withdraw(ctx context.Context, _ TxParams) (TxResult, error) {
	e.mu.Lock()
	e.withdrawCalls++
	e.mu.Unlock()
	if e.withdrawHang {
		<-ctx.Done()
		return TxResult{}, ctx.Err()
	}
	if e.withdrawFail {
		return TxResult{Success: false, Reason: "insufficient balance"}, nil
	}
	return TxResult{Success: true, TxRef: "0xwithdraw"}, nil
}

func (e *scriptedExecutor) Deposit(ctx context.Context, _ TxParams) (TxResult, error) {
	e.mu.Lock()
	e.depositCalls++
	e.mu.Unlock()
	if e.depositHang {
		<-ctx.Done()
		return TxResult{}, ctx.Err()
	}
	if e.depositFail {
		return TxResult{Success: false, Reason: "market frozen"}, nil
	}
	return TxResult{Success: true, TxRef: "0xdeposit"}, nil
}

type scriptedBridge struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (b *scriptedBridge) Bridge(_ context.Context, _ BridgeParams) (TxResult, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.fail {
		return TxResult{Success: false, Reason: "bridge congested"}, nil
	}
	return TxResult{Success: true, TxRef: "0xbridge"}, nil
}

type scriptedRevalidator struct {
	ok     bool
	reason string
	err    error
}

func (r scriptedRevalidator) Recheck(context.Context, Target) (bool, string, error) {
	return r.ok, r.reason, r.err
}

// countingSink records every notification.
type countingSink struct {
	mu     sync.Mutex
	titles []string
	sevs   []alerts.Severity
}

func (s *countingSink) Notify(title, _ string, severity alerts.Severity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.sevs = append(s.sevs, severity)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

func crossChainTarget() Target {
	return Target{
		User: "alice", FromChain: 1, FromProtocol: "aave",
		ToChain: 42161, ToProtocol: "compound",
		Asset: "USDC", Amount: 10_000, NetImprovement: 2.5,
	}
}

func sameChainTarget() Target {
	t := crossChainTarget()
	t.ToChain = 1
	return t
}

func newTestCoordinator(exec *scriptedExecutor, bridge *scriptedBridge, reval scriptedRevalidator, sink *countingSink) *Coordinator {
	return NewCoordinator(exec, bridge, reval, sink, Config{
		StepTimeout:   200 * time.Millisecond,
		BridgeTimeout: 200 * time.Millisecond,
	})
}

func TestCoordinator_Execute_CrossChainSuccess(t *testing.T) {
	exec := &scriptedExecutor{}
	bridge := &scriptedBridge{}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateDeposited, outcome.State)
	assert.True(t, outcome.Succeeded())
	assert.False(t, outcome.Pending)
	require.Len(t, outcome.Steps, 3)
	assert.Equal(t, "withdraw", outcome.Steps[0].Step)
	assert.Equal(t, "bridge", outcome.Steps[1].Step)
	assert.Equal(t, "deposit", outcome.Steps[2].Step)
	assert.Equal(t, 1, exec.withdrawCalls)
	assert.Equal(t, 1, bridge.calls)
	assert.Equal(t, 1, exec.depositCalls)
	assert.Equal(t, 1, sink.count(), "exactly one alert per terminal outcome")
	assert.Equal(t, alerts.SeverityInfo, sink.sevs[0])
}

func TestCoordinator_Execute_SameChainSkipsBridge(t *testing.T) {
	exec := &scriptedExecutor{}
	bridge := &scriptedBridge{}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), sameChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateDeposited, outcome.State)
	require.Len(t, outcome.Steps, 2)
	assert.Equal(t, "withdraw", outcome.Steps[0].Step)
	assert.Equal(t, "deposit", outcome.Steps[1].Step)
	assert.Equal(t, 0, bridge.calls)
}

func TestCoordinator_Execute_DryRun(t *testing.T) {
	exec := &scriptedExecutor{}
	bridge := &scriptedBridge{}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), true)
	require.NoError(t, err)

	assert.Equal(t, StateValidated, outcome.State)
	assert.True(t, outcome.DryRun)
	require.NotNil(t, outcome.Plan)
	assert.Equal(t, []string{"withdraw", "bridge", "deposit"}, outcome.Plan.Steps)
	assert.True(t, outcome.Plan.CrossChain)

	assert.Equal(t, 0, exec.validateCalls, "dry run makes zero executor calls")
	assert.Equal(t, 0, exec.withdrawCalls)
	assert.Equal(t, 0, exec.depositCalls)
	assert.Equal(t, 0, bridge.calls)
}

func TestCoordinator_Execute_DryRunSameChainPlan(t *testing.T) {
	coord := newTestCoordinator(&scriptedExecutor{}, &scriptedBridge{}, scriptedRevalidator{ok: true}, &countingSink{})

	outcome, err := coord.Execute(context.Background(), sameChainTarget(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"withdraw", "deposit"}, outcome.Plan.Steps)
	assert.False(t, outcome.Plan.CrossChain)
}

func TestCoordinator_Execute_AbortsWhenNoLongerProfitable(t *testing.T) {
	exec := &scriptedExecutor{}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, &scriptedBridge{},
		scriptedRevalidator{ok: false, reason: "net improvement -0.2% no longer positive"}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, outcome.State)
	assert.Contains(t, outcome.Reason, "no longer positive")
	assert.Equal(t, 0, exec.withdrawCalls)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, alerts.SeverityInfo, sink.sevs[0], "losing profitability is normal operation")
}

func TestCoordinator_Execute_AbortsOnRevalidationError(t *testing.T) {
	sink := &countingSink{}
	coord := newTestCoordinator(&scriptedExecutor{}, &scriptedBridge{},
		scriptedRevalidator{err: errors.New("snapshot unavailable")}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, outcome.State)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, alerts.SeverityWarning, sink.sevs[0])
}

func TestCoordinator_Execute_AbortsOnValidationReject(t *testing.T) {
	exec := &scriptedExecutor{rejectReason: "amount exceeds max single withdrawal"}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, &scriptedBridge{}, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, outcome.State)
	assert.Equal(t, "amount exceeds max single withdrawal", outcome.Reason)
	assert.Equal(t, 0, exec.withdrawCalls)
}

func TestCoordinator_Execute_WithdrawFailureAbortsCleanly(t *testing.T) {
	exec := &scriptedExecutor{withdrawFail: true}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, &scriptedBridge{}, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StateAborted, outcome.State, "no capital has moved before the withdraw commits")
	assert.Equal(t, 1, exec.withdrawCalls)
	assert.Equal(t, 0, exec.depositCalls)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, alerts.SeverityWarning, sink.sevs[0])
}

func TestCoordinator_Execute_DepositFailureIsPartialFailure(t *testing.T) {
	exec := &scriptedExecutor{depositFail: true}
	bridge := &scriptedBridge{}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, outcome.State)
	assert.True(t, outcome.State.Terminal())
	assert.Contains(t, outcome.Reason, "deposit failed after BRIDGED")
	assert.Equal(t, 1, exec.depositCalls, "a failed deposit is never retried")
	require.Equal(t, 1, sink.count(), "exactly one alert for the partial failure")
	assert.Equal(t, alerts.SeverityCritical, sink.sevs[0])
	// The committed steps remain on record for manual resolution.
	require.Len(t, outcome.Steps, 2)
	assert.Equal(t, "withdraw", outcome.Steps[0].Step)
	assert.Equal(t, "bridge", outcome.Steps[1].Step)
}

func TestCoordinator_Execute_BridgeFailureIsPartialFailure(t *testing.T) {
	exec := &scriptedExecutor{}
	bridge := &scriptedBridge{fail: true}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.Equal(t, StatePartialFailure, outcome.State)
	assert.Contains(t, outcome.Reason, "bridge failed after WITHDRAWN")
	assert.Equal(t, 0, exec.depositCalls)
	assert.Equal(t, alerts.SeverityCritical, sink.sevs[0])
}

func TestCoordinator_Execute_WithdrawTimeoutHoldsState(t *testing.T) {
	exec := &scriptedExecutor{withdrawHang: true}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, &scriptedBridge{}, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.True(t, outcome.Pending, "a timed-out step is unconfirmed, not failed")
	assert.Equal(t, StateValidated, outcome.State, "state held at the last committed transition")
	assert.False(t, outcome.State.Terminal())
	require.Equal(t, 1, sink.count())
	assert.Equal(t, alerts.SeverityWarning, sink.sevs[0])
}

func TestCoordinator_Execute_DepositTimeoutHoldsAfterBridge(t *testing.T) {
	exec := &scriptedExecutor{depositHang: true}
	sink := &countingSink{}
	coord := newTestCoordinator(exec, &scriptedBridge{}, scriptedRevalidator{ok: true}, sink)

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)

	assert.True(t, outcome.Pending)
	assert.Equal(t, StateBridged, outcome.State)
}

func TestCoordinator_Execute_MissingExecutor(t *testing.T) {
	sink := &countingSink{}
	coord := NewCoordinator(nil, nil, scriptedRevalidator{ok: true}, sink, Config{})

	outcome, err := coord.Execute(context.Background(), crossChainTarget(), false)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, StateAborted, outcome.State)
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateDeposited.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.True(t, StatePartialFailure.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateValidated.Terminal())
	assert.False(t, StateWithdrawn.Terminal())
	assert.False(t, StateBridged.Terminal())
}

func TestPaperExecutor_RoundTrip(t *testing.T) {
	exec := &PaperExecutor{}
	bridge := &PaperBridge{}
	sink := &countingSink{}

	c := NewCoordinator(exec, bridge, scriptedRevalidator{ok: true}, sink, Config{})
	outcome, err := c.Execute(context.Background(), crossChainTarget(), false)
	require.NoError(t, err)
	assert.Equal(t, StateDeposited, outcome.State)
	for _, step := range outcome.Steps {
		assert.Contains(t, step.TxRef, "paper-")
	}
}

func TestPaperExecutor_RejectsNonPositiveAmount(t *testing.T) {
	exec := &PaperExecutor{}
	v, err := exec.Validate(context.Background(), TxParams{User: "alice", Amount: 0})
	require.NoError(t, err)
	assert.False(t, v.Valid)
}
