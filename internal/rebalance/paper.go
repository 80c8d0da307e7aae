package rebalance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PaperExecutor accepts every transaction without touching a chain. It backs
// the CLI's paper-trading mode so the decision pipeline can be exercised end
// to end with no capital at risk.
type PaperExecutor struct {
	// Latency simulates submission time; useful for exercising step
	// timeouts in demos.
	Latency time.Duration
}

// Validate implements TransactionExecutor.
func (p *PaperExecutor) Validate(ctx context.Context, params TxParams) (Validation, error) {
	if params.Amount <= 0 {
		return Validation{Valid: false, Reason: "non-positive amount"}, nil
	}
	return Validation{Valid: true}, nil
}

// Withdraw implements TransactionExecutor.
func (p *PaperExecutor) Withdraw(ctx context.Context, params TxParams) (TxResult, error) {
	return p.simulate(ctx, "withdraw", params.Protocol, params.ChainID)
}

// Deposit implements TransactionExecutor.
func (p *PaperExecutor) Deposit(ctx context.Context, params TxParams) (TxResult, error) {
	return p.simulate(ctx, "deposit", params.Protocol, params.ChainID)
}

func (p *PaperExecutor) simulate(ctx context.Context, op, protocol string, chainID int64) (TxResult, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return TxResult{}, ctx.Err()
		}
	}
	ref := fmt.Sprintf("paper-%s", uuid.NewString()[:8])
	log.Info().Str("op", op).Str("protocol", protocol).Int64("chain", chainID).
		Str("tx_ref", ref).Msg("Paper transaction executed")
	return TxResult{Success: true, TxRef: ref}, nil
}

// PaperBridge is the bridge counterpart of PaperExecutor.
type PaperBridge struct {
	Latency time.Duration
}

// Bridge implements BridgeManager.
func (p *PaperBridge) Bridge(ctx context.Context, params BridgeParams) (TxResult, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return TxResult{}, ctx.Err()
		}
	}
	ref := fmt.Sprintf("paper-bridge-%s", uuid.NewString()[:8])
	log.Info().Int64("from", params.FromChain).Int64("to", params.ToChain).
		Str("tx_ref", ref).Msg("Paper bridge transfer executed")
	return TxResult{Success: true, TxRef: ref}, nil
}
