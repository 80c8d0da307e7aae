package rebalance

import "context"

// TxParams describe a withdraw or deposit against one market.
type TxParams struct {
	User     string  `json:"user"`
	ChainID  int64   `json:"chain_id"`
	Protocol string  `json:"protocol"`
	Asset    string  `json:"asset"`
	Amount   float64 `json:"amount"`
}

// BridgeParams describe a cross-chain transfer.
type BridgeParams struct {
	User      string  `json:"user"`
	FromChain int64   `json:"from_chain"`
	ToChain   int64   `json:"to_chain"`
	Asset     string  `json:"asset"`
	Amount    float64 `json:"amount"`
}

// TxResult is the outcome of a submitted transaction.
type TxResult struct {
	Success bool   `json:"success"`
	TxRef   string `json:"tx_ref"`
	Reason  string `json:"reason,omitempty"`
}

// Validation is the executor's pre-flight answer.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransactionExecutor submits on-chain market transactions. All calls are
// fallible and may take seconds.
type TransactionExecutor interface {
	Validate(ctx context.Context, params TxParams) (Validation, error)
	Withdraw(ctx context.Context, params TxParams) (TxResult, error)
	Deposit(ctx context.Context, params TxParams) (TxResult, error)
}

// BridgeManager moves an asset's representation between chains. Bridging
// may take substantially longer than same-chain operations; the returned
// result implies finality.
type BridgeManager interface {
	Bridge(ctx context.Context, params BridgeParams) (TxResult, error)
}

// Revalidator rechecks an opportunity's profitability against freshly
// fetched market data immediately before capital moves.
type Revalidator interface {
	Recheck(ctx context.Context, opp Target) (ok bool, reason string, err error)
}

// Target is the minimal view of an approved opportunity the coordinator
// needs to execute it.
type Target struct {
	User           string  `json:"user"`
	FromChain      int64   `json:"from_chain"`
	FromProtocol   string  `json:"from_protocol"`
	ToChain        int64   `json:"to_chain"`
	ToProtocol     string  `json:"to_protocol"`
	Asset          string  `json:"asset"`
	Amount         float64 `json:"amount"`
	NetImprovement float64 `json:"net_improvement"` // percentage points at approval time
}
