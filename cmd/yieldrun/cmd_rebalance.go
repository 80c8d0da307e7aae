package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/engine"
	"github.com/sawpanic/yieldrun/internal/rebalance"
)

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Execute the top-ranked opportunity as a withdraw/bridge/deposit saga",
	Long: `Scan the user's positions, take the single best net-of-cost opportunity,
revalidate it against a fresh snapshot, and run it through the rebalance saga.
With --dry-run the plan is produced and validated but nothing moves.

Capital safety: profitability is rechecked immediately before the withdraw,
and a failure after capital has left the source protocol is reported as
PARTIAL_FAILURE with the exact committed step — never silently retried.

Examples:
  yieldrun rebalance --user alice --demo --dry-run
  yieldrun rebalance --user alice --min-improvement 2.0
  yieldrun rebalance --user bob --json`,
	RunE: runRebalanceCommand,
}

var (
	rebalanceUser    string
	rebalanceDemo    bool
	rebalanceJSON    bool
	rebalanceDryRun  bool
	rebalanceTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(rebalanceCmd)

	rebalanceCmd.Flags().StringVar(&rebalanceUser, "user", "", "User whose top opportunity to execute")
	rebalanceCmd.Flags().BoolVar(&rebalanceDemo, "demo", false, "Use synthetic markets and the paper executor")
	rebalanceCmd.Flags().BoolVar(&rebalanceJSON, "json", false, "Output the saga outcome as JSON")
	rebalanceCmd.Flags().BoolVar(&rebalanceDryRun, "dry-run", false, "Plan and validate only; no transactions")
	rebalanceCmd.Flags().DurationVar(&rebalanceTimeout, "timeout", 30*time.Minute, "Overall rebalance timeout")
	addPreferenceFlags(rebalanceCmd)
	rebalanceCmd.MarkFlagRequired("user")
}

func runRebalanceCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), rebalanceTimeout)
	defer cancel()

	st, err := buildStack(rebalanceDemo)
	if err != nil {
		return err
	}
	defer st.Close()

	scan, err := st.engine.Scan(ctx, rebalanceUser, preferencesFromFlags())
	if err != nil {
		return err
	}
	if scan.Top == nil {
		fmt.Println("No opportunity clears the gates; nothing to execute.")
		return nil
	}

	outcome, err := st.engine.Execute(ctx, engine.TargetOf(*scan.Top), rebalanceDryRun)
	if err != nil {
		return err
	}

	if rebalanceJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}

	printOutcome(outcome)
	if outcome.State == rebalance.StatePartialFailure {
		return fmt.Errorf("rebalance %s left capital in flight at %s: %s", outcome.ID, lastCommitted(outcome), outcome.Reason)
	}
	return nil
}

func printOutcome(outcome *rebalance.Outcome) {
	t := outcome.Target
	fmt.Printf("🔁 Rebalance %s: %s/%s@%d → %s/%s@%d, amount %.2f\n",
		outcome.ID, t.FromProtocol, t.Asset, t.FromChain, t.ToProtocol, t.Asset, t.ToChain, t.Amount)

	for _, step := range outcome.Steps {
		fmt.Printf("  %-10s %s  tx=%s (%.1fs)\n", step.Step, step.At.Format(time.RFC3339), step.TxRef, step.Duration.Seconds())
	}

	switch {
	case outcome.DryRun:
		fmt.Printf("Dry run: plan validated, final state %s, nothing executed.\n", outcome.State)
	case outcome.Pending:
		fmt.Printf("⏳ Outcome pending at state %s: %s\n", outcome.State, outcome.Reason)
	case outcome.Succeeded():
		fmt.Printf("✅ Completed: %s, net improvement %+.2f%%\n", outcome.State, t.NetImprovement)
	default:
		fmt.Printf("❌ Terminal state %s: %s\n", outcome.State, outcome.Reason)
	}
}

func lastCommitted(outcome *rebalance.Outcome) string {
	if len(outcome.Steps) == 0 {
		return string(outcome.State)
	}
	return outcome.Steps[len(outcome.Steps)-1].Step
}
