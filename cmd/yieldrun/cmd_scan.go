package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/engine"
	"github.com/sawpanic/yieldrun/internal/opportunity"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rank yield opportunities for a user's positions",
	Long: `Refresh market data across all configured chains, score every market
with the risk model, and rank net-of-cost switching opportunities against the
user's current positions. Nothing is executed.

Examples:
  yieldrun scan --user alice --demo
  yieldrun scan --user alice --min-improvement 2.0 --json
  yieldrun scan --user bob --chains 1,42161 --risk-tolerance 0.3`,
	RunE: runScanCommand,
}

var (
	scanUser    string
	scanDemo    bool
	scanJSON    bool
	scanTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanUser, "user", "", "User whose positions to scan")
	scanCmd.Flags().BoolVar(&scanDemo, "demo", false, "Use synthetic markets and in-memory positions")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output the full scan result as JSON")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 60*time.Second, "Scan timeout")
	addPreferenceFlags(scanCmd)
	scanCmd.MarkFlagRequired("user")
}

// addPreferenceFlags registers the shared preference flags used by scan,
// rebalance, and serve.
func addPreferenceFlags(cmd *cobra.Command) {
	def := opportunity.DefaultPreferences()
	cmd.Flags().Float64Var(&prefRiskTolerance, "risk-tolerance", def.RiskTolerance, "Risk tolerance in [0,1]; 0 penalizes risk hardest")
	cmd.Flags().Float64Var(&prefYieldPreference, "yield-preference", def.YieldPreference, "Yield weight in [0,1] for preference scoring")
	cmd.Flags().Float64Var(&prefMinImprovement, "min-improvement", def.MinImprovement, "Minimum risk-adjusted APY improvement (percentage points)")
	cmd.Flags().Float64Var(&prefMaxGasCost, "max-gas-cost", def.MaxGasCostPercent, "Maximum switching cost as % of position value")
	cmd.Flags().Float64Var(&prefMaxRiskScore, "max-risk", def.MaxRiskScore, "Maximum acceptable risk score [0,100]")
	cmd.Flags().BoolVar(&prefIncludeRewards, "include-rewards", def.IncludeRewards, "Count reward emissions toward APY")
	cmd.Flags().Int64SliceVar(&prefChains, "chains", nil, "Preferred chain IDs (comma separated)")
}

var (
	prefRiskTolerance   float64
	prefYieldPreference float64
	prefMinImprovement  float64
	prefMaxGasCost      float64
	prefMaxRiskScore    float64
	prefIncludeRewards  bool
	prefChains          []int64
)

func preferencesFromFlags() opportunity.Preferences {
	prefs := opportunity.DefaultPreferences()
	prefs.RiskTolerance = prefRiskTolerance
	prefs.YieldPreference = prefYieldPreference
	prefs.MinImprovement = prefMinImprovement
	prefs.MaxGasCostPercent = prefMaxGasCost
	prefs.MaxRiskScore = prefMaxRiskScore
	prefs.IncludeRewards = prefIncludeRewards
	prefs.PreferredChains = prefChains
	return prefs
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	st, err := buildStack(scanDemo)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.engine.Scan(ctx, scanUser, preferencesFromFlags())
	if err != nil {
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printScanResult(result)
	return nil
}

func printScanResult(result *engine.ScanResult) {
	fmt.Printf("📊 Scan for %s at %s\n\n", result.User, result.EvaluatedAt.Format(time.RFC3339))

	if len(result.Positions) == 0 {
		fmt.Println("No positions on record.")
		return
	}

	for _, ps := range result.Positions {
		pos := ps.Position
		cmp := ps.Comparison
		fmt.Printf("Position: %s/%s on chain %d — $%.0f at %.2f%% APY (risk-adjusted %.2f%%)\n",
			pos.Protocol, pos.Asset, pos.ChainID, pos.ValueUSD, pos.CurrentAPY, cmp.Current.RiskAdjustedAPY)
		fmt.Printf("  candidates=%d survivors=%d recommended=%d best_net=%.2f%%\n",
			cmp.Summary.Candidates, cmp.Summary.Survivors, cmp.Summary.Recommended, cmp.Summary.BestNet)

		if len(cmp.Opportunities) == 0 {
			fmt.Println("  No opportunities clear the gates.")
			continue
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "  TIER\tTARGET\tCHAIN\tRA-APY\tNET\tCOST%\tBREAK-EVEN\tRISK\tPREF")
		for _, opp := range cmp.Opportunities {
			fmt.Fprintf(w, "  %s\t%s/%s\t%d\t%.2f%%\t%+.2f%%\t%.3f%%\t%.0fd\t%.1f\t%.0f\n",
				opp.Tier, opp.Target.Protocol, opp.Target.Asset, opp.Target.ChainID,
				opp.Assessment.RiskAdjustedAPY, opp.NetImprovement,
				opp.SwitchingCost.TotalCostPercent, opp.BreakEvenDays,
				opp.Assessment.RiskScore, opp.PreferenceScore)
		}
		w.Flush()
		fmt.Println()
	}

	if result.Top != nil {
		fmt.Printf("⭐ Top: %s/%s on chain %d, net %+.2f%%\n",
			result.Top.Target.Protocol, result.Top.Target.Asset,
			result.Top.Target.ChainID, result.Top.NetImprovement)
	}
}
