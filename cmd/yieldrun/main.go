package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	flagLogLevel  string
	flagConfigDir string
)

// rootCmd is the base command for the yieldrun CLI.
var rootCmd = &cobra.Command{
	Use:   "yieldrun",
	Short: "yieldrun cross-chain yield opportunity engine",
	Long: `yieldrun scans lending markets across chains, scores each one with a
multi-factor risk model, ranks net-of-cost switching opportunities against a
user's positions, and can execute an approved move as a withdraw/bridge/
deposit saga.

Examples:
  yieldrun scan --user alice --demo
  yieldrun rebalance --user alice --demo --dry-run
  yieldrun schedule --config config/scheduler.yaml
  yieldrun serve --demo`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		bindEnvOverrides(cmd.Flags())
		bindEnvOverrides(cmd.InheritedFlags())
		return initLogging(flagLogLevel)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("yieldrun - cross-chain yield opportunity engine")
		fmt.Println("Use 'yieldrun scan' to rank opportunities or 'yieldrun serve' for the API")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "config", "Directory holding risk.yaml, costs.yaml, scheduler.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogging configures the global zerolog logger: human-readable console
// output on a terminal, JSON otherwise.
func initLogging(level string) error {
	lv, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lv)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

// bindEnvOverrides lets YIELDRUN_<FLAG> environment variables stand in for
// flags the user did not set explicitly, e.g. YIELDRUN_LOG_LEVEL=debug.
func bindEnvOverrides(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		key := "YIELDRUN_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(key); ok {
			if err := f.Value.Set(v); err != nil {
				log.Warn().Str("flag", f.Name).Str("value", v).Msg("Ignoring invalid env override")
			}
		}
	})
}
