package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/opportunity"
	"github.com/sawpanic/yieldrun/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the automation scheduler daemon",
	Long: `Run scan/execute cycles for every configured user on a fixed interval.
Each user's cycles are serialized: a cycle still in flight when the next tick
arrives is skipped, never overlapped. Stopping the daemon waits for in-flight
sagas to reach a terminal state.

Examples:
  yieldrun schedule --demo
  yieldrun schedule --interval 15m
  yieldrun schedule --once --demo`,
	RunE: runScheduleCommand,
}

var (
	scheduleDemo     bool
	scheduleOnce     bool
	scheduleInterval time.Duration
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().BoolVar(&scheduleDemo, "demo", false, "Use synthetic markets and the paper executor")
	scheduleCmd.Flags().BoolVar(&scheduleOnce, "once", false, "Run a single tick for all users, then exit")
	scheduleCmd.Flags().DurationVar(&scheduleInterval, "interval", 0, "Override the configured cycle interval")
}

func runScheduleCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadSchedulerConfig()
	if err != nil {
		return err
	}
	if scheduleInterval > 0 {
		cfg.Interval = scheduleInterval
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("scheduler config has no users; add them to %s", filepath.Join(flagConfigDir, "scheduler.yaml"))
	}

	st, err := buildStack(scheduleDemo)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := scheduler.New(cfg, st.engine, nil)

	if scheduleOnce {
		sched.Tick(context.Background())
		sched.Wait()
		fmt.Printf("Tick complete: %d cycles run\n", sched.Cycles())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Dur("interval", cfg.Interval).Int("users", len(cfg.Users)).
		Msg("Scheduler starting, SIGINT/SIGTERM to stop")
	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadSchedulerConfig() (scheduler.Config, error) {
	path := filepath.Join(flagConfigDir, "scheduler.yaml")
	if _, err := os.Stat(path); err != nil {
		log.Debug().Str("path", path).Msg("No scheduler.yaml, using built-in demo users")
		cfg := scheduler.DefaultConfig()
		cfg.Users = defaultScheduledUsers()
		return cfg, nil
	}
	return scheduler.LoadConfig(path)
}

func defaultScheduledUsers() []scheduler.UserConfig {
	return []scheduler.UserConfig{
		{Name: "alice", DryRun: true, Preferences: opportunity.DefaultPreferences()},
		{Name: "bob", DryRun: true, Preferences: opportunity.DefaultPreferences()},
	}
}
