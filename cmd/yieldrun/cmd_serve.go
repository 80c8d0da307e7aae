package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/interfaces/httpapi"
	"github.com/sawpanic/yieldrun/internal/opportunity"
	"github.com/sawpanic/yieldrun/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API with a background refresh loop",
	Long: `Serve the read-only HTTP API: ranked opportunities, the market view,
on-demand risk assessments, health, Prometheus metrics, and a websocket
stream of cycle results and alerts. The market cache refreshes in the
background; with --with-scheduler the automation loop runs in-process too.

Examples:
  yieldrun serve --demo
  yieldrun serve --demo --with-scheduler
  yieldrun serve --refresh 1m`,
	RunE: runServeCommand,
}

var (
	serveDemo      bool
	serveScheduler bool
	serveRefresh   time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Use synthetic markets and in-memory positions")
	serveCmd.Flags().BoolVar(&serveScheduler, "with-scheduler", false, "Run the automation scheduler in-process")
	serveCmd.Flags().DurationVar(&serveRefresh, "refresh", 2*time.Minute, "Background snapshot refresh interval")
	addPreferenceFlags(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	hub := httpapi.NewHub()

	// Hub joins the alert fanout so alerts reach websocket subscribers.
	st, err := buildStack(serveDemo, hub)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := st.cache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial snapshot refresh degraded, serving retained data")
	}
	go st.cache.Start(ctx, serveRefresh)

	if serveScheduler {
		cfg, err := loadSchedulerConfig()
		if err != nil {
			return err
		}
		sched := scheduler.New(cfg, st.engine, hub)
		go func() {
			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Scheduler stopped")
			}
		}()
	}

	srvCfg := httpapi.DefaultServerConfig()
	srvCfg.Host = st.env.HTTPHost
	srvCfg.Port = st.env.HTTPPort

	// CLI preference flags become the server-wide default profile.
	prefs := preferencesFromFlags()
	server := httpapi.NewServer(srvCfg, st.engine, st.cache, st.model,
		func(string) opportunity.Preferences { return prefs },
		st.registry, hub)

	return server.ListenAndServe(ctx)
}
