package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/yieldrun/internal/alerts"
	"github.com/sawpanic/yieldrun/internal/cost"
	"github.com/sawpanic/yieldrun/internal/engine"
	"github.com/sawpanic/yieldrun/internal/market"
	"github.com/sawpanic/yieldrun/internal/metrics"
	"github.com/sawpanic/yieldrun/internal/positions"
	"github.com/sawpanic/yieldrun/internal/rebalance"
	"github.com/sawpanic/yieldrun/internal/risk"
)

// Env holds runtime endpoints resolved from the environment. Everything is
// optional: missing endpoints degrade to demo/paper collaborators.
type Env struct {
	SnapshotURL    string  `env:"YIELDRUN_SNAPSHOT_URL"`
	RedisAddr      string  `env:"YIELDRUN_REDIS_ADDR"`
	PostgresDSN    string  `env:"YIELDRUN_PG_DSN"`
	AlertWebhook   string  `env:"YIELDRUN_ALERT_WEBHOOK"`
	NativePriceUSD float64 `env:"YIELDRUN_NATIVE_PRICE_USD" envDefault:"3000"`
	HTTPHost       string  `env:"YIELDRUN_HTTP_HOST" envDefault:"127.0.0.1"`
	HTTPPort       int     `env:"YIELDRUN_HTTP_PORT" envDefault:"8080"`
}

func loadEnv() (Env, error) {
	var cfg Env
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// stack is everything a command needs wired together.
type stack struct {
	env      Env
	cache    *market.Cache
	model    *risk.Model
	engine   *engine.Engine
	registry *metrics.Registry
	alerter  alerts.Sink
	webhook  *alerts.WebhookSink
	pg       *positions.Store
}

// Close releases long-lived collaborators: the webhook alert worker and the
// Postgres pool when one was opened.
func (s *stack) Close() {
	if s.webhook != nil {
		s.webhook.Stop()
	}
	if s.pg != nil {
		if err := s.pg.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing position store failed")
		}
	}
}

// buildStack wires collaborators from config files, the environment, and
// the demo/paper fallbacks. extraSinks are appended to the alert fanout.
func buildStack(demo bool, extraSinks ...alerts.Sink) (*stack, error) {
	envCfg, err := loadEnv()
	if err != nil {
		return nil, err
	}

	tables, err := loadRiskTables()
	if err != nil {
		return nil, err
	}
	model, err := risk.NewModel(tables)
	if err != nil {
		return nil, err
	}

	source, store, pg, err := buildCollaborators(demo, envCfg)
	if err != nil {
		return nil, err
	}

	var mirror market.Mirror
	if envCfg.RedisAddr != "" {
		mirror = market.NewRedisStoreAddr(envCfg.RedisAddr, time.Hour)
		log.Info().Str("addr", envCfg.RedisAddr).Msg("Mirroring snapshots to Redis")
	}
	registry := metrics.NewRegistry()
	cache := market.NewCache(source, mirror, market.DefaultCacheConfig())
	cache.SetMetrics(registry)

	sinks := alerts.Fanout{alerts.LogSink{}}
	var webhook *alerts.WebhookSink
	if envCfg.AlertWebhook != "" {
		webhook = alerts.NewWebhookSink(envCfg.AlertWebhook, 64)
		sinks = append(sinks, webhook)
	}
	sinks = append(sinks, extraSinks...)

	estimator := cost.NewStaticEstimator(loadCostConfig())

	eng := engine.New(
		cache, model, estimator, store,
		&rebalance.PaperExecutor{}, &rebalance.PaperBridge{},
		sinks, rebalance.DefaultConfig(), registry,
		engine.Config{NativePriceUSD: envCfg.NativePriceUSD},
	)

	return &stack{
		env:      envCfg,
		cache:    cache,
		model:    model,
		engine:   eng,
		registry: registry,
		alerter:  sinks,
		webhook:  webhook,
		pg:       pg,
	}, nil
}

func buildCollaborators(demo bool, envCfg Env) (market.Source, engine.PositionStore, *positions.Store, error) {
	if demo {
		log.Info().Msg("Demo mode: synthetic markets and in-memory positions")
		return market.NewDemoSource(time.Now().UnixNano()), demoPositions(), nil, nil
	}

	if envCfg.SnapshotURL == "" {
		return nil, nil, nil, fmt.Errorf("YIELDRUN_SNAPSHOT_URL is required without --demo")
	}
	source := market.NewHTTPSource(envCfg.SnapshotURL, 15*time.Second)

	if envCfg.PostgresDSN == "" {
		return nil, nil, nil, fmt.Errorf("YIELDRUN_PG_DSN is required without --demo")
	}
	store, err := positions.New(positions.Config{DSN: envCfg.PostgresDSN})
	if err != nil {
		return nil, nil, nil, err
	}
	return source, store, store, nil
}

func demoPositions() positions.StaticStore {
	return positions.StaticStore{
		"alice": {
			{User: "alice", ChainID: 1, Protocol: "aave", Asset: "USDC",
				Amount: 25_000, ValueUSD: 25_000, CurrentAPY: 4.8, UpdatedAt: time.Now().UTC()},
		},
		"bob": {
			{User: "bob", ChainID: 10, Protocol: "morpho", Asset: "DAI",
				Amount: 8_000, ValueUSD: 8_000, CurrentAPY: 7.4, UpdatedAt: time.Now().UTC()},
		},
	}
}

func loadRiskTables() (risk.Tables, error) {
	path := filepath.Join(flagConfigDir, "risk.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Debug().Str("path", path).Msg("No risk.yaml, using built-in tables")
		return risk.DefaultTables(), nil
	}
	return risk.LoadTables(path)
}

func loadCostConfig() cost.Config {
	path := filepath.Join(flagConfigDir, "costs.yaml")
	cfg, err := cost.LoadConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Falling back to default cost config")
		}
		return cost.DefaultConfig()
	}
	return cfg
}
