// Package scheduler drives periodic scan/execute cycles per user. Cycles
// for one user are mutually exclusive in time; cycles for different users
// run concurrently. Disabling stops new cycles from being scheduled and
// never interrupts a saga already in flight.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/yieldrun/internal/engine"
	"github.com/sawpanic/yieldrun/internal/opportunity"
)

// UserConfig is one automated user.
type UserConfig struct {
	Name        string                  `yaml:"name"`
	AutoExecute bool                    `yaml:"auto_execute"`
	DryRun      bool                    `yaml:"dry_run"`
	Preferences opportunity.Preferences `yaml:"preferences"`
}

// Config is the scheduler's yaml configuration.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
	Users    []UserConfig  `yaml:"users"`
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Minute,
		Enabled:  true,
	}
}

// UnmarshalYAML parses interval as a Go duration string ("30m") and leaves
// enabled true when the key is absent.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Interval string       `yaml:"interval"`
		Enabled  *bool        `yaml:"enabled"`
		Users    []UserConfig `yaml:"users"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", raw.Interval, err)
		}
		c.Interval = d
	}
	c.Enabled = raw.Enabled == nil || *raw.Enabled
	c.Users = raw.Users
	return nil
}

// LoadConfig reads scheduler configuration from a YAML file, applies
// defaults, and validates it.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read scheduler config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse scheduler config: %w", err)
	}

	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	def := opportunity.DefaultPreferences()
	for i := range cfg.Users {
		user := &cfg.Users[i]
		if user.Preferences.IsZero() {
			user.Preferences = def
			continue
		}
		// A zero ceiling in a partially filled block rejects every candidate,
		// which no user can intend; fill it and say so.
		if user.Preferences.MaxRiskScore == 0 {
			log.Warn().Str("user", user.Name).Float64("default", def.MaxRiskScore).
				Msg("max_risk_score unset in scheduler config, using default")
			user.Preferences.MaxRiskScore = def.MaxRiskScore
		}
		if user.Preferences.MaxGasCostPercent == 0 {
			log.Warn().Str("user", user.Name).Float64("default", def.MaxGasCostPercent).
				Msg("max_gas_cost_percent unset in scheduler config, using default")
			user.Preferences.MaxGasCostPercent = def.MaxGasCostPercent
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid scheduler config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would hammer collaborators or run
// users with malformed preferences.
func (c Config) Validate() error {
	if c.Interval < 10*time.Second {
		return fmt.Errorf("interval %s below 10s minimum", c.Interval)
	}
	seen := make(map[string]bool, len(c.Users))
	for _, user := range c.Users {
		if user.Name == "" {
			return fmt.Errorf("user with empty name")
		}
		if seen[user.Name] {
			return fmt.Errorf("duplicate user %q", user.Name)
		}
		seen[user.Name] = true
		if err := user.Preferences.Validate(); err != nil {
			return fmt.Errorf("user %q: %w", user.Name, err)
		}
	}
	return nil
}

// Runner executes one scan/execute cycle for a user. Implemented by
// engine.Engine; stubbed in tests.
type Runner interface {
	RunCycle(ctx context.Context, user string, prefs opportunity.Preferences, execute, dryRun bool) (engine.CycleResult, error)
}

// Publisher optionally receives each cycle's result, e.g. for the websocket
// stream. Must not block.
type Publisher interface {
	PublishCycle(user string, res engine.CycleResult)
}

// Scheduler runs the automation loop.
type Scheduler struct {
	cfg       Config
	runner    Runner
	publisher Publisher

	enabled atomic.Bool

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup

	started time.Time
	cycles  atomic.Int64
}

// New creates a scheduler. publisher may be nil.
func New(cfg Config, runner Runner, publisher Publisher) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		runner:    runner,
		publisher: publisher,
		inFlight:  make(map[string]bool, len(cfg.Users)),
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// Enable allows new cycles to be scheduled.
func (s *Scheduler) Enable() { s.enabled.Store(true) }

// Disable stops new cycles from being scheduled. A cycle already inside the
// rebalance coordinator runs to completion: aborting mid-saga would leave
// capital in an undefined location, which is strictly worse.
func (s *Scheduler) Disable() { s.enabled.Store(false) }

// Enabled reports whether new cycles may be scheduled.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// Cycles reports the total cycles started since Start.
func (s *Scheduler) Cycles() int64 { return s.cycles.Load() }

// Wait blocks until every in-flight cycle has finished. Start calls this on
// shutdown; one-shot callers of Tick must call it themselves before tearing
// down collaborators, or a running saga loses its store and alert sinks.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Start runs the loop until ctx is cancelled, then waits for in-flight
// cycles to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.started = time.Now()
	log.Info().Dur("interval", s.cfg.Interval).Int("users", len(s.cfg.Users)).
		Bool("enabled", s.Enabled()).Msg("Automation scheduler starting")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Automation scheduler stopping, waiting for in-flight cycles")
			s.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick schedules one cycle per user that does not already have one in
// flight. Exported so the CLI can trigger an immediate pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.Enabled() {
		return
	}

	for _, user := range s.cfg.Users {
		if !s.claim(user.Name) {
			log.Debug().Str("user", user.Name).Msg("Cycle still in flight, skipping tick")
			continue
		}

		s.wg.Add(1)
		s.cycles.Add(1)
		go func(user UserConfig) {
			defer s.wg.Done()
			defer s.release(user.Name)
			s.runCycle(ctx, user)
		}(user)
	}
}

func (s *Scheduler) claim(user string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[user] {
		return false
	}
	s.inFlight[user] = true
	return true
}

func (s *Scheduler) release(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, user)
}

// runCycle executes one cycle. Errors are logged, never raised: a failing
// cycle must not take the loop down.
func (s *Scheduler) runCycle(ctx context.Context, user UserConfig) {
	// Once execution starts it must survive scheduler shutdown; the saga's
	// own step timeouts still bound it.
	cycleCtx := context.WithoutCancel(ctx)

	res, err := s.runner.RunCycle(cycleCtx, user.Name, user.Preferences, user.AutoExecute, user.DryRun)
	if err != nil {
		log.Warn().Err(err).Str("user", user.Name).Msg("Scan cycle failed")
		return
	}

	log.Info().Str("user", user.Name).
		Int("positions", res.Positions).
		Int("opportunities", res.Opportunities).
		Int("executed", res.Executed).
		Float64("top_net", res.TopNet).
		Msg("Scan cycle completed")

	if s.publisher != nil {
		s.publisher.PublishCycle(user.Name, res)
	}
}
