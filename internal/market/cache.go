package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/yieldrun/internal/metrics"
)

// Source is the external market-data collaborator. A per-chain fetch may
// fail; an empty result with a nil error means "no markets", which must stay
// distinguishable from failure.
type Source interface {
	FetchSnapshot(ctx context.Context, chainID int64) ([]Record, error)
}

// Mirror optionally receives each chain's fresh records after a successful
// fetch, e.g. to publish them to Redis for sibling processes. Best effort.
type Mirror interface {
	Publish(ctx context.Context, chainID int64, records []Record) error
}

// Snapshot is an immutable view of the cache. The cache swaps whole
// snapshots on refresh, so concurrent readers never observe a torn update.
type Snapshot struct {
	Records   map[string]Record   // keyed by Record.Key()
	FetchedAt map[int64]time.Time // per-chain last successful fetch
	Taken     time.Time
}

// ByChain returns the snapshot's records for one chain.
func (s Snapshot) ByChain(chainID int64) []Record {
	out := make([]Record, 0)
	for _, rec := range s.Records {
		if rec.ChainID == chainID {
			out = append(out, rec)
		}
	}
	return out
}

// CacheConfig tunes per-chain fetch isolation.
type CacheConfig struct {
	Chains       []int64       `yaml:"chains"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	RatePerChain float64       `yaml:"rate_per_chain"` // fetches per second
	RateBurst    int           `yaml:"rate_burst"`
}

// DefaultCacheConfig returns production fetch bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Chains:       []int64{1, 42161, 10, 8453, 137},
		FetchTimeout: 15 * time.Second,
		RatePerChain: 1,
		RateBurst:    2,
	}
}

// Cache holds the latest market snapshot per (chain, protocol, asset).
// Refresh fetches chains concurrently and independently: a slow or failing
// chain never blocks the others, and its prior records are retained.
type Cache struct {
	source   Source
	mirror   Mirror
	cfg      CacheConfig
	metrics  *metrics.Registry
	snapshot atomic.Value // Snapshot

	breakers map[int64]*gobreaker.CircuitBreaker
	limiters map[int64]*rate.Limiter

	refreshMu sync.Mutex // one refresh builds the next snapshot at a time
}

// NewCache creates a cache over the given source. mirror may be nil.
func NewCache(source Source, mirror Mirror, cfg CacheConfig) *Cache {
	def := DefaultCacheConfig()
	if len(cfg.Chains) == 0 {
		cfg.Chains = def.Chains
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.RatePerChain <= 0 {
		cfg.RatePerChain = def.RatePerChain
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	c := &Cache{
		source:   source,
		mirror:   mirror,
		cfg:      cfg,
		breakers: make(map[int64]*gobreaker.CircuitBreaker, len(cfg.Chains)),
		limiters: make(map[int64]*rate.Limiter, len(cfg.Chains)),
	}
	for _, chain := range cfg.Chains {
		c.breakers[chain] = newChainBreaker(chain)
		c.limiters[chain] = rate.NewLimiter(rate.Limit(cfg.RatePerChain), cfg.RateBurst)
	}
	c.snapshot.Store(Snapshot{
		Records:   map[string]Record{},
		FetchedAt: map[int64]time.Time{},
	})
	return c
}

// SetMetrics attaches a metrics registry. Call before the first Refresh;
// refreshes record per-chain fetch failures and snapshot age.
func (c *Cache) SetMetrics(reg *metrics.Registry) { c.metrics = reg }

func newChainBreaker(chainID int64) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: fmt.Sprintf("market-fetch-chain-%d", chainID)}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return gobreaker.NewCircuitBreaker(st)
}

type chainResult struct {
	chainID int64
	records []Record
	err     error
}

// Refresh fetches every configured chain concurrently and swaps in a new
// snapshot. A chain's records are replaced wholesale on success and retained
// on failure; partial refresh is acceptable, a stalled one is not.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	results := make(chan chainResult, len(c.cfg.Chains))
	for _, chainID := range c.cfg.Chains {
		go func(chainID int64) {
			records, err := c.fetchChain(ctx, chainID)
			results <- chainResult{chainID: chainID, records: records, err: err}
		}(chainID)
	}

	prior := c.Snapshot()
	next := Snapshot{
		Records:   make(map[string]Record, len(prior.Records)),
		FetchedAt: make(map[int64]time.Time, len(c.cfg.Chains)),
		Taken:     time.Now().UTC(),
	}
	for chain, at := range prior.FetchedAt {
		next.FetchedAt[chain] = at
	}

	failed := make(map[int64]bool)
	var firstErr error
	for range c.cfg.Chains {
		res := <-results
		if res.err != nil {
			failed[res.chainID] = true
			if firstErr == nil {
				firstErr = fmt.Errorf("chain %d: %w", res.chainID, res.err)
			}
			c.metrics.RecordFetchFailure(res.chainID)
			log.Warn().Err(res.err).Int64("chain", res.chainID).
				Msg("Market fetch failed, retaining prior snapshot for chain")
			continue
		}
		for _, rec := range res.records {
			next.Records[rec.Key()] = rec
		}
		next.FetchedAt[res.chainID] = time.Now().UTC()
		c.publish(res.chainID, res.records)
	}

	// Carry forward records for chains that failed this cycle. Stale records
	// are tagged by age downstream, never silently dropped.
	for key, rec := range prior.Records {
		if failed[rec.ChainID] {
			next.Records[key] = rec
		}
	}

	c.snapshot.Store(next)

	now := time.Now().UTC()
	for chain, at := range next.FetchedAt {
		c.metrics.SetSnapshotAge(chain, now.Sub(at))
	}

	log.Info().Int("records", len(next.Records)).Int("failed_chains", len(failed)).
		Msg("Market snapshot refreshed")
	if len(failed) == len(c.cfg.Chains) && firstErr != nil {
		return fmt.Errorf("all chains failed: %w", firstErr)
	}
	return nil
}

func (c *Cache) fetchChain(ctx context.Context, chainID int64) ([]Record, error) {
	limiter, ok := c.limiters[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d not configured", chainID)
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	out, err := c.breakers[chainID].Execute(func() (interface{}, error) {
		return c.source.FetchSnapshot(fetchCtx, chainID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("circuit open: %w", err)
		}
		return nil, err
	}
	records, _ := out.([]Record)
	return records, nil
}

func (c *Cache) publish(chainID int64, records []Record) {
	if c.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.mirror.Publish(ctx, chainID, records); err != nil {
		log.Warn().Err(err).Int64("chain", chainID).Msg("Snapshot mirror publish failed")
	}
}

// Start runs a background refresh loop until ctx is cancelled.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("Background snapshot refresh failed")
			}
		}
	}
}

// Snapshot returns the current immutable snapshot.
func (c *Cache) Snapshot() Snapshot {
	return c.snapshot.Load().(Snapshot)
}

// Lookup finds the record for one market in the current snapshot.
func (c *Cache) Lookup(chainID int64, protocol, asset string) (Record, bool) {
	rec, ok := c.Snapshot().Records[Record{ChainID: chainID, Protocol: protocol, Asset: asset}.Key()]
	return rec, ok
}

// Records returns every record in the current snapshot.
func (c *Cache) Records() []Record {
	snap := c.Snapshot()
	out := make([]Record, 0, len(snap.Records))
	for _, rec := range snap.Records {
		out = append(out, rec)
	}
	return out
}

// Chains returns the configured chain ids.
func (c *Cache) Chains() []int64 {
	out := make([]int64, len(c.cfg.Chains))
	copy(out, c.cfg.Chains)
	return out
}
