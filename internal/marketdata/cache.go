package marketdata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

type cachedSnapshot struct {
	snapshot models.MarketSnapshot
	fetched  time.Time
}

// CacheStats counts cache outcomes for the metrics recorder.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Stale  uint64
}

// CachedProvider fronts an upstream Provider with a TTL cache.
// Concurrent refreshes of the same underlying collapse into one
// upstream call. When the upstream fails and an expired entry exists,
// that entry is served with Stale set rather than failing the caller.
type CachedProvider struct {
	upstream Provider
	ttl      time.Duration
	timeout  time.Duration
	backoff  time.Duration

	mu        sync.RWMutex
	snapshots map[string]cachedSnapshot
	stats     CacheStats

	group singleflight.Group
	log   *logger.Logger
	now   func() time.Time
}

func NewCachedProvider(upstream Provider, ttl, timeout, backoff time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &CachedProvider{
		upstream:  upstream,
		ttl:       ttl,
		timeout:   timeout,
		backoff:   backoff,
		snapshots: make(map[string]cachedSnapshot),
		log:       logger.GetLogger("marketdata.cache"),
		now:       time.Now,
	}
}

// Stats returns a copy of the cache counters.
func (c *CachedProvider) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// GetSnapshot serves from cache within the TTL, otherwise refreshes
// from upstream. A failed refresh falls back to the most recent
// expired entry, flagged stale.
func (c *CachedProvider) GetSnapshot(ctx context.Context, underlying string) (models.MarketSnapshot, error) {
	c.mu.RLock()
	entry, ok := c.snapshots[underlying]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.fetched) < c.ttl {
		c.mu.Lock()
		c.stats.Hits++
		c.mu.Unlock()
		return entry.snapshot, nil
	}

	v, err, _ := c.group.Do(underlying, func() (interface{}, error) {
		return c.refresh(ctx, underlying)
	})
	if err != nil {
		if ok {
			c.mu.Lock()
			c.stats.Stale++
			c.mu.Unlock()
			c.log.Warnf("serving stale snapshot for %s after upstream failure: %v", underlying, err)
			stale := entry.snapshot
			stale.Stale = true
			return stale, nil
		}
		return models.MarketSnapshot{}, err
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return v.(models.MarketSnapshot), nil
}

// refresh calls upstream with a per-call timeout and one retry after a
// short backoff. Rate limited and invalid input errors are never
// retried.
func (c *CachedProvider) refresh(ctx context.Context, underlying string) (models.MarketSnapshot, error) {
	snapshot, err := c.fetchOnce(ctx, underlying)
	if err != nil && retryable(err) {
		select {
		case <-time.After(c.backoff):
		case <-ctx.Done():
			return models.MarketSnapshot{}, errors.UpstreamData("snapshot refresh cancelled", ctx.Err())
		}
		snapshot, err = c.fetchOnce(ctx, underlying)
	}
	if err != nil {
		return models.MarketSnapshot{}, err
	}

	c.mu.Lock()
	c.snapshots[underlying] = cachedSnapshot{snapshot: snapshot, fetched: c.now()}
	c.mu.Unlock()
	return snapshot, nil
}

func (c *CachedProvider) fetchOnce(ctx context.Context, underlying string) (models.MarketSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.upstream.GetSnapshot(callCtx, underlying)
}

func retryable(err error) bool {
	return !errors.IsType(err, errors.ErrorTypeRateLimited) &&
		!errors.IsType(err, errors.ErrorTypeInvalidInput)
}

// GetHistoricalReturns passes through to upstream; return series are
// large and read rarely, so they are not cached.
func (c *CachedProvider) GetHistoricalReturns(ctx context.Context, underlying string, windowDays int) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.upstream.GetHistoricalReturns(callCtx, underlying, windowDays)
}

// GetRiskFreeRate passes through to upstream.
func (c *CachedProvider) GetRiskFreeRate(ctx context.Context) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.upstream.GetRiskFreeRate(callCtx)
}

// CalibrationCache keeps the latest Heston calibration per underlying.
// Calibrated parameters move slowly, so the TTL is on the order of a
// week. When no fresh calibration exists the configured fallback set is
// returned, tagged with its source.
type CalibrationCache struct {
	ttl      time.Duration
	fallback models.HestonParameters

	mu      sync.RWMutex
	entries map[string]models.CalibrationResult
	now     func() time.Time
}

func NewCalibrationCache(ttl time.Duration, fallback models.HestonParameters) *CalibrationCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CalibrationCache{
		ttl:      ttl,
		fallback: fallback,
		entries:  make(map[string]models.CalibrationResult),
		now:      time.Now,
	}
}

// Put stores a calibration result for an underlying.
func (c *CalibrationCache) Put(underlying string, result models.CalibrationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[underlying] = result
}

// Get returns the freshest calibration within the TTL, or the fallback
// parameter set with Source "fallback".
func (c *CalibrationCache) Get(underlying string) models.CalibrationResult {
	c.mu.RLock()
	entry, ok := c.entries[underlying]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.Timestamp) < c.ttl {
		return entry
	}
	return models.CalibrationResult{
		Params:    c.fallback,
		Converged: false,
		Feller:    c.fallback.FellerSatisfied(),
		Source:    "fallback",
		Timestamp: c.now(),
	}
}
