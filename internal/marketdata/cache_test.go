package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

// countingProvider wraps a scripted upstream and counts snapshot calls.
type countingProvider struct {
	calls int64
	fail  atomic.Bool
	err   error
	delay time.Duration
}

func (p *countingProvider) GetSnapshot(ctx context.Context, underlying string) (models.MarketSnapshot, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return models.MarketSnapshot{}, errors.UpstreamData("upstream timeout", ctx.Err())
		}
	}
	if p.fail.Load() {
		err := p.err
		if err == nil {
			err = errors.UpstreamData("feed unavailable", nil)
		}
		return models.MarketSnapshot{}, err
	}
	return models.MarketSnapshot{
		Underlying: underlying,
		SpotPrice:  50000,
		Volatility: 0.30,
		Timestamp:  time.Now(),
		Source:     "upstream",
	}, nil
}

func (p *countingProvider) GetHistoricalReturns(ctx context.Context, underlying string, windowDays int) ([]float64, error) {
	return make([]float64, windowDays), nil
}

func (p *countingProvider) GetRiskFreeRate(ctx context.Context) (float64, error) {
	return 0.0376, nil
}

func (p *countingProvider) snapshotCalls() int64 {
	return atomic.LoadInt64(&p.calls)
}

func TestCacheServesWithinTTL(t *testing.T) {
	upstream := &countingProvider{}
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	_, err := cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)
	_, err = cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)

	assert.Equal(t, int64(1), upstream.snapshotCalls())
	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	upstream := &countingProvider{}
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	_, err := cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)

	assert.Equal(t, int64(2), upstream.snapshotCalls())
	assert.Equal(t, uint64(2), cache.Stats().Misses)
}

func TestCacheServesStaleOnUpstreamFailure(t *testing.T) {
	upstream := &countingProvider{}
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	fresh, err := cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)
	assert.False(t, fresh.Stale)

	clock = clock.Add(2 * time.Minute)
	upstream.fail.Store(true)

	stale, err := cache.GetSnapshot(context.Background(), "VIC")
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Equal(t, fresh.SpotPrice, stale.SpotPrice)
	assert.Equal(t, uint64(1), cache.Stats().Stale)
}

func TestCacheFailsWithoutPriorEntry(t *testing.T) {
	upstream := &countingProvider{}
	upstream.fail.Store(true)
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	_, err := cache.GetSnapshot(context.Background(), "VIC")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpstreamData))
	// The transient failure is retried once before giving up.
	assert.Equal(t, int64(2), upstream.snapshotCalls())
}

func TestCacheDoesNotRetryRateLimits(t *testing.T) {
	upstream := &countingProvider{err: errors.RateLimited("throttled by exchange", nil)}
	upstream.fail.Store(true)
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	_, err := cache.GetSnapshot(context.Background(), "VIC")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimited))
	assert.Equal(t, int64(1), upstream.snapshotCalls())
}

func TestCacheCollapsesConcurrentRefreshes(t *testing.T) {
	upstream := &countingProvider{delay: 50 * time.Millisecond}
	cache := NewCachedProvider(upstream, time.Minute, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetSnapshot(context.Background(), "VIC")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), upstream.snapshotCalls())
}

func TestCalibrationCacheFreshAndFallback(t *testing.T) {
	fallback := models.HestonParameters{Kappa: 3.0, Theta: 0.10, Sigma: 0.40, Rho: -0.60, V0: 0.12}
	cache := NewCalibrationCache(7*24*time.Hour, fallback)

	clock := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	// Nothing stored yet: the fallback set is served.
	res := cache.Get("VIC")
	assert.Equal(t, "fallback", res.Source)
	assert.Equal(t, fallback, res.Params)
	assert.True(t, res.Feller)

	calibrated := models.CalibrationResult{
		Params:    models.HestonParameters{Kappa: 2.5, Theta: 0.08, Sigma: 0.35, Rho: -0.55, V0: 0.10},
		RMSE:      12.5,
		Converged: true,
		Source:    "calibrated",
		Timestamp: clock,
	}
	cache.Put("VIC", calibrated)

	res = cache.Get("VIC")
	assert.Equal(t, "calibrated", res.Source)
	assert.Equal(t, calibrated.Params, res.Params)

	// Past the TTL the entry is too old to trust.
	clock = clock.Add(8 * 24 * time.Hour)
	res = cache.Get("VIC")
	assert.Equal(t, "fallback", res.Source)
}
