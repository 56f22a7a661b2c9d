package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/DimaJoyti/dex-router/pkg/apperrors"
	"github.com/DimaJoyti/dex-router/pkg/cache"
	"github.com/DimaJoyti/dex-router/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoalescer() (*Coalescer, *cache.MemoryCache) {
	mc := cache.NewMemoryCache()
	return New(mc, metrics.New(), logger.NewDevelopment("test")), mc
}

func TestGetWithCoalescing_ConcurrentCallersInvokeFactoryOnce(t *testing.T) {
	co, _ := newTestCoalescer()
	var calls int32

	factory := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = GetWithCoalescing(context.Background(), co, "quote:a:b:1", 2*time.Second, time.Second, factory)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", results[i])
	}
}

func TestGetWithCoalescing_CachesOnSuccessWithPositiveTTL(t *testing.T) {
	co, mc := newTestCoalescer()
	var calls int32
	factory := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "cached-value", nil
	}

	_, err := GetWithCoalescing(context.Background(), co, "token:abc", time.Second, time.Minute, factory)
	require.NoError(t, err)

	var dest string
	hit, err := mc.Get(context.Background(), "token:abc", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached-value", dest)

	_, err = GetWithCoalescing(context.Background(), co, "token:abc", time.Second, time.Minute, factory)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should be served from cache")
}

func TestGetWithCoalescing_DoesNotCacheWhenTTLZero(t *testing.T) {
	co, mc := newTestCoalescer()
	factory := func(ctx context.Context) (string, error) {
		return "value", nil
	}

	_, err := GetWithCoalescing(context.Background(), co, "route:x:y:1", time.Second, 0, factory)
	require.NoError(t, err)

	has, _ := mc.Has(context.Background(), "route:x:y:1")
	assert.False(t, has)
}

func TestGetWithCoalescing_DoesNotCacheOnFactoryError(t *testing.T) {
	co, mc := newTestCoalescer()
	boom := errors.New("boom")
	factory := func(ctx context.Context) (string, error) {
		return "", boom
	}

	_, err := GetWithCoalescing(context.Background(), co, "quote:a:b:1", time.Second, time.Minute, factory)
	require.Error(t, err)

	has, _ := mc.Has(context.Background(), "quote:a:b:1")
	assert.False(t, has)
}

func TestGetWithCoalescing_FactoryTimeoutSurfacesAsExternalServiceError(t *testing.T) {
	co, _ := newTestCoalescer()
	factory := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", errors.New("upstream hung")
	}

	_, err := GetWithCoalescing(context.Background(), co, "quote:a:b:3", 10*time.Millisecond, time.Minute, factory)
	require.Error(t, err)

	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok, "expected *apperrors.AppError, got %T", err)
	assert.Equal(t, apperrors.ExternalServiceErrorCode, appErr.Code)
	assert.Equal(t, "quote:a:b:3", appErr.Context["key"])
}

func TestGetWithCoalescing_AllWaitersObserveSameError(t *testing.T) {
	co, _ := newTestCoalescer()
	boom := errors.New("boom")
	factory := func(ctx context.Context) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "", boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = GetWithCoalescing(context.Background(), co, "quote:a:b:2", time.Second, time.Minute, factory)
		}(i)
	}
	wg.Wait()

	for _, e := range errs {
		require.Error(t, e)
	}
}
