package breaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/DimaJoyti/dex-router/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// metricValue scrapes sink's Prometheus exposition for a metric line
// carrying every given label and returns its value.
func metricValue(t *testing.T, m *metrics.Sink, name string, labels map[string]string) float64 {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, name+"{") {
			continue
		}
		matched := true
		for k, v := range labels {
			if !strings.Contains(line, k+`="`+v+`"`) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		fields := strings.Fields(line)
		val, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		require.NoError(t, err)
		return val
	}
	t.Fatalf("metric %s with labels %v not found in:\n%s", name, labels, rec.Body.String())
	return 0
}

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, RecoveryTimeout: 50 * time.Millisecond}
}

func failFn(ctx context.Context) (interface{}, error) {
	return nil, errors.New("boom")
}

func okFn(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", testConfig())

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), failFn, nil)
		require.Error(t, err)
	}

	assert.Equal(t, "OPEN", b.Snapshot().State)
}

func TestBreaker_ShortCircuitsWhileOpen(t *testing.T) {
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", testConfig())

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}
	require.Equal(t, "OPEN", b.Snapshot().State)

	called := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	}, nil)

	require.Error(t, err)
	assert.False(t, called, "fn must not run while OPEN and before nextAttemptTime")
}

func TestBreaker_HalfOpenRecoversToClosed(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}
	require.Equal(t, "OPEN", b.Snapshot().State)

	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		_, err := b.Execute(context.Background(), okFn, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, "CLOSED", b.Snapshot().State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}
	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	_, err := b.Execute(context.Background(), failFn, nil)
	require.Error(t, err)

	assert.Equal(t, "OPEN", b.Snapshot().State)
}

func TestBreaker_FallbackInvokedWhenOpen(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}

	result, err := b.Execute(context.Background(), failFn, func(ctx context.Context, cause error) (interface{}, error) {
		return "fallback", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestRegistry_GetOrCreateReusesBreaker(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a := reg.GetOrCreate("svc", "op", testConfig())
	b := reg.GetOrCreate("svc", "op", testConfig())
	assert.Same(t, a, b)
}

func TestExecuteGuarded(t *testing.T) {
	reg := NewRegistry(nil, nil)
	result, err := ExecuteGuarded(reg, "svc", "op2", testConfig(), context.Background(), okFn, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestBreaker_ReportsTransitionsAndOutcomesToMetricsSink(t *testing.T) {
	cfg := testConfig()
	m := metrics.New()
	reg := NewRegistry(nil, m)
	b := reg.GetOrCreate("svc", "metrics-op", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}
	require.Equal(t, "OPEN", b.Snapshot().State)

	assert.Equal(t, float64(1), metricValue(t, m, "router_breaker_transitions_total", map[string]string{
		"service": "svc", "operation": "metrics-op", "from": "CLOSED", "to": "OPEN",
	}))
	assert.Equal(t, float64(cfg.FailureThreshold), metricValue(t, m, "router_adapter_calls_total", map[string]string{
		"provider": "svc", "operation": "metrics-op", "result": "failure",
	}))

	_, err := b.Execute(context.Background(), okFn, nil)
	require.Error(t, err, "breaker is OPEN, call must fail fast")
	assert.Equal(t, float64(1), metricValue(t, m, "router_adapter_calls_total", map[string]string{
		"provider": "svc", "operation": "metrics-op", "result": "circuit_open",
	}))
}

func TestBreaker_ManualReset(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(nil, nil)
	b := reg.GetOrCreate("svc", "op", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		_, _ = b.Execute(context.Background(), failFn, nil)
	}
	require.Equal(t, "OPEN", b.Snapshot().State)

	b.Reset()
	assert.Equal(t, "CLOSED", b.Snapshot().State)
	assert.Equal(t, 0, b.Snapshot().FailureCount)
}
