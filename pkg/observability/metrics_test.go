package observability

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		ServiceName:    "mdtd-test",
		ServiceVersion: "0.0.1",
		SessionCount:   func() int { return 3 },
	})

	m.RecordRequest("http", "tools/call", 0, 12*time.Millisecond)
	m.RecordRequest("stdio", "tools/call", -32601, time.Millisecond)
	m.RecordRateLimitDenial("get_cr")
	m.SSEOpened()
	m.SSEOpened()
	m.SSEClosed()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `mdtd_requests_total{`)
	assert.Contains(t, body, `code="-32601"`)
	assert.Contains(t, body, `mdtd_rate_limit_denials_total{`)
	assert.Contains(t, body, `tool="get_cr"`)
	assert.Contains(t, body, "mdtd_sse_connections")
	assert.Contains(t, body, "mdtd_sessions 3")
	assert.Contains(t, body, `service="mdtd-test"`)
}

func TestMetricsPrivateRegistry(t *testing.T) {
	// Two instances must not collide; each holds its own registry.
	require.NotPanics(t, func() {
		NewMetrics(MetricsConfig{})
		NewMetrics(MetricsConfig{})
	})
}

func TestTracingProviderWithoutEndpoint(t *testing.T) {
	ctx := context.Background()
	p, err := NewTracingProvider(ctx, TracingConfig{ServiceName: "mdtd-test"})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())

	_, span := p.Tracer().Start(ctx, "test-span")
	span.End()

	assert.NoError(t, p.Shutdown(ctx))
}
