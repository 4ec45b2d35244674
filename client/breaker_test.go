package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/types"
)

func serverErr() error {
	return types.NewError(types.ErrAPI, "boom").WithHTTPStatus(http.StatusBadGateway)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	b := newBreaker(2, time.Minute, zap.NewNop())
	b.now = func() time.Time { return now }

	require.NoError(t, b.allow(routePreview))
	b.record(serverErr())
	assert.Equal(t, breakerClosed, b.currentState())

	require.NoError(t, b.allow(routePreview))
	b.record(serverErr())
	assert.Equal(t, breakerOpen, b.currentState())

	err := b.allow(routePreview)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAPI))

	now = now.Add(time.Minute)
	require.NoError(t, b.allow(routePreview))
	assert.Equal(t, breakerHalfOpen, b.currentState())
	assert.Error(t, b.allow(routePreview), "only one trial request at a time")

	b.record(nil)
	assert.Equal(t, breakerClosed, b.currentState())
	assert.NoError(t, b.allow(routePreview))
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	b := newBreaker(1, time.Second, zap.NewNop())
	b.now = func() time.Time { return now }

	b.record(serverErr())
	require.Equal(t, breakerOpen, b.currentState())

	now = now.Add(time.Second)
	require.NoError(t, b.allow(routeWorkflow))
	b.record(serverErr())
	assert.Equal(t, breakerOpen, b.currentState())
	assert.Error(t, b.allow(routeWorkflow))
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	b := newBreaker(1, time.Minute, zap.NewNop())

	b.record(types.NewError(types.ErrNotFound, "missing").WithHTTPStatus(http.StatusNotFound))
	b.record(types.NewError(types.ErrAPI, "slow down").WithHTTPStatus(http.StatusTooManyRequests))
	b.record(context.Canceled)
	assert.Equal(t, breakerClosed, b.currentState())

	b.record(types.NewError(types.ErrAPI, "request failed"))
	assert.Equal(t, breakerOpen, b.currentState())
}

func TestNilBreakerAllowsEverything(t *testing.T) {
	var b *breaker
	assert.NoError(t, b.allow(routePreview))
	b.record(serverErr())
}

func TestDo_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "down"})
	}))
	t.Cleanup(srv.Close)

	c, err := New(config.APIConfig{
		Address:          srv.URL,
		Timeout:          5 * time.Second,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Hour,
	}, zap.NewNop(), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.ListIntegrations(t.Context())
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = c.ListIntegrations(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server unavailable")
	assert.EqualValues(t, 1, calls.Load())
}
