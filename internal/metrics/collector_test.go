package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("pipeflow_test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordOperatorRun(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordOperatorRun("function", "succeeded", "none", 100*time.Millisecond)
	c.RecordOperatorRun("function", "succeeded", "none", 50*time.Millisecond)
	c.RecordOperatorRun("check", "failed", "user_non_fatal", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operatorRunsTotal.WithLabelValues("function", "succeeded", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operatorRunsTotal.WithLabelValues("check", "failed", "user_non_fatal")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.operatorRunDuration))
}

func TestCollector_RecordArtifactWrite(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordArtifactWrite("table", 1024)
	c.RecordArtifactWrite("table", 512)

	assert.Equal(t, 1536.0, testutil.ToFloat64(c.artifactBytes.WithLabelValues("table")))
}

func TestCollector_RecordAPIRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordAPIRequest("POST", "/api/preview", 200, 10*time.Millisecond)
	c.RecordAPIRequest("POST", "/api/preview", 503, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.apiRequestsTotal.WithLabelValues("POST", "/api/preview", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.apiRequestsTotal.WithLabelValues("POST", "/api/preview", "5xx")))
}

func TestCollector_RecordCacheAndDB(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordCacheHit("artifact_result")
	c.RecordCacheMiss("artifact_result")
	c.RecordDBConnections("sqlite", 3, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("artifact_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("artifact_result")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("sqlite")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dbConnectionsIdle.WithLabelValues("sqlite")))
}

func TestCollector_Registration(t *testing.T) {
	_, reg := newTestCollector(t)

	families, err := reg.Gather()
	require.NoError(t, err)
	// 未记录任何样本的向量指标不会出现在 Gather 结果中
	assert.Empty(t, families)

	assert.Panics(t, func() {
		NewCollector("pipeflow_test", reg, nil)
	}, "duplicate registration must panic")
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordOperatorRun("function", "succeeded", "none", time.Second)
		c.RecordArtifactWrite("json", 1)
		c.RecordAPIRequest("GET", "/", 200, time.Second)
		c.RecordCacheHit("x")
		c.RecordCacheMiss("x")
		c.RecordDBConnections("x", 1, 1)
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordOperatorRun("metric", "succeeded", "none", time.Millisecond)
			c.RecordCacheHit("artifact_result")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(c.operatorRunsTotal.WithLabelValues("metric", "succeeded", "none")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("artifact_result")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(404))
	assert.Equal(t, "5xx", statusCode(500))
	assert.Equal(t, "unknown", statusCode(0))
}
