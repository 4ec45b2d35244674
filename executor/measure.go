package executor

import (
	"runtime/metrics"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/pipeflow/types"
)

const (
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	memorySampleEvery = 5 * time.Millisecond
)

// memorySampler tracks the peak live heap above the level seen at start.
type memorySampler struct {
	baseline uint64
	peak     uint64
	mu       sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
}

func heapBytes() uint64 {
	s := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}

func startMemorySampler() *memorySampler {
	m := &memorySampler{baseline: heapBytes(), done: make(chan struct{})}
	m.peak = m.baseline
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(memorySampleEvery)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
	return m
}

func (m *memorySampler) sample() {
	cur := heapBytes()
	m.mu.Lock()
	if cur > m.peak {
		m.peak = cur
	}
	m.mu.Unlock()
}

// stop returns the peak heap growth in bytes.
func (m *memorySampler) stop() uint64 {
	m.sample()
	close(m.done)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak - m.baseline
}

// systemMetadata renders the reserved runtime measurements. Runtime is in
// seconds, max memory in MiB.
func systemMetadata(elapsed time.Duration, peakBytes uint64) map[string]string {
	return map[string]string{
		types.SystemMetadataRuntime:   strconv.FormatFloat(elapsed.Seconds(), 'f', -1, 64),
		types.SystemMetadataMaxMemory: strconv.FormatFloat(float64(peakBytes)/(1<<20), 'f', -1, 64),
	}
}
