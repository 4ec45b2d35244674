package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/pipeflow/types"
)

// breakerState 熔断器状态
type breakerState int

const (
	// breakerClosed 正常放行
	breakerClosed breakerState = iota
	// breakerOpen 快速失败，不再访问服务端
	breakerOpen
	// breakerHalfOpen 冷却结束，放行一个试探请求
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// breaker stops a client from hammering a server that keeps failing. Only
// server faults count: transport errors and 5xx responses after retries.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(threshold int, cooldown time.Duration, logger *zap.Logger) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
	}
}

// allow 返回 nil 表示请求可以发出
func (b *breaker) allow(route string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		wait := b.cooldown - b.now().Sub(b.openedAt)
		if wait > 0 {
			return types.Errorf(types.ErrAPI, "server unavailable: %d consecutive failures", b.failures).
				WithTip(fmt.Sprintf("Requests resume in %s.", wait.Round(time.Second))).
				WithContext(route)
		}
		b.transition(breakerHalfOpen, "cooldown elapsed")
		b.probing = true
		return nil
	case breakerHalfOpen:
		if b.probing {
			return types.NewError(types.ErrAPI, "server unavailable: trial request in flight").WithContext(route)
		}
		b.probing = true
	}
	return nil
}

// record 按请求结果更新状态
func (b *breaker) record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		b.probing = false
		return
	}
	if !serverFault(err) {
		b.failures = 0
		b.probing = false
		if b.state != breakerClosed {
			b.transition(breakerClosed, "trial request succeeded")
		}
		return
	}

	b.failures++
	b.probing = false
	switch {
	case b.state == breakerHalfOpen:
		b.openedAt = b.now()
		b.transition(breakerOpen, "trial request failed")
	case b.state == breakerClosed && b.failures >= b.threshold:
		b.openedAt = b.now()
		b.transition(breakerOpen, "failure threshold reached")
	}
}

func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) transition(to breakerState, reason string) {
	if b.state == to {
		return
	}
	b.logger.Warn("circuit breaker state changed",
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures),
	)
	b.state = to
}

// serverFault 判断错误是否应计入熔断：网络错误、5xx 与无法解析的响应
func serverFault(err error) bool {
	if err == nil {
		return false
	}
	e, ok := types.AsError(err)
	if !ok || e.Code != types.ErrAPI {
		return false
	}
	return e.HTTPStatus == 0 || e.HTTPStatus >= http.StatusInternalServerError
}
