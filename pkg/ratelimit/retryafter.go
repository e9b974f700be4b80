package ratelimit

import (
	"sync"
	"time"
)

// RetryAfterGate 记录服务端公告的限流窗口。被限流后在窗口结束前
// 拒绝一切新请求，不发出任何网络调用
type RetryAfterGate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time // 测试注入
}

func NewRetryAfterGate() *RetryAfterGate {
	return &RetryAfterGate{now: time.Now}
}

// Trip 打开限流闸门，窗口为服务端给出的 retry-after 时长。
// 已有更长的窗口时不缩短
func (g *RetryAfterGate) Trip(retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().Add(retryAfter)
	if until.After(g.until) {
		g.until = until
	}
}

// Remaining 距窗口结束的剩余时间，未限流时为 0
func (g *RetryAfterGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	rem := g.until.Sub(g.now())
	if rem < 0 {
		return 0
	}
	return rem
}

// Blocked 当前是否处于限流窗口内
func (g *RetryAfterGate) Blocked() bool {
	return g.Remaining() > 0
}

// Reset 清除限流状态
func (g *RetryAfterGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until = time.Time{}
}
