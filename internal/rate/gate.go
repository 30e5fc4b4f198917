package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"patchsync/pkg/contract"
)

// LimitKey: 限流分组键（网关名 + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。QPS<=0 表示不限额。
type Limits struct {
	QPS   float64 // 每秒请求数
	Burst int     // 突发容量；<=0 时取 1
}

// Gate: 翻译网关调用前的节流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消。
	Wait(ctx context.Context, key LimitKey) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(key LimitKey) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (avail float64)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now（仅用于 Try/Snapshot 的判定时刻）。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*xrate.Limiter, len(m))}
	for k, lim := range m {
		g.m[k] = newLimiter(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*xrate.Limiter
}

func newLimiter(lim Limits) *xrate.Limiter {
	if lim.QPS <= 0 {
		return xrate.NewLimiter(xrate.Inf, 0)
	}
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	return xrate.NewLimiter(xrate.Limit(lim.QPS), burst)
}

func (g *gate) get(key LimitKey) *xrate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.m[key]
	if l == nil {
		// 未配置的 key 视为不限额
		l = newLimiter(Limits{})
		g.m[key] = l
	}
	return l
}

func (g *gate) Try(key LimitKey) bool {
	return g.get(key).AllowN(g.clk(), 1)
}

func (g *gate) Wait(ctx context.Context, key LimitKey) error {
	if key == "" {
		return contract.ErrInvalidInput
	}
	return g.get(key).Wait(ctx)
}

// Snapshot: 返回当前可用令牌估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) float64 {
	return g.get(key).TokensAt(g.clk())
}

// 接口断言（可选）。
var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
