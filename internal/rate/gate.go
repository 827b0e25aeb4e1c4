package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"humanizer/pkg/contract"
)

// LimitKey: 限流分组键（client + key 摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；永远无法满足的申请快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false 且不消耗额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度为一个 golang.org/x/time/rate 令牌桶：容量=每分钟额度，初始满。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // nil 表示该维度关闭
	tok *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = perMinute(lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = perMinute(lim.TPM)
	}
	return e
}

func perMinute(n int) *xrate.Limiter {
	return xrate.NewLimiter(xrate.Limit(float64(n)/60.0), n)
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

// check 校验申请本身是否可能被满足。
func (e *entry) check(a Ask) error {
	if a.Requests <= 0 || a.Tokens < 0 {
		return fmt.Errorf("rate: %w: requests=%d tokens=%d", contract.ErrInvalidInput, a.Requests, a.Tokens)
	}
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return fmt.Errorf("rate: %w: %d tokens exceed per-request cap %d", contract.ErrInvalidInput, a.Tokens, e.lim.MaxTokensPerReq)
	}
	if e.req != nil && a.Requests > e.req.Burst() {
		return fmt.Errorf("rate: %w: %d requests exceed rpm %d", contract.ErrInvalidInput, a.Requests, e.req.Burst())
	}
	if e.tok != nil && a.Tokens > e.tok.Burst() {
		return fmt.Errorf("rate: %w: %d tokens exceed tpm %d", contract.ErrInvalidInput, a.Tokens, e.tok.Burst())
	}
	return nil
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if e.check(a) != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil && e.req.TokensAt(now) < float64(a.Requests) {
		return false
	}
	if e.tok != nil && a.Tokens > 0 && e.tok.TokensAt(now) < float64(a.Tokens) {
		return false
	}
	if e.req != nil {
		e.req.AllowN(now, a.Requests)
	}
	if e.tok != nil && a.Tokens > 0 {
		e.tok.AllowN(now, a.Tokens)
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := g.get(a.Key)
	if err := e.check(a); err != nil {
		return err
	}

	// 两个维度同时预约，取较长的等待
	now := g.clk()
	e.mu.Lock()
	var rs []*xrate.Reservation
	var delay time.Duration
	reserve := func(l *xrate.Limiter, n int) {
		if l == nil || n <= 0 {
			return
		}
		r := l.ReserveN(now, n)
		rs = append(rs, r)
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	reserve(e.req, a.Requests)
	reserve(e.tok, a.Tokens)
	e.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		// 归还未使用的预约
		at := g.clk()
		for _, r := range rs {
			r.CancelAt(at)
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	avail := func(l *xrate.Limiter) int {
		if l == nil {
			return 0
		}
		v := int(l.TokensAt(now))
		if v < 0 {
			return 0
		}
		return v
	}
	return avail(e.req), avail(e.tok)
}

// 接口断言。
var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
