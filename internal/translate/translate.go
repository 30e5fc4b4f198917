package translate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/rate"
	"patchsync/pkg/contract"
)

// Options: 翻译步骤参数。
type Options struct {
	From, To    string
	Key         rate.LimitKey // 限流分组键
	MaxAttempts int           // 0 表示无限重试
	BaseBackoff time.Duration // 默认 200ms
	MaxBackoff  time.Duration // 默认 10s
	Preview     int           // 失败日志中的原文预览长度（rune），默认 15
}

func (o *Options) defaults() {
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.Preview <= 0 {
		o.Preview = 15
	}
}

// Memory: 可选译文缓存（同一 from/to/原文命中即跳过网关）。
type Memory interface {
	Lookup(ctx context.Context, from, to, source string) (string, bool, error)
	Store(ctx context.Context, from, to, source, translated string) error
}

// Translator 包装 Gateway：空输入短路、节流、指数退避重试直到非空结果。
// 并发安全；一次运行共享一个实例。
type Translator struct {
	gw     contract.Gateway
	gate   rate.Gate
	mem    Memory
	logger *diag.Logger
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// New 构造 Translator；gate/mem/logger 均可为 nil。
func New(gw contract.Gateway, gate rate.Gate, mem Memory, logger *diag.Logger, opts Options) *Translator {
	opts.defaults()
	return &Translator{gw: gw, gate: gate, mem: mem, logger: logger, opts: opts, sleep: sleepCtx}
}

// Translate 返回 text 的译文。
// 空字符串直接返回空串且不调用网关；网关报错或返回空结果时按退避重试，
// 仅在 ctx 取消或超出 MaxAttempts 时返回错误（包装 ErrTranslation）。
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	if t.mem != nil {
		if hit, ok, err := t.mem.Lookup(ctx, t.opts.From, t.opts.To, text); err == nil && ok {
			diag.IncOp("translate", "memory", "hit")
			return hit, nil
		} else if err != nil {
			t.logger.Warn("translate", string(diag.Classify(err)), "memory lookup: "+err.Error(), "", "")
		}
	}
	backoff := t.opts.BaseBackoff
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if t.gate != nil {
			if err := t.gate.Wait(ctx, t.opts.Key); err != nil {
				return "", err
			}
		}
		start := time.Now()
		out, err := t.call(ctx, text)
		diag.ObserveDuration("translate", "gateway", time.Since(start).Milliseconds())
		if err == nil {
			diag.IncOp("translate", "gateway", "success")
			if t.mem != nil {
				if serr := t.mem.Store(ctx, t.opts.From, t.opts.To, text, out); serr != nil {
					t.logger.Warn("translate", string(diag.Classify(serr)), "memory store: "+serr.Error(), "", "")
				}
			}
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}
		last = err
		code := diag.Classify(err)
		diag.IncOp("translate", "gateway", "error")
		diag.IncError("translate", string(code))
		kv := map[string]string{"attempt": strconv.Itoa(attempt), "preview": Preview(text, t.opts.Preview)}
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv["upstream_status"] = strconv.Itoa(ue.UpstreamStatus())
			kv["upstream_msg"] = Preview(ue.UpstreamMessage(), 200)
		}
		t.logger.ErrorWithKV("translate", string(code), err.Error(), &start, "", "", kv)
		if t.opts.MaxAttempts > 0 && attempt >= t.opts.MaxAttempts {
			return "", fmt.Errorf("translate %q after %d attempts: %v: %w", Preview(text, t.opts.Preview), attempt, last, contract.ErrTranslation)
		}
		if err := t.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > t.opts.MaxBackoff {
			backoff = t.opts.MaxBackoff
		}
	}
}

var errEmptyResult = errors.New("empty translation result")

// call 执行一次网关调用；空结果（含空白译文）视为失败。
func (t *Translator) call(ctx context.Context, text string) (string, error) {
	res, err := t.gw.Translate(ctx, text, t.opts.From, t.opts.To)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", fmt.Errorf("%w: %w", errEmptyResult, contract.ErrResponseInvalid)
	}
	// 多段结果（服务商按换行拆分）按原顺序拼回
	parts := make([]string, 0, len(res))
	for _, r := range res {
		parts = append(parts, r.Translated)
	}
	out := strings.Join(parts, "\n")
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: %w", errEmptyResult, contract.ErrResponseInvalid)
	}
	return out, nil
}

// Preview 截取前 n 个 rune 作为日志预览。
func Preview(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
