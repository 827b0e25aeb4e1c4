// Package invoke 封装单次生成调用：预算估算 → 限流闸门 → LLM → 解码，带有限次重试。
package invoke

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"humanizer/internal/diag"
	"humanizer/internal/prompt"
	"humanizer/internal/rate"
	"humanizer/pkg/contract"
)

// Invoker 为同步调用器；字段在构造后只读，可被多个 goroutine 共享。
type Invoker struct {
	LLM     contract.LLMClient
	Decoder contract.Decoder
	// Provider 仅用于错误与日志标注（如 "openai"）。
	Provider string

	// MaxRetries: 可重试错误（限流/网络）的最大重试次数（>=0）。
	MaxRetries int
	// Backoff: 线性退避基数，第 n 次重试前等待 n×Backoff；<=0 时为 200ms。
	Backoff time.Duration
	// RetryInvalid: 解码失败（空/半截输出）也按 MaxRetries 重试。
	RetryInvalid bool

	// 限流闸门（可选）：每次尝试前 Wait。
	Gate          rate.Gate
	GateKey       rate.LimitKey
	BytesPerToken int

	Logger *diag.Logger
}

// Call 描述一次阶段调用。
type Call struct {
	FileID     string
	Step       string // 日志用阶段标识，如 "2:restructure"
	Contract   contract.StyleContract
	Prompt     contract.Prompt
	InputWords int
}

// Outcome 为成功调用的结果。
type Outcome struct {
	Text            string
	Attempts        int
	MaxOutputTokens int
	FinishReason    string
}

// Invoke 执行调用；失败时返回 *contract.ServiceError（Attempts 为实际发出的调用次数）。
func (iv *Invoker) Invoke(ctx context.Context, c Call) (Outcome, error) {
	if iv == nil || iv.LLM == nil {
		return Outcome{}, contract.NewServiceError(iv.provider(), 0, fmt.Errorf("invoke: %w: nil llm client", contract.ErrInvalidInput))
	}
	maxOut := prompt.OutputBudget(c.Contract, c.InputWords)
	req := contract.Request{
		Model:           c.Contract.Model,
		System:          c.Prompt.System,
		User:            c.Prompt.User,
		Temperature:     c.Contract.Temperature,
		MaxOutputTokens: maxOut,
	}
	est := prompt.MakeEstimator(iv.BytesPerToken)
	tokens := est(req.System) + est(req.User) + maxOut

	retries := iv.MaxRetries
	if retries < 0 {
		retries = 0
	}
	attempts := 0
	var lastErr error
	for try := 0; try <= retries; try++ {
		if try > 0 {
			if err := sleepWithCtx(ctx, time.Duration(try)*iv.backoff()); err != nil {
				lastErr = err
				break
			}
		}
		if iv.Gate != nil {
			iv.Logger.DebugStart("gate", "ask", c.FileID, c.Step, map[string]string{
				"tokens":  strconv.Itoa(tokens),
				"attempt": strconv.Itoa(try + 1),
			})
			if err := iv.Gate.Wait(ctx, rate.Ask{Key: iv.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				iv.fail("gate", "wait failed", err, c)
				lastErr = err
				break // 闸门错误不重试（取消或申请非法）
			}
		}

		attempts++
		timer := iv.Logger.StartWithKV("llm_client", "invoke", c.FileID, c.Step, map[string]string{
			"model":      iv.Model(req.Model),
			"max_tokens": strconv.Itoa(maxOut),
			"attempt":    strconv.Itoa(attempts),
		})
		raw, err := safeInvoke(ctx, iv.LLM, req)
		if err != nil {
			iv.fail("llm_client", "invoke failed", err, c)
			lastErr = err
			if diag.Transient(err) {
				continue
			}
			break
		}
		timer.FinishKV("invoke", int64(len(raw.Text)), map[string]string{"finish_reason": raw.FinishReason})
		diag.IncOp("llm_client", "finish", "success")

		text, err := iv.decode(ctx, raw)
		if err != nil {
			iv.fail("decoder", "decode failed", err, c)
			lastErr = err
			if iv.RetryInvalid && errors.Is(err, contract.ErrResponseInvalid) {
				continue
			}
			break
		}
		diag.IncOp("decoder", "finish", "success")
		return Outcome{Text: text, Attempts: attempts, MaxOutputTokens: maxOut, FinishReason: raw.FinishReason}, nil
	}
	if lastErr == nil {
		lastErr = errors.New("invoke: no attempt made")
	}
	return Outcome{}, contract.NewServiceError(iv.provider(), attempts, lastErr)
}

func (iv *Invoker) decode(ctx context.Context, raw contract.Raw) (string, error) {
	if iv.Decoder != nil {
		return iv.Decoder.Decode(ctx, raw)
	}
	s := strings.TrimSpace(raw.Text)
	if s == "" {
		return "", fmt.Errorf("invoke: empty output: %w", contract.ErrResponseInvalid)
	}
	return s, nil
}

// fail 记录错误日志与指标；上游错误附带状态码/消息片段。
func (iv *Invoker) fail(comp, msg string, err error, c Call) {
	code := diag.Classify(err)
	var kv map[string]string
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv = map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
	}
	iv.Logger.ErrorWithKV(comp, string(code), msg+": "+err.Error(), nil, c.FileID, c.Step, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// Model 返回阶段实际使用的模型：阶段指定优先，否则取客户端默认（未知时为空）。
func (iv *Invoker) Model(stage string) string {
	if m := strings.TrimSpace(stage); m != "" {
		return m
	}
	if iv == nil {
		return ""
	}
	if d, ok := iv.LLM.(contract.DefaultModeler); ok {
		return d.DefaultModel()
	}
	return ""
}

// ProviderName 返回提供方标识。
func (iv *Invoker) ProviderName() string { return iv.provider() }

func (iv *Invoker) provider() string {
	if iv == nil || iv.Provider == "" {
		return "llm"
	}
	return iv.Provider
}

func (iv *Invoker) backoff() time.Duration {
	if iv.Backoff <= 0 {
		return 200 * time.Millisecond
	}
	return iv.Backoff
}

// safeInvoke 将客户端 panic 转为错误，保证调用方只看到错误返回。
func safeInvoke(ctx context.Context, llm contract.LLMClient, req contract.Request) (raw contract.Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("llm client panic: %v", r)
		}
	}()
	return llm.Invoke(ctx, req)
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
