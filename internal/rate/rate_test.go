package rate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"humanizer/pkg/contract"
)

// 超过 RPM/TPM
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("应因 RPM 拒绝")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 6}) {
		t.Fatalf("应因单请求上限拒绝")
	}
	// 一分钟后 RPM 恢复
	now = now.Add(time.Minute)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}) {
		t.Fatalf("额度恢复后应通过")
	}
}

// Try 失败不消耗任何维度
func TestGateTryAtomic(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 10, TPM: 5}}, clk)
	if !g.Try(Ask{Key: "k", Requests: 1, Tokens: 5}) {
		t.Fatalf("首次应通过")
	}
	if g.Try(Ask{Key: "k", Requests: 1, Tokens: 1}) {
		t.Fatalf("应因 TPM 拒绝")
	}
	rpm, tpm := g.(Snapshoter).Snapshot("k")
	if rpm != 9 || tpm != 0 {
		t.Fatalf("快照错误: rpm=%d tpm=%d", rpm, tpm)
	}
}

// 取消上下文
func TestGateWaitCancel(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, nil)
	if err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1}); err != nil {
		t.Fatalf("首次应立即放行: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	if err := g.Wait(ctx, Ask{Key: "k", Requests: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("应返回取消错误: %v", err)
	}
}

// 无法满足的申请快速失败
func TestGateWaitImpossible(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 100}}, nil)
	for _, a := range []Ask{
		{Key: "k", Requests: 2},
		{Key: "k", Requests: 1, Tokens: 101},
		{Key: "k", Requests: 0},
		{Key: "k", Requests: 1, Tokens: -1},
	} {
		if err := g.Wait(context.Background(), a); !errors.Is(err, contract.ErrInvalidInput) {
			t.Fatalf("%+v 应返回 ErrInvalidInput: %v", a, err)
		}
	}
}

// 未配置的分组不限额
func TestGateUnknownKey(t *testing.T) {
	g := NewGate(nil, nil)
	for i := 0; i < 100; i++ {
		if err := g.Wait(context.Background(), Ask{Key: "free", Requests: 1, Tokens: 1 << 20}); err != nil {
			t.Fatalf("未配置 key 不应限流: %v", err)
		}
	}
}

func TestDeriveKeyFromProviderOptions(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k, err := DeriveKeyFromProviderOptions("openai", raw)
	if err != nil || k == "" {
		t.Fatalf("派生失败: %v", err)
	}
	k2, _ := DeriveKeyFromProviderOptions("openai", json.RawMessage(`{"api_key":"abc"}`))
	if k != k2 {
		t.Fatalf("相同 key 应得到相同分组: %s %s", k, k2)
	}

	t.Setenv("GOOGLE_API_KEY", "g")
	if _, err := DeriveKeyFromProviderOptions("gemini", nil); err != nil {
		t.Fatalf("gemini 应回退到默认环境变量: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := DeriveKeyFromProviderOptions("openai", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("缺少 key 应失败")
	}
	if k, err := DeriveKeyFromProviderOptions("mock", nil); err != nil || k == "" {
		t.Fatalf("mock 应使用调试键: %v", err)
	}
}
