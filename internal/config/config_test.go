package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"humanizer/pkg/contract"
	wfs "humanizer/plugins/writer/filesystem"
)

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.LLM != "gemini" || cfg.Profile != "academic-4stage" || cfg.Seed != 42 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if len(cfg.Inputs) != 1 || cfg.Components.Reader != "fs" || cfg.Cache.MaxAgeHours != 24 {
		t.Fatalf("字段映射错误: %+v", cfg)
	}
	if cfg.MaxRetries != 0 {
		t.Fatalf("显式 max_retries=0 应保留，得到 %d", cfg.MaxRetries)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
}

// 未出现的 max_retries 不覆盖默认值
func TestLoadJSONRetriesUnset(t *testing.T) {
	base, err := LoadJSON("", []byte(`{"llm":"mock"}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	cfg := Merge(Defaults(), base)
	if cfg.MaxRetries != Defaults().MaxRetries {
		t.Fatalf("默认重试次数被覆盖: %d", cfg.MaxRetries)
	}
	if cfg.RetryInvalid == nil || !*cfg.RetryInvalid {
		t.Fatalf("retry_invalid 默认应为 true")
	}
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"HUMANIZE_INPUTS=a,b",
		"HUMANIZE_CONCURRENCY=3",
		"HUMANIZE_LLM=mock",
		"HUMANIZE_SEED=7",
		"HUMANIZE_RETRY_INVALID=false",
		"HUMANIZE_PROFILE=academic-4stage",
		"HUMANIZE_CACHE_DSN=sqlite:cache.db",
		"HUMANIZE_COMPONENTS_READER=fs",
		"HUMANIZE_PROVIDER__mock__CLIENT=mock",
		"HUMANIZE_PROVIDER__mock__LIMITS_RPM=30",
		"OTHER_LLM=openai",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.LLM != "mock" || over.Concurrency != 3 || len(over.Inputs) != 2 || over.Seed != 7 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.MaxRetries != -1 {
		t.Fatalf("未设置的 MAX_RETRIES 应为 -1")
	}
	if over.RetryInvalid == nil || *over.RetryInvalid {
		t.Fatalf("RETRY_INVALID=false 未生效")
	}
	if p := over.Provider["mock"]; p.Client != "mock" || p.Limits.RPM != 30 {
		t.Fatalf("provider 覆盖不正确: %+v", p)
	}
	cfg := Merge(Defaults(), over)
	if cfg.Profile != "academic-4stage" || cfg.Cache.DSN != "sqlite:cache.db" || *cfg.RetryInvalid {
		t.Fatalf("合并结果不正确: %+v", cfg)
	}
}

func TestEnvOverlayBadSeed(t *testing.T) {
	if _, err := EnvOverlay([]string{"HUMANIZE_SEED=abc"}); err == nil {
		t.Fatalf("非法 seed 应报错")
	}
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	if _, err := LoadJSON("", raw); err == nil {
		t.Fatalf("应当返回错误")
	}
}

func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi("10"); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
}

func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	if d.Components.Reader != "fs" || d.Components.PromptBuilder != "stylecontract" || d.Profile != "v6" {
		t.Fatalf("默认组件错误: %+v", d.Components)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatalf("cloneRaw 未复制")
	}
}

// Validate 错误分支
func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); err == nil {
		t.Fatal("空配置应失败")
	}
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"dash-mixed", func(c *Config) { c.Inputs = []string{"-", "a"} }},
		{"concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"retries", func(c *Config) { c.MaxRetries = -1 }},
		{"no-client", func(c *Config) { c.Provider = map[string]Provider{"mock": {}} }},
		{"unknown-client", func(c *Config) { c.Provider = map[string]Provider{"mock": {Client: "nope"}} }},
		{"unknown-reader", func(c *Config) { c.Components.Reader = "nope" }},
		{"unknown-profile", func(c *Config) { c.Profile = "no-such-profile" }},
		{"ceiling", func(c *Config) {
			c.Provider = map[string]Provider{"mock": {Client: "mock", Limits: Limits{MaxTokensPerReq: 1000}}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTemplateConfig()
			tc.mod(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("期望校验失败")
			}
		})
	}
	if err := Validate(DefaultTemplateConfig()); err != nil {
		t.Fatalf("默认模板应通过校验: %v", err)
	}
}

// STDIN 且未指定输出目录时写到 stdout 流
func TestAssembleStdinStream(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	cfg := DefaultTemplateConfig()
	cfg.Options.Writer = json.RawMessage(`{}`)
	a, err := Assemble(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	defer a.Close()
	if _, ok := a.Batch.Writer.(*wfs.Stream); !ok {
		t.Fatalf("期望流式 Writer，得到 %T", a.Batch.Writer)
	}
	if !a.Engine.Invoker.RetryInvalid || a.Engine.Invoker.MaxRetries != 2 {
		t.Fatalf("重试设置不符: %+v", a.Engine.Invoker)
	}
	if len(a.Stages) != 1 || a.Profile.Name != "v6" || a.Cache != nil {
		t.Fatalf("profile 装配不符: %+v", a.Profile)
	}
}

func TestAssembleOverheadBudget(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Profile = "academic-4stage"
	// 输出上限恰好等于单请求上限：加上提示开销后超限
	cfg.Provider["mock"] = Provider{Client: "mock", Limits: Limits{MaxTokensPerReq: 4096}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("静态校验应通过: %v", err)
	}
	_, err := Assemble(context.Background(), cfg, nil)
	if !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("期望 ErrBudgetExceeded，得到 %v", err)
	}
}

func TestAssembleModelFill(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Inputs = []string{t.TempDir()}
	cfg.Profile = "academic-4stage"
	cfg.Model = "local-model"
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, t.TempDir()))
	a, err := Assemble(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("装配失败: %v", err)
	}
	defer a.Close()
	for _, sc := range a.Stages {
		if sc.Model == "" {
			t.Fatalf("阶段 %s 模型未填充", sc.Name)
		}
	}
	if !a.Engine.Dedupe {
		t.Fatalf("academic-4stage 应启用去重")
	}
}

// 端到端：目录输入 → mock → 文件输出；第二次运行命中缓存
func TestAssembleRunWithCache(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(in, "paper.txt"), []byte("We measured the signal. It was strong.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultTemplateConfig()
	cfg.Inputs = []string{in}
	cfg.Seed = 3
	cfg.Cache.DSN = filepath.Join(t.TempDir(), "cache.db")
	cfg.Provider["mock"] = Provider{Client: "mock"}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":false}`, out))

	for i, wantCached := range []bool{false, true} {
		a, err := Assemble(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("装配失败: %v", err)
		}
		sum, err := a.Engine.RunFiles(context.Background(), a.Batch, a.Stages)
		_ = a.Close()
		if err != nil {
			t.Fatalf("第 %d 次运行失败: %v", i+1, err)
		}
		if len(sum.Files) != 1 || sum.Files[0].Cached != wantCached {
			t.Fatalf("第 %d 次运行摘要不符: %+v", i+1, sum)
		}
	}
	got, err := os.ReadFile(filepath.Join(out, "paper.humanized.txt"))
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	if !strings.Contains(string(got), "signal") {
		t.Fatalf("输出内容不符: %q", got)
	}
}
