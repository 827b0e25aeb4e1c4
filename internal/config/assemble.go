package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"humanizer/internal/diag"
	"humanizer/internal/invoke"
	"humanizer/internal/pipeline"
	"humanizer/internal/profile"
	"humanizer/internal/prompt"
	"humanizer/internal/rate"
	"humanizer/internal/store"
	"humanizer/pkg/contract"
	"humanizer/pkg/registry"
	wfs "humanizer/plugins/writer/filesystem"
)

// stdout: STDIN 模式且未指定输出目录时结果写到此处。
var stdout io.Writer = os.Stdout

// Assembly 为装配完成的运行组件。
type Assembly struct {
	Engine  *pipeline.Engine
	Batch   pipeline.Batch
	Profile profile.Profile
	Stages  []contract.StyleContract
	Gate    rate.Gate
	GateKey rate.LimitKey
	// Cache 为 nil 表示未启用结果备忘。
	Cache *store.Store
}

// Close 释放缓存连接。
func (a *Assembly) Close() error {
	if a == nil || a.Cache == nil {
		return nil
	}
	return a.Cache.Close()
}

// IsStdin: 输入为单个 "-"。
func IsStdin(inputs []string) bool {
	return len(inputs) == 1 && strings.TrimSpace(inputs[0]) == "-"
}

// Validate 对最小必要边界做静态校验（含 profile 加载与限额比对）。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.StageTimeoutSeconds < 0 || cfg.BytesPerToken < 0 || cfg.Cache.MaxAgeHours < 0 {
		return errors.New("config: stage_timeout_seconds, bytes_per_token and cache.max_age_hours must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder); registry.PromptBuilder[name] == nil {
		return fmt.Errorf("config: prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.Decoder, d.Components.Decoder); registry.Decoder[name] == nil {
		return fmt.Errorf("config: decoder %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	p, err := profile.Load(effName(cfg.Profile, d.Profile))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// 阶段输出上限不得超过 provider 单请求上限
	if lim := prov.Limits.MaxTokensPerReq; lim > 0 {
		for _, sc := range p.Stages {
			if ceil := stageCeiling(sc); ceil > lim {
				return fmt.Errorf("config: stage %q output ceiling(%d) exceeds provider.max_tokens_per_req(%d)", sc.Name, ceil, lim)
			}
		}
	}
	return nil
}

// Assemble 构造 Engine、批量组件与限流 Gate+Key。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(ctx context.Context, cfg Config, logger *diag.Logger) (*Assembly, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults()

	p, err := profile.Load(effName(cfg.Profile, d.Profile))
	if err != nil {
		return nil, err
	}
	p = p.WithModel(cfg.Model)

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return nil, err
	}
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return nil, err
	}
	// 固定提示开销 + 输出上限不得超过 provider 单请求上限（闸门按总量校验）
	if lim := cfg.Provider[cfg.LLM].Limits.MaxTokensPerReq; lim > 0 {
		for _, sc := range p.Stages {
			if need := prompt.Overhead(pb, sc, cfg.BytesPerToken) + stageCeiling(sc); need > lim {
				return nil, fmt.Errorf("config: stage %q needs about %d tokens per request, provider allows %d: %w",
					sc.Name, need, lim, contract.ErrBudgetExceeded)
			}
		}
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Components.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return nil, err
	}
	wn := effName(cfg.Components.Writer, d.Components.Writer)
	var w contract.Writer
	if wn == "fs" && IsStdin(cfg.Inputs) && writerDir(cfg.Options.Writer) == "" {
		// STDIN → STDOUT：仅输出正文，运行报告丢弃
		w = wfs.NewStream(stdout)
	} else {
		if w, err = registry.Writer[wn](cfg.Options.Writer); err != nil {
			return nil, fmt.Errorf("writer %s: %w", wn, err)
		}
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return nil, err
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	retryInvalid := true
	if cfg.RetryInvalid != nil {
		retryInvalid = *cfg.RetryInvalid
	}
	inv := &invoke.Invoker{
		LLM:           llm,
		Decoder:       dec,
		Provider:      cfg.LLM,
		MaxRetries:    cfg.MaxRetries,
		RetryInvalid:  retryInvalid,
		Gate:          gate,
		GateKey:       key,
		BytesPerToken: cfg.BytesPerToken,
		Logger:        logger,
	}
	eng := &pipeline.Engine{
		Builder:      pb,
		Invoker:      inv,
		Seed:         cfg.Seed,
		StageTimeout: time.Duration(cfg.StageTimeoutSeconds) * time.Second,
		Dedupe:       p.Dedupe,
		ProfileName:  p.Name,
		Logger:       logger,
	}

	a := &Assembly{
		Engine: eng,
		Batch: pipeline.Batch{
			Reader:      r,
			Writer:      w,
			Inputs:      cloneStrings(cfg.Inputs),
			Concurrency: cfg.Concurrency,
			Report:      cfg.Report,
		},
		Profile: p,
		Stages:  p.Stages,
		Gate:    gate,
		GateKey: key,
	}

	if dsn := strings.TrimSpace(cfg.Cache.DSN); dsn != "" {
		st, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.Cache = st
		eng.Cache = st
		eng.CacheMaxAge = time.Duration(cfg.Cache.MaxAgeHours) * time.Hour
	}
	return a, nil
}

// stageCeiling 返回阶段输出 token 上限。
func stageCeiling(sc contract.StyleContract) int {
	if sc.MaxOutputTokens > 0 {
		return sc.MaxOutputTokens
	}
	return sc.Budget.Ceiling
}

func writerDir(raw json.RawMessage) string {
	var o struct {
		OutputDir string `json:"output_dir"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	return strings.TrimSpace(o.OutputDir)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
