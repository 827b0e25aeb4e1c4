package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// MaxRetries: 生成调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// RetryInvalid: 空/半截输出是否按 MaxRetries 重试；缺省 true。
	RetryInvalid *bool `json:"retry_invalid,omitempty"`
	// Seed: 扰动随机源种子；0 表示按输入内容派生。
	Seed uint64 `json:"seed"`
	// StageTimeoutSeconds: 单阶段超时（秒）；0 不限。
	StageTimeoutSeconds int `json:"stage_timeout_seconds"`
	// BytesPerToken: token 估算系数；0 使用默认 4。
	BytesPerToken int `json:"bytes_per_token"`
	// Report: 为每个文档额外写出运行报告。
	Report bool `json:"report"`

	// Profile: 内置 profile 名或 YAML 路径。
	Profile string `json:"profile"`
	// Model: 填充 profile 中未指定模型的阶段。
	Model string `json:"model"`

	Logging Logging `json:"logging"`
	Cache   Cache   `json:"cache"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Cache: 结果备忘。DSN 为空时关闭；postgres:// 使用 Postgres，否则为 sqlite 文件。
type Cache struct {
	DSN         string `json:"dsn"`
	MaxAgeHours int    `json:"max_age_hours"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Writer        string `json:"writer"`
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Writer        json.RawMessage `json:"writer"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
