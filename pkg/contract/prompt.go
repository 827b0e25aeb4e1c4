package contract

import "context"

// Prompt: system 契约 + user 载荷。
type Prompt struct {
	System string
	User   string
}

// PromptBuilder: 基于 StyleContract 与阶段输入构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - 输入超过字符上限时从尾部截断，并通过 Notice 告知调用方；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(ctx context.Context, sc StyleContract, text string) (Prompt, []Notice, error)
	// EstimateOverheadTokens: 估算与输入文本无关的固定提示词开销（system + user 模板骨架）。
	EstimateOverheadTokens(sc StyleContract, estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
