package contract

import "context"

// Request: 一次生成调用的全部参数。
type Request struct {
	Model           string
	System          string
	User            string
	Temperature     float64
	MaxOutputTokens int
}

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
	// FinishReason: 上游给出的结束原因（如 stop/length）；未知为空。
	FinishReason string
}

// Truncated 报告上游是否因输出上限而截停。
func (r Raw) Truncated() bool {
	switch r.FinishReason {
	case "length", "MAX_TOKENS", "FinishReasonMaxTokens":
		return true
	}
	return false
}

// LLMClient: 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
type LLMClient interface {
	Invoke(ctx context.Context, req Request) (Raw, error)
}

// DefaultModeler: 可选接口；客户端报告请求未指定模型时使用的模型名。
type DefaultModeler interface {
	DefaultModel() string
}
