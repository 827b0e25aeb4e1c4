package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrRateLimited: 上游限流（HTTP 429 或 SDK 配额错误）。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应不可用（空文本、半截句子、结构无法解析）。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 调用参数或配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
