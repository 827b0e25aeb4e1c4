package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"humanizer/pkg/contract"
)

// Code 为日志、指标与运行报告里的错误类别，不参与退出码判定。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeCancel    Code = "cancel"
	CodeRateLimit Code = "rate_limit"
	CodeBudget    Code = "budget"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeIO        Code = "io"
	CodeNetwork   Code = "network"
)

// sentinelCodes 按优先级排列，先命中者生效。
var sentinelCodes = []struct {
	err  error
	code Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrRateLimited, CodeRateLimit},
	{contract.ErrBudgetExceeded, CodeBudget},
	{contract.ErrResponseInvalid, CodeProtocol},
	{contract.ErrInvariantViolation, CodeInvariant},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
}

// Classify 沿 Unwrap 链归类：哨兵错误优先，其次文件系统与网络错误类型。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	// 连接失败、超时与上游 5xx（客户端以 net.Error 暴露）
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Transient 报告生成调用是否值得重试：仅限流与网络类。
func Transient(err error) bool {
	switch Classify(err) {
	case CodeRateLimit, CodeNetwork:
		return true
	}
	return false
}
