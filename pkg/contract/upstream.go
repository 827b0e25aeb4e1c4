package contract

import (
	"errors"
	"fmt"
)

// UpstreamError 用于承载上游（HTTP/SDK）错误的最小诊断信息。
// 实现方应提供可选的状态码与简短消息，便于记录结构化日志字段。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// ServiceError: 生成调用失败（网络、鉴权、限流、响应无效）。
// Attempts 为实际发出的调用次数（含重试）。
type ServiceError struct {
	Provider string
	Attempts int
	Status   int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("service %s failed after %d attempt(s) (status %d): %v", e.Provider, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("service %s failed after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// NewServiceError 包装 err，并从 UpstreamError 中提取状态码。
func NewServiceError(provider string, attempts int, err error) *ServiceError {
	se := &ServiceError{Provider: provider, Attempts: attempts, Err: err}
	var ue UpstreamError
	if errors.As(err, &ue) {
		se.Status = ue.UpstreamStatus()
	}
	return se
}
