package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"humanizer/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // prefix 模式的输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: 响应模式。
	//  - "" / "echo": 原样回显 <text>…</text> 内的载荷；
	//  - "upper": 回显并转为大写；
	//  - "prefix": 回显并加 "Prefix: " 前缀；
	//  - "empty": 返回空文本（用于验证阶段失败路径）；
	//  - "truncated": 回显前半段并标记 finish_reason=length。
	ResponseMode string `json:"response_mode,omitempty"`
}

type Client struct {
	prefix string
	mode   string

	mu    sync.Mutex
	calls int
	last  contract.Request
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "echo"
	}
	switch mode {
	case "echo", "upper", "prefix", "empty", "truncated":
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, mode: mode}, nil
}

// Invoke 按模式回显请求载荷，不做任何网络调用。
func (c *Client) Invoke(ctx context.Context, req contract.Request) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	c.mu.Lock()
	c.calls++
	c.last = req
	c.mu.Unlock()

	body := Payload(req.User)
	switch c.mode {
	case "upper":
		return contract.Raw{Text: strings.ToUpper(body), FinishReason: "stop"}, nil
	case "prefix":
		return contract.Raw{Text: c.prefix + ": " + body, FinishReason: "stop"}, nil
	case "empty":
		return contract.Raw{FinishReason: "stop"}, nil
	case "truncated":
		return contract.Raw{Text: strings.TrimRight(body[:len(body)/2], ".!? "), FinishReason: "length"}, nil
	}
	return contract.Raw{Text: body, FinishReason: "stop"}, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// LastRequest 返回最近一次请求。
func (c *Client) LastRequest() contract.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Payload 提取 <text>…</text> 之间的载荷；缺少分隔符时返回整段 user 文本。
func Payload(user string) string {
	i := strings.Index(user, "<text>")
	j := strings.LastIndex(user, "</text>")
	if i < 0 || j < i {
		return strings.TrimSpace(user)
	}
	return strings.TrimSpace(user[i+len("<text>") : j])
}

var _ contract.LLMClient = (*Client)(nil)
