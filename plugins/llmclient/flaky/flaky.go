package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"humanizer/pkg/contract"
	"humanizer/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	// Failures: 前 N 次调用返回 ErrRateLimited，默认 1。
	Failures int `json:"failures"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现：
// 前 Failures 次 Invoke 返回 ErrRateLimited；
// 之后回显 <text> 载荷。
type Client struct {
	failures int32
	logPath  string
	count    atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Failures <= 0 {
		o.Failures = 1
	}
	return &Client{failures: int32(o.Failures), logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.count.Add(1) <= c.failures {
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	}
	c.log("ok")
	return contract.Raw{Text: mock.Payload(req.User), FinishReason: "stop"}, nil
}

// Calls 返回累计调用次数（含失败）。
func (c *Client) Calls() int { return int(c.count.Load()) }

var _ contract.LLMClient = (*Client)(nil)
