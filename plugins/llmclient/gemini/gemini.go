package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"humanizer/pkg/contract"
)

// Options: Gemini（google generative-ai-go SDK）最小必需配置。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash；请求可按阶段覆盖
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// Endpoint: 可选的自定义服务地址（代理/私有部署）。
	Endpoint string `json:"endpoint,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
}

// generateFunc: 单次生成调用的注入点；测试中替换为桩实现。
type generateFunc func(ctx context.Context, model string, req contract.Request) (*genai.GenerateContentResponse, error)

type Client struct {
	model    string
	apiKey   string
	endpoint string
	gen      generateFunc
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	c := &Client{model: opts.Model, apiKey: key, endpoint: opts.Endpoint}
	c.gen = c.generate
	return c, nil
}

// generate 每次调用建立 SDK 客户端并在返回前关闭。
func (c *Client) DefaultModel() string { return c.model }

func (c *Client) generate(ctx context.Context, model string, req contract.Request) (*genai.GenerateContentResponse, error) {
	copts := []option.ClientOption{option.WithAPIKey(c.apiKey)}
	if c.endpoint != "" {
		copts = append(copts, option.WithEndpoint(c.endpoint))
	}
	cl, err := genai.NewClient(ctx, copts...)
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(model)
	m.SetTemperature(float32(req.Temperature))
	if req.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return m.GenerateContent(ctx, genai.Text(req.User))
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if strings.TrimSpace(req.User) == "" {
		return contract.Raw{}, fmt.Errorf("gemini: %w: empty user message", contract.ErrInvalidInput)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	resp, err := c.gen(ctx, model, req)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, mapError(err)
	}
	return toRaw(resp)
}

// toRaw 拼接首个候选的全部文本片段。
func toRaw(resp *genai.GenerateContentResponse) (contract.Raw, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return contract.Raw{}, fmt.Errorf("gemini: no candidates: %w", contract.ErrResponseInvalid)
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return contract.Raw{Text: sb.String(), FinishReason: finishReason(cand.FinishReason)}, nil
}

func finishReason(fr genai.FinishReason) string {
	switch fr {
	case genai.FinishReasonStop:
		return "STOP"
	case genai.FinishReasonMaxTokens:
		return "MAX_TOKENS"
	case genai.FinishReasonSafety:
		return "SAFETY"
	case genai.FinishReasonRecitation:
		return "RECITATION"
	}
	return ""
}

// upstreamError 实现 net.Error：5xx/不可用归为网络类；限流/参数问题通过 Unwrap 暴露哨兵错误。
type upstreamError struct {
	status int
	msg    string
	err    error
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg)
}
func (e upstreamError) Unwrap() error           { return e.err }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusGatewayTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 || e.status == http.StatusTooManyRequests }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// mapError 将 SDK 错误（REST googleapi.Error / gRPC status / 安全拦截）映射为统一分类。
func mapError(err error) error {
	var be *genai.BlockedError
	if errors.As(err, &be) {
		return fmt.Errorf("gemini blocked: %v: %w", be, contract.ErrResponseInvalid)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return fromStatus(ge.Code, ge.Message)
	}
	if s, ok := status.FromError(err); ok {
		return fromStatus(httpStatus(s.Code()), s.Message())
	}
	return err
}

func fromStatus(code int, msg string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return upstreamError{status: code, msg: msg, err: contract.ErrRateLimited}
	case code/100 == 5 || code == http.StatusRequestTimeout:
		return upstreamError{status: code, msg: msg}
	case code/100 == 4:
		return upstreamError{status: code, msg: msg, err: contract.ErrInvalidInput}
	}
	return upstreamError{status: code, msg: msg}
}

// httpStatus 将 gRPC 状态码折算为对应的 HTTP 状态码。
func httpStatus(c codes.Code) int {
	switch c {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

var _ contract.LLMClient = (*Client)(nil)
