package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"humanizer/pkg/contract"
)

func newTestClient(t *testing.T, srv *httptest.Server, extra string) contract.LLMClient {
	t.Helper()
	raw := `{"base_url":"` + srv.URL + `","api_key":"sk-test"` + extra + `}`
	c, err := New(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestInvokeEncodesRequest(t *testing.T) {
	var got oaReq
	var auth, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("路径错误: %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		custom = r.Header.Get("X-Test")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Rewritten."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, `,"extra_headers":{"X-Test":"1"}`)
	raw, err := c.Invoke(context.Background(), contract.Request{
		Model: "gpt-4o-mini", System: "sys", User: "usr", Temperature: 0.75, MaxOutputTokens: 2048,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if raw.Text != "Rewritten." || raw.FinishReason != "stop" || raw.Truncated() {
		t.Fatalf("响应解析错误: %+v", raw)
	}
	if auth != "Bearer sk-test" || custom != "1" {
		t.Fatalf("请求头错误: %q %q", auth, custom)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 2048 || got.Temperature != 0.75 {
		t.Fatalf("请求体错误: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "usr" {
		t.Fatalf("消息错误: %+v", got.Messages)
	}
}

func TestInvokeSendsZeroTemperature(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv, "")
	if _, err := c.Invoke(context.Background(), contract.Request{User: "u", Temperature: 0}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	v, ok := body["temperature"]
	if !ok {
		t.Fatalf("温度 0 不应被省略: %v", body)
	}
	if f, _ := v.(float64); f != 0 {
		t.Fatalf("温度应为 0，得到 %v", v)
	}
}

func TestInvokeDefaultsModel(t *testing.T) {
	var got oaReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"},"finish_reason":"length"}]}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv, `,"model":"local-model"`)
	raw, err := c.Invoke(context.Background(), contract.Request{User: "u"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.Model != "local-model" || len(got.Messages) != 1 {
		t.Fatalf("默认模型/消息错误: %+v", got)
	}
	if !raw.Truncated() {
		t.Fatalf("finish_reason=length 应视为截停")
	}
}

func TestInvokeStatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		sentinel error
		network bool
	}{
		{http.StatusTooManyRequests, contract.ErrRateLimited, false},
		{http.StatusUnauthorized, contract.ErrInvalidInput, false},
		{http.StatusBadGateway, nil, true},
		{http.StatusRequestTimeout, nil, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"x"}`))
		}))
		c := newTestClient(t, srv, "")
		_, err := c.Invoke(context.Background(), contract.Request{User: "u"})
		srv.Close()
		if err == nil {
			t.Fatalf("%d 应返回错误", tc.status)
		}
		if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
			t.Fatalf("%d 应包装 %v: %v", tc.status, tc.sentinel, err)
		}
		var ne net.Error
		if tc.network && !errors.As(err, &ne) {
			t.Fatalf("%d 应为网络类错误: %v", tc.status, err)
		}
		var ue contract.UpstreamError
		if !errors.As(err, &ue) || ue.UpstreamStatus() != tc.status {
			t.Fatalf("%d 应携带上游状态码: %v", tc.status, err)
		}
	}
}

func TestInvokeBadBody(t *testing.T) {
	for _, body := range []string{`not json`, `{"choices":[]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := newTestClient(t, srv, "")
		_, err := c.Invoke(context.Background(), contract.Request{User: "u"})
		srv.Close()
		if !errors.Is(err, contract.ErrResponseInvalid) {
			t.Fatalf("%q 应返回 ErrResponseInvalid: %v", body, err)
		}
	}
}

func TestNewMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(nil); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("缺少 key 应报错: %v", err)
	}
	if _, err := New(json.RawMessage(`{"disable_default_auth":true,"base_url":"http://localhost:1"}`)); err != nil {
		t.Fatalf("关闭鉴权时无需 key: %v", err)
	}
}

func TestInvokeRejectsEmptyUser(t *testing.T) {
	c, _ := New(json.RawMessage(`{"api_key":"k"}`))
	if _, err := c.Invoke(context.Background(), contract.Request{User: "  "}); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("空 user 应报错: %v", err)
	}
}
