package flaky

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"humanizer/pkg/contract"
)

func TestFailsThenEchoes(t *testing.T) {
	logp := filepath.Join(t.TempDir(), "flaky.log")
	c, err := New(json.RawMessage(`{"failures":2,"log_path":"` + filepath.ToSlash(logp) + `"}`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := contract.Request{User: "<text>Body.</text>"}
	for i := 0; i < 2; i++ {
		if _, err := c.Invoke(context.Background(), req); !errors.Is(err, contract.ErrRateLimited) {
			t.Fatalf("第 %d 次应限流: %v", i+1, err)
		}
	}
	raw, err := c.Invoke(context.Background(), req)
	if err != nil || raw.Text != "Body." {
		t.Fatalf("第 3 次应成功: %+v %v", raw, err)
	}
	if c.(*Client).Calls() != 3 {
		t.Fatalf("调用计数错误")
	}
	b, _ := os.ReadFile(logp)
	if strings.Count(string(b), "rate_limited") != 2 || !strings.Contains(string(b), "ok") {
		t.Fatalf("日志内容错误: %q", b)
	}
}

func TestDefaultOneFailure(t *testing.T) {
	c, _ := New(nil)
	if _, err := c.Invoke(context.Background(), contract.Request{User: "x"}); !errors.Is(err, contract.ErrRateLimited) {
		t.Fatalf("首次应限流: %v", err)
	}
	if raw, err := c.Invoke(context.Background(), contract.Request{User: "x"}); err != nil || raw.Text != "x" {
		t.Fatalf("第二次应成功: %+v %v", raw, err)
	}
}
