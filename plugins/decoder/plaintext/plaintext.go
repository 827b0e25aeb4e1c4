package plaintext

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"humanizer/pkg/contract"
)

// Options: 纯文本解码选项。
//   - AllowTruncated: 上游因输出上限截停且末尾无句末标点时仍接受（默认拒绝）。
//   - KeepPreamble: 保留诸如 "Here is the rewritten text:" 的首行引导语（默认剥离）。
type Options struct {
	AllowTruncated bool `json:"allow_truncated"`
	KeepPreamble   bool `json:"keep_preamble"`
}

type decoder struct {
	opts Options
}

// New 从原样 JSON Options 创建解码器；未知字段视为配置错误。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("plaintext options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	return &decoder{opts: opts}, nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n")
	fenceClose = regexp.MustCompile("\r?\n?```\\s*$")
	preamble   = regexp.MustCompile(`(?i)^(?:sure[,!.]?\s*)?here(?:'s| is) (?:the|your) (?:rewritten|revised|humani[sz]ed|edited) (?:text|version)[^\n]*:\s*\n`)
)

// Decode 去除代码围栏、<text> 分隔符与首尾空白；空结果或半截输出返回 ErrResponseInvalid。
func (d *decoder) Decode(ctx context.Context, raw contract.Raw) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	s := strings.TrimSpace(raw.Text)
	if fenceOpen.MatchString(s) {
		s = fenceOpen.ReplaceAllString(s, "")
		s = fenceClose.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
	}
	if !d.opts.KeepPreamble {
		s = strings.TrimSpace(preamble.ReplaceAllString(s, ""))
	}
	s = stripDelimiters(s)
	if s == "" {
		return "", fmt.Errorf("plaintext: empty output: %w", contract.ErrResponseInvalid)
	}
	if raw.Truncated() && !d.opts.AllowTruncated && !endsSentence(s) {
		return "", fmt.Errorf("plaintext: output cut at token limit: %w", contract.ErrResponseInvalid)
	}
	return s, nil
}

// stripDelimiters 移除模型回显的 <text>…</text> 包裹。
func stripDelimiters(s string) string {
	if strings.HasPrefix(s, "<text>") {
		s = strings.TrimPrefix(s, "<text>")
		s = strings.TrimSuffix(strings.TrimSpace(s), "</text>")
	}
	return strings.TrimSpace(s)
}

// endsSentence: 末字符（忽略收尾引号/括号）为句末标点。
func endsSentence(s string) bool {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("\"')]”’", r)
	})
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?…", r)
}

// 静态接口断言
var _ contract.Decoder = (*decoder)(nil)
