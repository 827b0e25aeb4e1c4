package stylecontract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"humanizer/pkg/contract"
)

// Options 为风格契约 PromptBuilder 的最小配置。
// - InlineUserTemplate / UserTemplatePath: 阶段未声明 user_template 时使用的默认模板（二选一，均为空时使用内置模板）。
// - OutputRule: 追加在 system 尾部的输出约束；空则使用内置文案。
type Options struct {
	InlineUserTemplate string `json:"inline_user_template"`
	UserTemplatePath   string `json:"user_template_path"`
	OutputRule         string `json:"output_rule"`
}

// Builder: 以 StyleContract 构造 system 契约与 user 载荷。
// 运行期不做 I/O；模板按源文本缓存。
type Builder struct {
	defUser string
	rule    string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// templateData 为 user 模板可见字段。
// Text 已用 <text>…</text> 包裹；Raw 为未包裹的阶段输入。
type templateData struct {
	Task string
	Text string
	Raw  string
}

// New 创建风格契约 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultUserTemplate
	if o.InlineUserTemplate != "" {
		src = o.InlineUserTemplate
	} else if o.UserTemplatePath != "" {
		b, err := os.ReadFile(o.UserTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("user template read: %w", err)
		}
		src = string(b)
	}
	rule := defaultOutputRule
	if strings.TrimSpace(o.OutputRule) != "" {
		rule = strings.TrimSpace(o.OutputRule)
	}
	b := &Builder{defUser: src, rule: rule, cache: make(map[string]*template.Template)}
	// 构造期校验默认模板
	if _, err := b.template(src); err != nil {
		return nil, err
	}
	return b, nil
}

// Build: 构造 Prompt；超出 MaxInputChars 时尾部截断并返回 truncated 提示。
func (b *Builder) Build(ctx context.Context, sc contract.StyleContract, text string) (contract.Prompt, []contract.Notice, error) {
	select {
	case <-ctx.Done():
		return contract.Prompt{}, nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(text) == "" {
		return contract.Prompt{}, nil, fmt.Errorf("prompt: %w: empty text", contract.ErrInvalidInput)
	}

	var notices []contract.Notice
	if kept, orig, cut := Truncate(text, sc.MaxInputChars); cut {
		text = kept
		n := utf8.RuneCountInString(kept)
		notices = append(notices, contract.Notice{
			Kind:     contract.NoticeTruncated,
			Message:  fmt.Sprintf("input exceeds %d characters; only the first %d are used", sc.MaxInputChars, n),
			Original: orig,
			Kept:     n,
		})
	}

	user, err := b.renderUser(sc, text)
	if err != nil {
		return contract.Prompt{}, nil, err
	}
	return contract.Prompt{System: b.System(sc), User: user}, notices, nil
}

// System 渲染 system 契约：人设 + 禁用项 + 必需项 + 输出约束。
func (b *Builder) System(sc contract.StyleContract) string {
	var sb strings.Builder
	if p := strings.TrimSpace(sc.Persona); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	if len(sc.BannedPhrases) > 0 {
		sb.WriteString("\nForbidden constructs (never use these words or phrases):\n")
		for _, p := range sc.BannedPhrases {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
	}
	if len(sc.Required) > 0 {
		sb.WriteString("\nRequired constructs:\n")
		for _, r := range sc.Required {
			sb.WriteString("- ")
			sb.WriteString(r)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("\n")
	sb.WriteString(b.rule)
	return strings.TrimSpace(sb.String())
}

// EstimateOverheadTokens: 估算与输入无关的固定开销（system + 空载荷的 user 骨架）。
func (b *Builder) EstimateOverheadTokens(sc contract.StyleContract, estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	user, err := b.renderUser(sc, "")
	if err != nil {
		user = ""
	}
	return estimate(b.System(sc)) + estimate(user)
}

func (b *Builder) renderUser(sc contract.StyleContract, text string) (string, error) {
	src := b.defUser
	if sc.UserTemplate != "" {
		src = sc.UserTemplate
	}
	tpl, err := b.template(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	data := templateData{
		Task: strings.TrimSpace(sc.Task),
		Text: "<text>\n" + text + "\n</text>",
		Raw:  text,
	}
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("user render: %w: %v", contract.ErrInvalidInput, err)
	}
	out := buf.String()
	if !strings.Contains(out, "<text>") {
		return "", fmt.Errorf("user render: %w: template must include {{.Text}}", contract.ErrInvalidInput)
	}
	return strings.TrimSpace(out), nil
}

func (b *Builder) template(src string) (*template.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("user").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("user template parse: %w: %v", contract.ErrInvalidInput, err)
	}
	b.cache[src] = t
	return t, nil
}

// Truncate 保留前 limit 个字符（rune），优先在最后一个空白处截断。
// 返回 (保留文本, 原始字符数, 是否截断)；limit<=0 表示不限。
func Truncate(text string, limit int) (string, int, bool) {
	n := utf8.RuneCountInString(text)
	if limit <= 0 || n <= limit {
		return text, n, false
	}
	// 定位第 limit 个 rune 的字节偏移
	off, i := 0, 0
	for off < len(text) && i < limit {
		_, w := utf8.DecodeRuneInString(text[off:])
		off += w
		i++
	}
	head := text[:off]
	// 若下一个字符不是空白，则回退到最后一个空白，避免截断单词
	next, _ := utf8.DecodeRuneInString(text[off:])
	if !unicode.IsSpace(next) {
		if j := strings.LastIndexFunc(head, unicode.IsSpace); j > 0 {
			head = head[:j]
		}
	}
	return strings.TrimRightFunc(head, unicode.IsSpace), n, true
}

// 静态接口断言
var _ contract.PromptBuilder = (*Builder)(nil)

const defaultUserTemplate = `{{if .Task}}{{.Task}}

{{end}}Rewrite the text between the <text> delimiters. Keep every fact, figure, citation and paragraph break.

{{.Text}}`

const defaultOutputRule = `Return ONLY the rewritten text. Do not add explanations, headings, metadata, code fences or the <text> delimiters.`
