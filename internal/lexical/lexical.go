// Package lexical 实现词汇降级替换：整词、大小写不敏感、按声明顺序依次应用。
package lexical

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"humanizer/pkg/contract"
)

// Simplifier 为编译后的有序替换表；并发安全（只读）。
type Simplifier struct {
	rules []rule
}

type rule struct {
	re *regexp.Regexp
	to string
	// 词项首/尾为单词字符时，命中处前/后一个 rune 不得为单词字符
	front, back bool
}

// New 编译替换表。词项或替换词为空、含换行或无法编译时返回 ErrInvalidInput。
func New(subs []contract.Substitution) (*Simplifier, error) {
	s := &Simplifier{rules: make([]rule, 0, len(subs))}
	for i, sub := range subs {
		from := strings.TrimSpace(sub.From)
		if from == "" {
			return nil, fmt.Errorf("lexical: %w: entry %d empty term", contract.ErrInvalidInput, i)
		}
		if strings.TrimSpace(sub.To) == "" {
			return nil, fmt.Errorf("lexical: %w: entry %d empty replacement", contract.ErrInvalidInput, i)
		}
		if strings.ContainsAny(sub.From, "\r\n") || strings.ContainsAny(sub.To, "\r\n") {
			return nil, fmt.Errorf("lexical: %w: entry %d contains line break", contract.ErrInvalidInput, i)
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
		if err != nil {
			return nil, fmt.Errorf("lexical: %w: entry %d: %v", contract.ErrInvalidInput, i, err)
		}
		first, _ := utf8.DecodeRuneInString(from)
		last, _ := utf8.DecodeLastRuneInString(from)
		s.rules = append(s.rules, rule{re: re, to: sub.To, front: isWordRune(first), back: isWordRune(last)})
	}
	return s, nil
}

// isWordRune 按 Unicode 判定单词字符（含非 ASCII 字母），RE2 的 \b 只认 ASCII。
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// replace 逐个查找命中并校验两侧边界；被拒的命中从其后一个 rune 继续查找。
func (r rule) replace(text string) string {
	var b strings.Builder
	pos, done := 0, 0
	for pos <= len(text) {
		loc := r.re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if r.bounded(text, start, end) {
			b.WriteString(text[done:start])
			b.WriteString(matchCase(text[start:end], r.to))
			done, pos = end, end
			if end == start {
				pos++
			}
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		if size == 0 {
			break
		}
		pos = start + size
	}
	if done == 0 {
		return text
	}
	b.WriteString(text[done:])
	return b.String()
}

func (r rule) bounded(text string, start, end int) bool {
	if r.front && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(prev) {
			return false
		}
	}
	if r.back && end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(next) {
			return false
		}
	}
	return true
}

// Apply 依次应用每条替换；未命中文本原样保留。
// 命中文本首字母大写而替换词首字母小写时，替换词首字母随之大写。
func (s *Simplifier) Apply(text string) string {
	if s == nil {
		return text
	}
	for _, r := range s.rules {
		text = r.replace(text)
	}
	return text
}

// Len 返回规则条数。
func (s *Simplifier) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

func matchCase(matched, repl string) string {
	if repl == "" {
		return repl
	}
	m, _ := utf8.DecodeRuneInString(matched)
	r, size := utf8.DecodeRuneInString(repl)
	if unicode.IsUpper(m) && unicode.IsLower(r) {
		return string(unicode.ToUpper(r)) + repl[size:]
	}
	return repl
}

// Simplify 为一次性调用的便捷封装。
func Simplify(text string, subs []contract.Substitution) (string, error) {
	s, err := New(subs)
	if err != nil {
		return "", err
	}
	return s.Apply(text), nil
}
