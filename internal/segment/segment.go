// Package segment 将文本切分为段落与句子（启发式，不做完整 NLP 断句）。
//
// 句界：句末标点（. ! ?，可跟随右引号/右括号）之后为空白且下一个非空白字符为大写字母，或到达文本末尾。
// 缩写、小数、引语可能被误切，属于已知边界。
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentence 为段落内的一个句子片段。
type Sentence struct {
	Text string
}

// Words 返回以空白分隔的词数。
func (s Sentence) Words() int { return WordCount(s.Text) }

// Paragraph 为有序句子序列。
type Paragraph struct {
	Sentences []Sentence
}

// String 以单个空格拼接句子。
func (p Paragraph) String() string {
	parts := make([]string, 0, len(p.Sentences))
	for _, s := range p.Sentences {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Document 为有序段落序列；段落顺序端到端保持。
type Document struct {
	Paragraphs []Paragraph
}

// String 以一个空行拼接段落。
func (d Document) String() string {
	parts := make([]string, 0, len(d.Paragraphs))
	for _, p := range d.Paragraphs {
		if s := p.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// SentenceCount 返回全文句子数。
func (d Document) SentenceCount() int {
	n := 0
	for _, p := range d.Paragraphs {
		n += len(p.Sentences)
	}
	return n
}

// Parse 按空行（含仅空白行）切分段落，再逐段切分句子；空段落被忽略。
func Parse(text string) Document {
	var doc Document
	for _, block := range Paragraphs(text) {
		doc.Paragraphs = append(doc.Paragraphs, Paragraph{Sentences: Split(block)})
	}
	return doc
}

// Paragraphs 返回非空段落文本（段内换行折叠为空格）。
func Paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			flush()
			continue
		}
		cur = append(cur, t)
	}
	flush()
	return out
}

// Split 将单个段落切分为句子。
func Split(block string) []Sentence {
	block = strings.TrimSpace(block)
	if block == "" {
		return nil
	}
	var out []Sentence
	start := 0
	i := 0
	for i < len(block) {
		r, size := utf8.DecodeRuneInString(block[i:])
		if r != '.' && r != '!' && r != '?' {
			i += size
			continue
		}
		end := i + size
		// 吞掉连续终止符与右引号/右括号
		for end < len(block) {
			nr, ns := utf8.DecodeRuneInString(block[end:])
			if nr == '.' || nr == '!' || nr == '?' || isCloser(nr) {
				end += ns
				continue
			}
			break
		}
		if end >= len(block) {
			break
		}
		j := end
		for j < len(block) {
			nr, ns := utf8.DecodeRuneInString(block[j:])
			if !unicode.IsSpace(nr) {
				break
			}
			j += ns
		}
		if j == end || j >= len(block) {
			i = end
			continue
		}
		next, _ := utf8.DecodeRuneInString(block[j:])
		if isOpener(next) {
			if k := j + utf8.RuneLen(next); k < len(block) {
				next, _ = utf8.DecodeRuneInString(block[k:])
			}
		}
		if !unicode.IsUpper(next) {
			i = end
			continue
		}
		if s := strings.TrimSpace(block[start:end]); s != "" {
			out = append(out, Sentence{Text: s})
		}
		start = j
		i = j
	}
	if s := strings.TrimSpace(block[start:]); s != "" {
		out = append(out, Sentence{Text: s})
	}
	return out
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

func isOpener(r rune) bool {
	switch r {
	case '"', '\'', '(', '[', '“', '‘', '«':
		return true
	}
	return false
}

// WordCount 以空白分隔计数。
func WordCount(s string) int { return len(strings.Fields(s)) }
