// Package postprocess 对最终文本做换行归一与可选的整句去重；对自身输出幂等。
package postprocess

import (
	"regexp"
	"strings"

	"humanizer/internal/segment"
)

// Options 控制后处理行为。
type Options struct {
	// Dedupe: 删除与先前句子在小写化、空白归一后完全相同的句子。
	Dedupe bool `json:"dedupe" yaml:"dedupe"`
}

var (
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// Process 依次执行：CRLF→LF、去行尾空白、3+ 换行折叠为 2、可选去重、整体去首尾空白。
func Process(text string, opts Options) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	if opts.Dedupe {
		text = dedupe(text)
	}
	return strings.TrimSpace(text)
}

// dedupe 以段落为单位重组文本；仅在确有重复时改写，避免无谓的格式变化。
func dedupe(text string) string {
	blocks := strings.Split(text, "\n\n")
	seen := make(map[string]struct{})
	changed := false
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		sents := segment.Split(b)
		kept := make([]string, 0, len(sents))
		for _, s := range sents {
			k := key(s.Text)
			if _, dup := seen[k]; dup {
				changed = true
				continue
			}
			seen[k] = struct{}{}
			kept = append(kept, s.Text)
		}
		if len(kept) == 0 {
			if len(sents) > 0 {
				continue
			}
			out = append(out, b)
			continue
		}
		if len(kept) == len(sents) {
			out = append(out, b)
			continue
		}
		out = append(out, strings.Join(kept, " "))
	}
	if !changed {
		return text
	}
	return strings.Join(out, "\n\n")
}

func key(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
