// Package rebalance 按词数分带，并约束同一带的连续句子数不超过 MaxRun。
package rebalance

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"humanizer/internal/segment"
	"humanizer/pkg/contract"
)

// Band 为句长分带。
type Band string

const (
	Short  Band = "short"
	Medium Band = "medium"
	Long   Band = "long"
)

// Thresholds: short ≤ ShortMax，medium ≤ MediumMax，其余为 long。
type Thresholds struct {
	ShortMax  int
	MediumMax int
}

// DefaultThresholds 返回 12/20 的默认分带。
func DefaultThresholds() Thresholds { return Thresholds{ShortMax: 12, MediumMax: 20} }

// Classify 按词数分带。
func (t Thresholds) Classify(words int) Band {
	switch {
	case words <= t.ShortMax:
		return Short
	case words <= t.MediumMax:
		return Medium
	default:
		return Long
	}
}

// 中等句纠正策略。
const (
	MediumPass   = "pass"
	MediumSplit  = "split"
	MediumExtend = "extend"
)

// 无分句点时的策略。
const (
	NoSplitHard = "hard"
	NoSplitKeep = "keep"
)

var defaultClauses = []string{
	"which matters more than it first appears",
	"at least in the cases we looked at",
	"and that is worth keeping in mind",
	"though the picture is not always this clean",
}

// Rebalancer 执行单次从左到右的纠正；纠正产物不会在同一遍内再次纠正。
type Rebalancer struct {
	th      Thresholds
	maxRun  int
	medium  string
	noSplit string
	clauses []string
}

// New 根据契约配置构造 Rebalancer，零值字段取默认。
func New(r contract.RebalanceRules) (*Rebalancer, error) {
	th := DefaultThresholds()
	if r.ShortMax > 0 {
		th.ShortMax = r.ShortMax
	}
	if r.MediumMax > 0 {
		th.MediumMax = r.MediumMax
	}
	if th.MediumMax <= th.ShortMax {
		return nil, fmt.Errorf("rebalance: %w: medium_max(%d) must exceed short_max(%d)", contract.ErrInvalidInput, th.MediumMax, th.ShortMax)
	}
	maxRun := r.MaxRun
	if maxRun == 0 {
		maxRun = 2
	}
	if maxRun < 2 {
		return nil, fmt.Errorf("rebalance: %w: max_run must be >= 2", contract.ErrInvalidInput)
	}
	med := strings.ToLower(strings.TrimSpace(r.MediumPolicy))
	if med == "" {
		med = MediumPass
	}
	if med != MediumPass && med != MediumSplit && med != MediumExtend {
		return nil, fmt.Errorf("rebalance: %w: unknown medium_policy %q", contract.ErrInvalidInput, r.MediumPolicy)
	}
	ns := strings.ToLower(strings.TrimSpace(r.NoSplit))
	if ns == "" {
		ns = NoSplitHard
	}
	if ns != NoSplitHard && ns != NoSplitKeep {
		return nil, fmt.Errorf("rebalance: %w: unknown no_split %q", contract.ErrInvalidInput, r.NoSplit)
	}
	clauses := make([]string, 0, len(r.Clauses))
	for _, c := range r.Clauses {
		if c = strings.TrimSpace(c); c != "" {
			clauses = append(clauses, c)
		}
	}
	if len(clauses) == 0 {
		clauses = defaultClauses
	}
	return &Rebalancer{th: th, maxRun: maxRun, medium: med, noSplit: ns, clauses: clauses}, nil
}

// Thresholds 返回生效的分带阈值。
func (rb *Rebalancer) Thresholds() Thresholds { return rb.th }

// Stats 记录一次纠正的计数。
type Stats struct {
	Extended int
	Split    int
	Kept     int
}

// Apply 对整篇文档执行纠正；同带计数跨段落延续，段落归属与顺序保持不变。
func (rb *Rebalancer) Apply(doc segment.Document) (segment.Document, Stats) {
	var st Stats
	out := segment.Document{Paragraphs: make([]segment.Paragraph, 0, len(doc.Paragraphs))}
	var last Band
	run := 0
	rot := 0
	push := func(dst *[]segment.Sentence, s segment.Sentence) {
		b := rb.th.Classify(s.Words())
		if b == last {
			run++
		} else {
			last, run = b, 1
		}
		*dst = append(*dst, s)
	}
	for _, p := range doc.Paragraphs {
		sents := make([]segment.Sentence, 0, len(p.Sentences))
		for _, s := range p.Sentences {
			b := rb.th.Classify(s.Words())
			if b != last || run < rb.maxRun {
				push(&sents, s)
				continue
			}
			switch b {
			case Short:
				push(&sents, rb.extend(s, rb.th.ShortMax, &rot))
				st.Extended++
			case Long:
				pieces, ok := rb.split(s, rb.th.MediumMax)
				if !ok {
					sents = append(sents, s)
					last, run = b, 0
					st.Kept++
					continue
				}
				for _, piece := range pieces {
					push(&sents, piece)
				}
				st.Split++
			case Medium:
				switch rb.medium {
				case MediumSplit:
					pieces, ok := rb.split(s, rb.th.ShortMax)
					if !ok {
						sents = append(sents, s)
						last, run = b, 0
						st.Kept++
						continue
					}
					for _, piece := range pieces {
						push(&sents, piece)
					}
					st.Split++
				case MediumExtend:
					push(&sents, rb.extend(s, rb.th.MediumMax, &rot))
					st.Extended++
				default:
					push(&sents, s)
				}
			}
		}
		out.Paragraphs = append(out.Paragraphs, segment.Paragraph{Sentences: sents})
	}
	return out, st
}

// extend 轮转追加从句，直到词数超过 limit。
func (rb *Rebalancer) extend(s segment.Sentence, limit int, rot *int) segment.Sentence {
	body, term := splitTerminal(s.Text)
	words := segment.WordCount(body)
	var b strings.Builder
	b.WriteString(body)
	for words <= limit {
		c := rb.clauses[*rot%len(rb.clauses)]
		*rot++
		b.WriteString(", ")
		b.WriteString(c)
		words += segment.WordCount(c)
	}
	b.WriteString(term)
	return segment.Sentence{Text: b.String()}
}

var separators = []string{",", ";", " but ", " and "}

// split 在分句点处一分为二，使首段词数 ≤ limit。
// 多个候选时取首段最长者；没有候选时按 noSplit 策略处理。
func (rb *Rebalancer) split(s segment.Sentence, limit int) ([]segment.Sentence, bool) {
	body, term := splitTerminal(s.Text)
	best, bestWords, bestSep := -1, 0, ""
	for _, sep := range separators {
		from := 0
		for {
			k := strings.Index(body[from:], sep)
			if k < 0 {
				break
			}
			pos := from + k
			from = pos + len(sep)
			head := body[:pos]
			tail := body[pos+len(sep):]
			hw, tw := segment.WordCount(head), segment.WordCount(tail)
			if hw == 0 || tw == 0 || hw > limit {
				continue
			}
			if hw > bestWords {
				best, bestWords, bestSep = pos, hw, sep
			}
		}
	}
	if best >= 0 {
		head := strings.TrimSpace(body[:best])
		tail := strings.TrimSpace(body[best+len(bestSep):])
		if w := strings.TrimSpace(bestSep); w == "but" || w == "and" {
			tail = w + " " + tail
		}
		return []segment.Sentence{{Text: closeSentence(head)}, {Text: capitalize(tail) + term}}, true
	}
	if rb.noSplit == NoSplitKeep {
		return nil, false
	}
	words := strings.Fields(body)
	if len(words) < 2 {
		return nil, false
	}
	k := len(words) / 2
	if k > limit {
		k = limit
	}
	head := strings.Join(words[:k], " ")
	tail := strings.Join(words[k:], " ")
	return []segment.Sentence{{Text: closeSentence(head)}, {Text: capitalize(tail) + term}}, true
}

// splitTerminal 拆出末尾的终止标点（含右引号）。
func splitTerminal(s string) (body, term string) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if r == '.' || r == '!' || r == '?' || r == '"' || r == '\'' || r == ')' || r == '”' {
			i -= size
			continue
		}
		break
	}
	return s[:i], s[i:]
}

func closeSentence(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ",;:")
	return s + "."
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Bands 返回文档中所有句子的分带序列（跨段落展平）。
func (t Thresholds) Bands(doc segment.Document) []Band {
	var out []Band
	for _, p := range doc.Paragraphs {
		for _, s := range p.Sentences {
			out = append(out, t.Classify(s.Words()))
		}
	}
	return out
}

// LongestRun 返回同带最长连续长度及其分带。
func LongestRun(bands []Band) (Band, int) {
	var best Band
	longest, cur := 0, 0
	for i, b := range bands {
		if i > 0 && bands[i-1] == b {
			cur++
		} else {
			cur = 1
		}
		if cur > longest {
			best, longest = b, cur
		}
	}
	return best, longest
}
