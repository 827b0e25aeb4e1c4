// Package perturb 实现逐句概率性结构扰动（碎片句、大小写/标点噪声、过渡词、冗余复述、主语重复、被动化）。
// 随机源由调用方注入；相同种子得到相同输出。
package perturb

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"humanizer/internal/segment"
	"humanizer/pkg/contract"
)

// Source 为可注入的随机源；*rand.Rand 满足该接口。
type Source interface {
	Float64() float64
	IntN(n int) int
}

// NewSource 返回以 seed 初始化的 PCG 随机源。
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Kind 为变换种类。
type Kind string

const (
	Fragment         Kind = "fragment"
	LowercaseFirst   Kind = "lowercase_first"
	PunctSpacing     Kind = "punct_spacing"
	TransitionInsert Kind = "transition_insert"
	TransitionRemove Kind = "transition_remove"
	Redundancy       Kind = "redundancy"
	SubjectRepeat    Kind = "subject_repeat"
	Passive          Kind = "passive"
)

var defaultPhrases = map[Kind][]string{
	TransitionInsert: {"Still", "Of course", "In fact", "Admittedly", "To be fair", "Honestly"},
	TransitionRemove: {"Furthermore", "Moreover", "Additionally", "In addition", "Consequently", "Thus", "Hence", "Notably", "Overall"},
	Redundancy: {
		"That is, the {term} really matters here.",
		"Put simply, it comes back to the {term}.",
		"In other words, the {term} is the point.",
	},
}

// Transform 为编译后的单个变换。
type Transform struct {
	Kind     Kind
	P        float64
	MinWords int
	Phrases  []string
}

// Pass 为按声明顺序执行的变换列表。
type Pass struct {
	transforms []Transform
}

// New 校验并编译变换声明；未知种类或概率越界返回 ErrInvalidInput。
func New(specs []contract.TransformSpec) (*Pass, error) {
	p := &Pass{transforms: make([]Transform, 0, len(specs))}
	for i, s := range specs {
		k := Kind(strings.ToLower(strings.TrimSpace(s.Kind)))
		switch k {
		case Fragment, LowercaseFirst, PunctSpacing, TransitionInsert, TransitionRemove, Redundancy, SubjectRepeat, Passive:
		default:
			return nil, fmt.Errorf("perturb: %w: transform %d unknown kind %q", contract.ErrInvalidInput, i, s.Kind)
		}
		if s.P < 0 || s.P > 1 {
			return nil, fmt.Errorf("perturb: %w: transform %d p=%v out of [0,1]", contract.ErrInvalidInput, i, s.P)
		}
		phrases := make([]string, 0, len(s.Phrases))
		for _, ph := range s.Phrases {
			if ph = strings.TrimSpace(ph); ph != "" {
				phrases = append(phrases, ph)
			}
		}
		if len(phrases) == 0 {
			phrases = defaultPhrases[k]
		}
		if k == Redundancy {
			for _, ph := range phrases {
				if !strings.Contains(ph, "{term}") {
					return nil, fmt.Errorf("perturb: %w: redundancy phrase %q lacks {term}", contract.ErrInvalidInput, ph)
				}
			}
		}
		p.transforms = append(p.transforms, Transform{Kind: k, P: s.P, MinWords: s.MinWords, Phrases: phrases})
	}
	return p, nil
}

// Len 返回变换数。
func (p *Pass) Len() int {
	if p == nil {
		return 0
	}
	return len(p.transforms)
}

// Stats 记录各变换的命中次数。
type Stats map[Kind]int

// Apply 逐段、逐变换地处理句子序列；句子数可能变化，段落数不变。
func (p *Pass) Apply(doc segment.Document, src Source) (segment.Document, Stats) {
	st := Stats{}
	if p.Len() == 0 || src == nil {
		return doc, st
	}
	out := segment.Document{Paragraphs: make([]segment.Paragraph, 0, len(doc.Paragraphs))}
	for _, para := range doc.Paragraphs {
		sents := append([]segment.Sentence(nil), para.Sentences...)
		for _, tf := range p.transforms {
			sents = tf.apply(sents, src, st)
		}
		out.Paragraphs = append(out.Paragraphs, segment.Paragraph{Sentences: sents})
	}
	return out, st
}

func (tf Transform) apply(in []segment.Sentence, src Source, st Stats) []segment.Sentence {
	out := make([]segment.Sentence, 0, len(in)+2)
	for i, s := range in {
		var prev string
		if i > 0 {
			prev = in[i-1].Text
		}
		if s.Words() < tf.MinWords || !tf.applicable(s.Text, prev) || src.Float64() >= tf.P {
			out = append(out, s)
			continue
		}
		res := tf.effect(s.Text, prev, src)
		for _, r := range res {
			out = append(out, segment.Sentence{Text: r})
		}
		st[tf.Kind]++
	}
	return out
}

func (tf Transform) applicable(s, prev string) bool {
	switch tf.Kind {
	case Fragment:
		_, _, ok := fragmentCut(s)
		return ok
	case LowercaseFirst:
		return canLower(s)
	case PunctSpacing:
		return strings.Contains(s, ", ") || strings.Contains(s, "; ")
	case TransitionInsert:
		return leadingPhrase(s, tf.Phrases) == "" && firstWord(s) != ""
	case TransitionRemove:
		// 仅有过渡词的句子（如 "Moreover,"）删后为空，不变换
		lead := leadingPhrase(s, tf.Phrases)
		return lead != "" && strings.IndexFunc(s[len(lead):], isAlnum) >= 0
	case Redundancy:
		return LeadTerm(s) != ""
	case SubjectRepeat:
		return prev != "" && LeadTerm(prev) != "" && pronounSubject(s) != ""
	case Passive:
		return passiveSlot(s) >= 0
	}
	return false
}

func (tf Transform) effect(s, prev string, src Source) []string {
	switch tf.Kind {
	case Fragment:
		head, tail, _ := fragmentCut(s)
		return []string{head, tail}
	case LowercaseFirst:
		return []string{lowerFirst(s)}
	case PunctSpacing:
		i := strings.Index(s, ", ")
		if j := strings.Index(s, "; "); i < 0 || (j >= 0 && j < i) {
			i = j
		}
		return []string{s[:i+1] + s[i+2:]}
	case TransitionInsert:
		ph := tf.Phrases[src.IntN(len(tf.Phrases))]
		rest := s
		if canLower(s) {
			rest = lowerFirst(s)
		}
		return []string{ph + ", " + rest}
	case TransitionRemove:
		lead := leadingPhrase(s, tf.Phrases)
		rest := strings.TrimLeft(s[len(lead):], ", ")
		return []string{upperFirst(rest)}
	case Redundancy:
		ph := tf.Phrases[src.IntN(len(tf.Phrases))]
		return []string{s, strings.ReplaceAll(ph, "{term}", LeadTerm(s))}
	case SubjectRepeat:
		pro := pronounSubject(s)
		return []string{"The " + LeadTerm(prev) + s[len(pro):]}
	case Passive:
		ws := strings.Fields(s)
		k := passiveSlot(s)
		ws = append(ws[:k], append([]string{"was"}, ws[k:]...)...)
		return []string{strings.Join(ws, " ")}
	}
	return []string{s}
}
