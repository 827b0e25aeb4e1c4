package contract

import (
	"fmt"
	"strings"
)

// Substitution: 词汇替换项（正式词 → 平实词），按声明顺序依次应用。
type Substitution struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Budget: 输出 token 线性估算参数：clamp(words×Ratio+Buffer, Floor, Ceiling)。
type Budget struct {
	Ratio   float64 `yaml:"ratio" json:"ratio"`
	Buffer  int     `yaml:"buffer" json:"buffer"`
	Ceiling int     `yaml:"ceiling" json:"ceiling"`
	Floor   int     `yaml:"floor" json:"floor"`
}

// RebalanceRules: 句长分带与连续同带纠正的配置。
type RebalanceRules struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	ShortMax  int  `yaml:"short_max" json:"short_max"`
	MediumMax int  `yaml:"medium_max" json:"medium_max"`
	MaxRun    int  `yaml:"max_run" json:"max_run"`
	// MediumPolicy: pass|split|extend；空为 pass。
	MediumPolicy string `yaml:"medium_policy" json:"medium_policy"`
	// NoSplit: 找不到分句点时的策略 hard|keep；空为 hard。
	NoSplit string `yaml:"no_split" json:"no_split"`
	// Clauses: 短句延长所用的从句模板（轮转使用）。
	Clauses []string `yaml:"clauses" json:"clauses,omitempty"`
}

// TransformSpec: 单个结构扰动变换的声明。
type TransformSpec struct {
	Kind     string   `yaml:"kind" json:"kind"`
	P        float64  `yaml:"p" json:"p"`
	MinWords int      `yaml:"min_words" json:"min_words"`
	Phrases  []string `yaml:"phrases" json:"phrases,omitempty"`
}

// StyleContract: 单阶段的不可变配置包。
// 构造后不得修改；需要派生时先 Clone。
type StyleContract struct {
	Name  string `yaml:"name" json:"name"`
	Model string `yaml:"model" json:"model,omitempty"`

	// system 契约
	Persona       string   `yaml:"persona" json:"persona"`
	Required      []string `yaml:"required" json:"required,omitempty"`
	BannedPhrases []string `yaml:"banned_phrases" json:"banned_phrases,omitempty"`

	// user 载荷模板（text/template）；空则使用内置模板。
	UserTemplate string `yaml:"user_template" json:"user_template,omitempty"`
	Task         string `yaml:"task" json:"task,omitempty"`

	Temperature float64 `yaml:"temperature" json:"temperature"`
	// MaxOutputTokens>0 时为固定预算，否则按 Budget 估算。
	MaxOutputTokens int    `yaml:"max_output_tokens" json:"max_output_tokens,omitempty"`
	Budget          Budget `yaml:"budget" json:"budget"`
	// MaxInputChars: 输入字符（rune）上限；<=0 表示不限。
	MaxInputChars int `yaml:"max_input_chars" json:"max_input_chars,omitempty"`

	// 本地确定性/概率性预处理
	Substitutions []Substitution  `yaml:"substitutions" json:"substitutions,omitempty"`
	Rebalance     RebalanceRules  `yaml:"rebalance" json:"rebalance"`
	Perturb       []TransformSpec `yaml:"perturb" json:"perturb,omitempty"`

	// Optional: 失败时跳过本阶段并透传输入。
	Optional bool `yaml:"optional" json:"optional,omitempty"`
}

// Validate 对单阶段契约做静态校验。
func (sc StyleContract) Validate() error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("style contract: %w: empty name", ErrInvalidInput)
	}
	if sc.Temperature < 0 || sc.Temperature > 1 {
		return fmt.Errorf("style contract %q: %w: temperature %.2f out of [0,1]", sc.Name, ErrInvalidInput, sc.Temperature)
	}
	if sc.MaxOutputTokens < 0 {
		return fmt.Errorf("style contract %q: %w: max_output_tokens < 0", sc.Name, ErrInvalidInput)
	}
	if sc.MaxOutputTokens == 0 {
		b := sc.Budget
		if b.Ratio <= 0 || b.Ceiling <= 0 {
			return fmt.Errorf("style contract %q: %w: budget needs ratio>0 and ceiling>0", sc.Name, ErrInvalidInput)
		}
		if b.Floor < 0 || b.Buffer < 0 || b.Floor > b.Ceiling {
			return fmt.Errorf("style contract %q: %w: budget floor/buffer out of range", sc.Name, ErrInvalidInput)
		}
	}
	for i, s := range sc.Substitutions {
		if strings.TrimSpace(s.From) == "" {
			return fmt.Errorf("style contract %q: %w: substitution[%d] empty term", sc.Name, ErrInvalidInput, i)
		}
		if strings.TrimSpace(s.To) == "" {
			return fmt.Errorf("style contract %q: %w: substitution[%d] empty replacement", sc.Name, ErrInvalidInput, i)
		}
		if strings.ContainsAny(s.From, "\r\n") || strings.ContainsAny(s.To, "\r\n") {
			return fmt.Errorf("style contract %q: %w: substitution[%d] contains line break", sc.Name, ErrInvalidInput, i)
		}
	}
	for i, t := range sc.Perturb {
		if t.P < 0 || t.P > 1 {
			return fmt.Errorf("style contract %q: %w: perturb[%d] p out of [0,1]", sc.Name, ErrInvalidInput, i)
		}
	}
	return nil
}

// Clone 深拷贝，切片互不共享。
func (sc StyleContract) Clone() StyleContract {
	out := sc
	out.Required = cloneStrings(sc.Required)
	out.BannedPhrases = cloneStrings(sc.BannedPhrases)
	if sc.Substitutions != nil {
		out.Substitutions = append([]Substitution(nil), sc.Substitutions...)
	}
	out.Rebalance.Clauses = cloneStrings(sc.Rebalance.Clauses)
	if sc.Perturb != nil {
		out.Perturb = make([]TransformSpec, len(sc.Perturb))
		for i, t := range sc.Perturb {
			t.Phrases = cloneStrings(t.Phrases)
			out.Perturb[i] = t
		}
	}
	return out
}

// CloneStages 深拷贝阶段列表。
func CloneStages(in []StyleContract) []StyleContract {
	if in == nil {
		return nil
	}
	out := make([]StyleContract, len(in))
	for i, sc := range in {
		out[i] = sc.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
