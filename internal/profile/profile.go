// Package profile 加载阶段配置（一组有序的 StyleContract）。
// 内置 profile 随二进制嵌入；也可从 YAML 文件加载。
package profile

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"humanizer/pkg/contract"
)

// Default 为未指定 profile 时使用的内置名称。
const Default = "v6"

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Profile: 一次运行的完整阶段配置。
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	// Dedupe: 后处理是否去除重复句。
	Dedupe bool                     `yaml:"dedupe" json:"dedupe"`
	Stages []contract.StyleContract `yaml:"stages" json:"stages"`
}

// Builtins 返回内置 profile 名称（升序）。
func Builtins() []string {
	ents, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if n := e.Name(); strings.HasSuffix(n, ".yaml") {
			out = append(out, strings.TrimSuffix(n, ".yaml"))
		}
	}
	sort.Strings(out)
	return out
}

// Parse 解析 YAML（严格模式：未知字段报错）并校验。
func Parse(data []byte) (Profile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Profile{}, fmt.Errorf("profile: %w: empty document", contract.ErrInvalidInput)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("profile: %w: decode: %v", contract.ErrInvalidInput, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Load 按名称加载内置 profile；名称不是内置项时视为文件路径。
func Load(nameOrPath string) (Profile, error) {
	ref := strings.TrimSpace(nameOrPath)
	if ref == "" {
		ref = Default
	}
	if data, err := builtinFS.ReadFile(path.Join("builtin", ref+".yaml")); err == nil {
		return Parse(data)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, fmt.Errorf("profile: %w: %q is neither a built-in (%s) nor a readable file",
				contract.ErrInvalidInput, ref, strings.Join(Builtins(), ", "))
		}
		return Profile{}, fmt.Errorf("profile: read %s: %w", ref, err)
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", ref, err)
	}
	return p, nil
}

// Validate 校验 profile 及每个阶段；阶段名不得重复。
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile: %w: empty name", contract.ErrInvalidInput)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("profile %q: %w: no stages", p.Name, contract.ErrInvalidInput)
	}
	seen := make(map[string]int, len(p.Stages))
	for i, sc := range p.Stages {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("profile %q stage %d: %w", p.Name, i+1, err)
		}
		if j, dup := seen[sc.Name]; dup {
			return fmt.Errorf("profile %q: %w: stage %d duplicates name %q of stage %d", p.Name, contract.ErrInvalidInput, i+1, sc.Name, j+1)
		}
		seen[sc.Name] = i
	}
	return nil
}

// WithModel 返回副本：未声明模型的阶段使用 model。
func (p Profile) WithModel(model string) Profile {
	out := p
	out.Stages = contract.CloneStages(p.Stages)
	if model = strings.TrimSpace(model); model == "" {
		return out
	}
	for i := range out.Stages {
		if out.Stages[i].Model == "" {
			out.Stages[i].Model = model
		}
	}
	return out
}

// Fingerprint 对阶段配置做稳定摘要；任何影响输出的字段变化都会改变指纹。
func (p Profile) Fingerprint() string {
	return Fingerprint(p.Stages, p.Dedupe)
}

// Fingerprint 对任意阶段列表计算摘要（结构体按字段顺序序列化，结果稳定）。
func Fingerprint(stages []contract.StyleContract, dedupe bool) string {
	b, _ := json.Marshal(struct {
		Stages []contract.StyleContract `json:"stages"`
		Dedupe bool                     `json:"dedupe"`
	}{stages, dedupe})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
