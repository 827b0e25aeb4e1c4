package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// 结果与运行报告工件的固定后缀。
const (
	ArtifactSuffix = ".humanized.txt"
	ReportSuffix   = ".humanized.run.json"
)

// ArtifactName 将输入标识映射为结果工件名：去扩展名后追加 ArtifactSuffix。
func ArtifactName(id FileID) ArtifactID {
	return ArtifactID(stem(id) + ArtifactSuffix)
}

// ReportName 返回同一输入的运行报告工件名。
func ReportName(id FileID) ArtifactID {
	return ArtifactID(stem(id) + ReportSuffix)
}

func stem(id FileID) string {
	s := string(id)
	if ext := path.Ext(s); ext != "" {
		s = strings.TrimSuffix(s, ext)
	}
	return s
}

// SplitArtifact 将工件名拆为输入主干与后缀；非结果/报告工件返回 (id, "")。
func SplitArtifact(id ArtifactID) (stem, suffix string) {
	s := string(id)
	for _, suf := range []string{ReportSuffix, ArtifactSuffix} {
		if strings.HasSuffix(s, suf) && len(s) > len(suf) {
			return strings.TrimSuffix(s, suf), suf
		}
	}
	return s, ""
}
