package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// NoticeKind: 非致命提示的分类。
type NoticeKind string

const (
	// NoticeTruncated: 输入超过字符上限，尾部被确定性截断。
	NoticeTruncated NoticeKind = "truncated"
	// NoticeStageSkipped: 可选阶段失败，输入原样透传到下一阶段。
	NoticeStageSkipped NoticeKind = "stage_skipped"
	// NoticeBannedPhrase: 阶段输出仍含禁用短语（仅提示，不重写）。
	NoticeBannedPhrase NoticeKind = "banned_phrase"
)

// Notice: 运行期提示，调用方据此向终端用户告警；不影响运行结果。
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Stage   int        `json:"stage,omitempty"`
	Message string     `json:"message"`
	// 截断时的原始/保留字符数（rune 计）。
	Original int `json:"original,omitempty"`
	Kept     int `json:"kept,omitempty"`
}
