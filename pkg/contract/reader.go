package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录/STDIN）。
// 约束：
// 1) 按文档维度回调，yield 返回前 rc 由调用方关闭；
// 2) FileID 稳定且去平台差异化；
// 3) 只交付纯文本（PDF 等容器格式在 Reader 内完成抽取）；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
