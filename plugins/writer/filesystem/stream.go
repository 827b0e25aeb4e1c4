package filesystem

import (
	"bytes"
	"context"
	"io"
	"sync"

	"humanizer/pkg/contract"
)

// Stream 将结果文本依次写到同一个 io.Writer（典型为 STDOUT）。
// 运行报告被丢弃；多个非空结果之间以空行分隔，保持段落边界。
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	written bool
}

// NewStream 创建流式 Writer。
func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

var _ contract.Writer = (*Stream)(nil)

// Write 串行写出；并发调用按到达顺序排队。
func (s *Stream) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, suf := contract.SplitArtifact(id); suf == contract.ReportSuffix {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	body, err := io.ReadAll(readerWithCtx(ctx, r))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if body[len(body)-1] != '\n' {
		body = append(body, '\n')
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		if _, err := io.WriteString(s.w, "\n"); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(body); err != nil {
		return err
	}
	s.written = true
	return nil
}
