// Package filesystem 将人性化结果与运行报告写入输出目录，或以流的形式写到 STDOUT。
package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"humanizer/pkg/contract"
)

// Options 为输出目录 Writer 的配置。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 同目录临时文件 + rename；nil 为 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 只保留输入文件名；nil 为 true。
	// 不同目录下的同名输入依次改名为 name-2、name-3…，结果与报告保持同名。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 0 时取 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲大小；<=0 为 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 为输出目录 Writer；可被批量运行的多个 goroutine 共享。
type FS struct {
	root    string
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int

	mu sync.Mutex
	// 扁平模式下：输入主干 → 输出名，输出名 → 输入主干
	names map[string]string
	owner map[string]string
}

// New 创建输出目录 Writer；OutputDir 为空时返回 ErrInvalidInput。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, contract.ErrInvalidInput
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  opts.Atomic == nil || *opts.Atomic,
		flat:    opts.Flat == nil || *opts.Flat,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
		names:   make(map[string]string),
		owner:   make(map[string]string),
	}
	if w.permF == 0 {
		w.permF = 0o644
	}
	if w.permD == 0 {
		w.permD = 0o755
	}
	if w.bufSize <= 0 {
		w.bufSize = 64 * 1024
	}
	return w, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入 id 对应的输出路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeOverwrite(ctx, dest, r)
}

func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	if w.flat {
		name, err := w.flatName(id)
		if err != nil {
			return "", err
		}
		return filepath.Join(w.root, name), nil
	}
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if rel == "." || rel == ".." || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

// flatName 为同一输入的结果与报告分配同一基名，不同输入的基名互不覆盖。
func (w *FS) flatName(id contract.ArtifactID) (string, error) {
	stem, suffix := contract.SplitArtifact(id)
	stem = path.Clean(strings.ReplaceAll(stem, "\\", "/"))
	base := path.Base(stem)
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", contract.ErrPathInvalid
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if name, ok := w.names[stem]; ok {
		return name + suffix, nil
	}
	name := base
	for n := 2; ; n++ {
		if prev, taken := w.owner[name]; !taken || prev == stem {
			break
		}
		name = base + "-" + strconv.Itoa(n)
	}
	w.names[stem] = name
	w.owner[name] = stem
	return name + suffix, nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err = io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// os.Rename 在 Windows 上同样覆盖已存在的目标
	if err = os.Rename(tmpPath, dest); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir 尽力持久化目录项；Windows 不支持对目录 fsync。
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	if f, err := os.Open(dir); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
}

func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

// ctxReader 在每次 Read 前检查取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
