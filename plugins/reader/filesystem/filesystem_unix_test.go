//go:build !windows

package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"syscall"
	"testing"

	"humanizer/pkg/contract"
)

// corpus 构造一个论文目录：正文、链接、管道、旧的人性化结果。
func corpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	drafts := filepath.Join(root, "drafts")
	must(os.Mkdir(drafts, 0o755))
	must(os.WriteFile(filepath.Join(root, "abstract.txt"), []byte("Abstract."), 0o644))
	must(os.WriteFile(filepath.Join(drafts, "intro.md"), []byte("Intro."), 0o644))
	must(os.WriteFile(filepath.Join(root, "abstract.humanized.txt"), []byte("old"), 0o644))
	must(os.WriteFile(filepath.Join(root, "abstract.humanized.run.json"), []byte("{}"), 0o644))
	must(os.Symlink(filepath.Join(root, "abstract.txt"), filepath.Join(root, "linked.txt")))
	must(os.Symlink(drafts, filepath.Join(root, "drafts_link")))
	must(syscall.Mkfifo(filepath.Join(root, "pipe.txt"), 0o644))
	return root
}

func collect(t *testing.T, r *FileSystem, roots ...string) ([]string, error) {
	t.Helper()
	var got []string
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		got = append(got, filepath.Base(string(id)))
		return rc.Close()
	})
	return got, err
}

// TestIterateCorpus 目录扫描跳过管道、目录链接与既有结果，跟随文件链接。
func TestIterateCorpus(t *testing.T) {
	root := corpus(t)
	got, err := collect(t, New(&Options{Extensions: []string{".txt", ".md"}}), root)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"intro.md", "abstract.txt", "linked.txt"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("期望 %v，得到 %v", want, got)
	}
}

// TestIterateExplicitRoots 显式给出的根：文件链接交付，目录链接与管道忽略，失效链接报错。
func TestIterateExplicitRoots(t *testing.T) {
	root := corpus(t)
	r := New(nil)
	got, err := collect(t, r, filepath.Join(root, "linked.txt"), filepath.Join(root, "drafts_link"), filepath.Join(root, "pipe.txt"))
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"linked.txt"}) {
		t.Fatalf("结果不符: %v", got)
	}
	dangling := filepath.Join(root, "gone.txt")
	if err := os.Symlink(filepath.Join(root, "missing.txt"), dangling); err != nil {
		t.Fatal(err)
	}
	if _, err := collect(t, r, dangling); err == nil {
		t.Fatalf("失效链接应报错")
	}
}
