package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"humanizer/pkg/contract"
)

// 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	if err := w.WriteLine([]byte("first line that is very long")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := w.WriteLine([]byte("second")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
	_ = w.Close()
}

// 当前文件与时间戳文件存在；keep 限制历史数量
func TestRotatingFileKeep(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFileKeep(dir, 10, 2)
	for i := 0; i < 6; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	defer w.Close()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	current, rotated := 0, 0
	for _, e := range ents {
		switch {
		case e.Name() == "humanize-current.txt":
			current++
		case strings.HasPrefix(e.Name(), "humanize-") && strings.HasSuffix(e.Name(), ".txt"):
			rotated++
		}
	}
	if current != 1 || rotated != 2 {
		t.Fatalf("expect 1 current + 2 rotated, got %d/%d", current, rotated)
	}
}

// rotate 在 f==nil 时直接打开
func TestRotatingFileRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	if err := w.rotate(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Fatalf("current 应存在: %v", err)
	}
	_ = w.Close()
}

func TestMetrics(t *testing.T) {
	ResetMetrics()
	IncOp("invoke", "stage", "success")
	IncOp("invoke", "stage", "success")
	IncError("invoke", string(CodeNetwork))
	ObserveDuration("invoke", "stage", 5)
	ObserveDuration("invoke", "stage", 7)
	s := Snapshot()
	if s.Ops["invoke/stage/success"] != 2 || s.Errors["invoke/network"] != 1 || s.DurationMS["invoke/stage"] != 12 {
		t.Fatalf("指标错误: %+v", s)
	}
	keys := s.Keys()
	if len(keys) != 3 || keys[0] != "invoke/network" {
		t.Fatalf("键排序错误: %v", keys)
	}
	// 快照为拷贝
	s.Ops["invoke/stage/success"] = 100
	if Snapshot().Ops["invoke/stage/success"] != 2 {
		t.Fatalf("快照应与内部状态隔离")
	}
	ResetMetrics()
	if len(Snapshot().Ops) != 0 {
		t.Fatalf("重置失败")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{contract.ErrResponseInvalid, CodeProtocol},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{contract.ErrBudgetExceeded, CodeBudget},
		{contract.ErrRateLimited, CodeRateLimit},
		{contract.NewServiceError("openai", 3, contract.ErrRateLimited), CodeRateLimit},
		{fmt.Errorf("stage 2: %w", contract.ErrPathInvalid), CodeInvariant},
		{contract.ErrInvalidInput, CodeInvariant},
		{errors.New("other"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v)=%s want %s", tc.err, got, tc.want)
		}
	}
}

func TestTransient(t *testing.T) {
	if !Transient(contract.ErrRateLimited) || !Transient(&net.DNSError{Err: "x"}) {
		t.Fatalf("限流/网络应可重试")
	}
	for _, err := range []error{contract.ErrInvalidInput, contract.ErrResponseInvalid, context.Canceled, contract.ErrBudgetExceeded, nil} {
		if Transient(err) {
			t.Fatalf("%v 不应重试", err)
		}
	}
}

type memSink struct{ lines [][]byte }

func (m *memSink) WriteLine(b []byte) error {
	m.lines = append(m.lines, append([]byte(nil), b...))
	return nil
}

// Logger 事件字段与级别过滤
func TestLoggerEvents(t *testing.T) {
	sink := &memSink{}
	l := NewLoggerTo("corr", "info", sink)
	timer := l.StartWith("invoke", "begin", "doc.txt", "1:polish")
	timer.FinishKV("ok", 2, map[string]string{"attempts": "1"})
	l.Warn("pipeline", "truncated", "cut", "doc.txt", "1:polish", nil)
	l.ErrorWithKV("invoke", "network", "boom", nil, "doc.txt", "1:polish", map[string]string{"http_status": "503"})
	l.DebugStart("invoke", "filtered", "", "", nil)

	if len(sink.lines) != 4 {
		t.Fatalf("应写出 4 行（debug 被过滤）, got %d", len(sink.lines))
	}
	var ev Event
	if err := json.Unmarshal(sink.lines[1], &ev); err != nil {
		t.Fatalf("json: %v", err)
	}
	if ev.Level != "info" || ev.Stage != "finish" || ev.Step != "1:polish" || ev.FileID != "doc.txt" || ev.CorrID != "corr" || ev.Count != 2 || ev.KV["attempts"] != "1" {
		t.Fatalf("finish 事件错误: %+v", ev)
	}
	_ = json.Unmarshal(sink.lines[2], &ev)
	if ev.Level != "warn" || ev.Stage != "notice" || ev.Code != "truncated" {
		t.Fatalf("notice 事件错误: %+v", ev)
	}
	_ = json.Unmarshal(sink.lines[3], &ev)
	if ev.Level != "error" || ev.KV["http_status"] != "503" {
		t.Fatalf("error 事件错误: %+v", ev)
	}
}

// nil Logger / Timer 安全
func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	timer := l.Start("comp", "msg")
	timer.Finish("ok", 1)
	l.Warn("c", "k", "m", "", "", nil)
	l.Error("c", "k", "m", nil)
	l.InfoFinish("c", "m", time.Now(), 0)
	if l.CorrID() != "" {
		t.Fatalf("nil logger corr id 应为空")
	}
	var tn *Timer
	tn.Finish("x", 0)
	if tn.Elapsed() != 0 {
		t.Fatalf("nil timer elapsed 应为 0")
	}
	(&Timer{}).Finish("x", 0)
}

// 文件 sink 路径
func TestLoggerAtDir(t *testing.T) {
	dir := t.TempDir()
	l := NewLoggerAt("corr", "info", dir)
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	b, err := os.ReadFile(filepath.Join(dir, "humanize-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	if !strings.Contains(string(b), `"code":"code"`) {
		t.Fatalf("日志内容错误: %s", b)
	}
}

func TestLevels(t *testing.T) {
	if Warn.String() != "warn" || Debug.String() != "debug" {
		t.Fatalf("level string")
	}
	var unknown Level = 12345
	if unknown.String() != "info" {
		t.Fatalf("default string")
	}
	for in, want := range map[string]Level{"debug": Debug, "WARN": Warn, "error": Error, "": Info, "x": Info} {
		if parseLevel(in) != want {
			t.Fatalf("parseLevel(%q)", in)
		}
	}
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(4, "openai", "v6")
	term.FileStart("docs/essay.txt", 2)
	term.StageProgress(1, 2, "simplify") // 非 TTY：不输出进度
	term.Notice("docs/essay.txt", contract.Notice{Kind: contract.NoticeTruncated, Stage: 1, Message: "input exceeds 10000 characters"})
	term.FileFinish("docs/essay.txt", true, false, 5100*time.Millisecond)
	term.FileFinish("docs/other.txt", true, true, 10*time.Millisecond)
	term.FileFinish("docs/bad.txt", false, false, time.Second)
	term.RunFinish(false, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") || strings.Contains(out, "\x1b[") {
		t.Fatalf("non-tty 不应包含回车或 ANSI 序列: %q", out)
	}
	for _, want := range []string{
		"[run] 并发=4 | llm=openai | profile=v6",
		"[file] essay.txt | 阶段=2",
		"[warn] essay.txt#1 | truncated: input exceeds 10000 characters",
		"[done] essay.txt | 总用时 5.1s",
		"[cached] other.txt | 总用时 10ms",
		"[fail] bad.txt | 总用时 1.0s",
		"[fail] 全部完成 | 文件 3 | 失败 1 | 总用时 41.3s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("缺少 %q:\n%s", want, out)
		}
	}
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "mock", "academic-4stage")
	term.FileStart("/a/b/c/longfilename.txt", 4)

	term.StageProgress(1, 4, "simplify")
	first := sb.String()
	if !strings.Contains(first, "\r[") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	term.StageProgress(2, 4, "restructure")
	if sb.String() != first {
		t.Fatalf("second progress should be throttled")
	}
	time.Sleep(120 * time.Millisecond)
	term.StageProgress(2, 4, "restructure")
	third := sb.String()
	if len(third) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.FileFinish("/a/b/c/longfilename.txt", false, false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	if idx < 0 {
		t.Fatalf("finish should include fail line: %q", final)
	}
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	if cr < 0 || !strings.Contains(seg[cr+1:], " ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

// 写失败降级为禁用态
type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart(1, "x", "p")
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.FileStart("a", 0)
	term.StageProgress(0, 0, "")
	term.Notice("a", contract.Notice{})
	term.FileFinish("a", true, false, 0)
	term.RunFinish(true, 0)
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x", "p")
	tn.FileStart("a", 1)
	tn.StageProgress(0, 0, "")
	tn.Notice("a", contract.Notice{})
	tn.FileFinish("a", true, false, 0)
	tn.RunFinish(true, 0)
}

func TestHelpers(t *testing.T) {
	if got := shortenBase("/x/y/averyveryverylongfilename.txt", 10); got != "averyvery…" {
		t.Fatalf("shortenBase: %q", got)
	}
	if shortenBase("x", 0) != "" {
		t.Fatalf("shortenBase width<=0 should be empty")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" || formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur failed")
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	SetTerminal(NewTerminal(os.Stderr, false))
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
	SetTerminal(nil)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	var sb strings.Builder
	if NewTerminal(&sb, true).isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}
