package diag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// NowUTC 返回日志字段 ts 使用的 RFC3339 UTC 时间。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// LineWriter 为日志落地目标（按行写入）。
type LineWriter interface {
	WriteLine(b []byte) error
}

// Logger 为最小结构化日志器：单行 JSON；默认写入 logs/ 下的轮转文件。
// nil *Logger 可安全调用全部方法（no-op）。
type Logger struct {
	corrID string
	level  Level
	sink   LineWriter
	mu     sync.Mutex
}

// NewLogger 通过配置的 level 初始化，并将日志写入默认目录 logs/，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerAt(corrID, level, "logs")
}

// NewLoggerAt 同 NewLogger，但写入指定目录。
func NewLoggerAt(corrID, level, dir string) *Logger {
	return NewLoggerTo(corrID, level, NewRotatingFile(dir, 10*1024*1024))
}

// NewLoggerTo 写入任意 LineWriter；sink 为 nil 时回退到 stderr。
func NewLoggerTo(corrID, level string, sink LineWriter) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(strings.TrimSpace(level)), sink: sink}
}

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// CorrID 返回关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Event 为标准事件结构。
// Step 为流水线阶段名（如 "2:restructure"），与 Stage（start|finish|error|notice）区分。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"`
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	FileID string            `json:"file_id,omitempty"`
	Step   string            `json:"step,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(append(b, '\n'))
		return
	}
	if err := l.sink.WriteLine(b); err != nil {
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(append(b, '\n'))
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/step 的 start。
func (l *Logger) StartWith(comp, msg, fileID, step string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Step: step, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, step: step, t0: time.Now()}
}

// StartWithKV 记录带 file_id/step 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, step string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Step: step, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, step: step, t0: time.Now()}
}

// Warn 记录非致命提示（截断、阶段跳过、禁用短语残留等）。
func (l *Logger) Warn(comp, code, msg, fileID, step string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: "notice", Code: code, FileID: fileID, Step: step, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/step。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, step string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, step, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、尝试次数）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, step string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, Step: step, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, step string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Step: step, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	step   string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	t.FinishKV(msg, count, nil)
}

// FinishKV 同 Finish，附带键值。
func (t *Timer) FinishKV(msg string, count int64, kv map[string]string) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Step: t.step, Msg: msg, KV: kv})
}

// Elapsed 返回自 start 起的耗时；nil 计时器返回 0。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}
