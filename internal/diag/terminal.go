package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"humanizer/pkg/contract"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr），标签经 lipgloss 着色；非终端写入时自动降级为纯文本。
// - TTY: 进度单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool
	st      styles

	concurrency int
	llm         string
	filesDone   int
	filesFailed int
	runStart    time.Time

	// 当前文件（并发时为最近开始的文件）
	curFileID   string
	stagesTotal int
	stagesDone  int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

type styles struct {
	run, ok, fail, warn, cached, dim lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		run:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		ok:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#3FB950")),
		fail:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#E3B341")),
		cached: r.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// 进程级终端（可选，全局设置后供 pipeline 旁路调用）。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled, st: newStyles(lipgloss.NewRenderer(w))}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（并发、LLM、配置档）。
func (t *Terminal) RunStart(concurrency int, llm, profile string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.llm = llm
	t.filesDone = 0
	t.filesFailed = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("%s 并发=%d | llm=%s | profile=%s", t.st.run.Render("[run]"), concurrency, safe(llm), safe(profile)))
}

// FileStart: 标记当前文件与阶段数。
func (t *Terminal) FileStart(fileID string, stagesTotal int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curFileID = shortenBase(fileID, 48)
	t.stagesTotal = stagesTotal
	t.stagesDone = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | 阶段=%d", t.curFileID, stagesTotal))
	}
}

// StageProgress: 阶段进度（仅 TTY，≥100ms 节流）。
func (t *Terminal) StageProgress(done, total int, stage string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.stagesDone = done
	t.stagesTotal = total
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	line := fmt.Sprintf("[file] %s | 阶段 %d/%d %s | 并发 %d | 用时 %s",
		t.curFileID, t.stagesDone, t.stagesTotal, safe(stage), t.concurrency, formatSince(t.runStart))
	t.printInline(line)
}

// Notice: 非致命提示（截断/跳过/禁用短语），TTY 与非 TTY 均换行输出。
func (t *Terminal) Notice(fileID string, n contract.Notice) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	where := shortenBase(fileID, 48)
	if n.Stage > 0 {
		where = fmt.Sprintf("%s#%d", where, n.Stage)
	}
	t.println(fmt.Sprintf("%s %s | %s: %s", t.st.warn.Render("[warn]"), where, n.Kind, safe(n.Message)))
}

// FileFinish: 完成一个文件（立即刷新并换行）。
func (t *Terminal) FileFinish(fileID string, ok, cached bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	tag := t.st.ok.Render("[done]")
	switch {
	case !ok:
		t.filesFailed++
		tag = t.st.fail.Render("[fail]")
	case cached:
		tag = t.st.cached.Render("[cached]")
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 总用时 %s", tag, shortenBase(fileID, 48), formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := t.st.ok.Render("[ok]")
	if !ok {
		tag = t.st.fail.Render("[fail]")
	}
	t.println(fmt.Sprintf("%s 全部完成 | 文件 %d | 失败 %d | 总用时 %s", tag, t.filesDone, t.filesFailed, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

// printInline: \r + 内容，新行较短时用空格覆盖旧尾。
func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, width int) string {
	if width <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= width {
		return base
	}
	rs := []rune(base)
	cut := width - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
