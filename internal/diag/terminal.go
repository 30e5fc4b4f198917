package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const (
	progressEvery = 100 * time.Millisecond
	idWidth       = 48
)

// Terminal 输出给人看的运行状态（--status），与结构化日志分离。
// TTY 下进度行用 \r 原地刷新并着色；非 TTY 只在关键节点整行输出。
// 方法对 nil 接收者安全；一次写失败后永久静默。
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	tty     bool

	concurrency int
	started     time.Time
	files       int
	total       int
	inline      int
	flushed     time.Time

	good, bad, info *color.Color
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 供 cmd 安装进程级终端，pipeline 通过 GetTerminal 旁路上报。
func SetTerminal(t *Terminal) {
	termMu.Lock()
	term = t
	termMu.Unlock()
}

func GetTerminal() *Terminal {
	termMu.RLock()
	defer termMu.RUnlock()
	return term
}

func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if f, ok := w.(*os.File); ok && os.Getenv("CI") == "" {
		t.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	t.good = paint(color.FgGreen, t.tty)
	t.bad = paint(color.FgRed, t.tty)
	t.info = paint(color.FgCyan, t.tty)
	return t
}

func paint(fg color.Attribute, on bool) *color.Color {
	c := color.New(fg, color.Bold)
	if on {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// emit 在锁内执行 fn；nil 或禁用时跳过。
func (t *Terminal) emit(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		fn()
	}
}

func (t *Terminal) verdict(ok bool, label string) string {
	if ok {
		return t.good.Sprintf("[%s]", label)
	}
	return t.bad.Sprintf("[%s]", label)
}

func (t *Terminal) RunStart(mode string, concurrency int, gateway string) {
	t.emit(func() {
		t.concurrency, t.started = concurrency, time.Now()
		t.files, t.total = 0, 0
		t.line("%s 模式=%s | 并发=%d | 网关=%s", t.info.Sprint("[run]"), oneLine(mode), concurrency, oneLine(gateway))
	})
}

// ScanFinish 按 order 列出各发现类型的计数。
func (t *Terminal) ScanFinish(documents int, counts map[string]int, order []string, dur time.Duration) {
	t.emit(func() {
		sum := 0
		parts := make([]string, len(order))
		for i, k := range order {
			parts[i] = fmt.Sprintf("%s %d", k, counts[k])
			sum += counts[k]
		}
		t.line("%s 文档 %d | 发现 %d (%s) | 用时 %s", t.verdict(sum == 0, "scan"), documents, sum, strings.Join(parts, ", "), humanDur(dur))
	})
}

func (t *Terminal) Plan(files, entries int) {
	t.emit(func() {
		t.total = entries
		t.line("%s 文件 %d | 待翻译 %d", t.info.Sprint("[plan]"), files, entries)
	})
}

// Progress 仅 TTY 输出，至多每 100ms 刷新一次。
func (t *Terminal) Progress(done, errs int) {
	t.emit(func() {
		if !t.tty || time.Since(t.flushed) < progressEvery {
			return
		}
		t.flushed = time.Now()
		t.overwrite(fmt.Sprintf("[repair] 进度 %d/%d | 错误 %d | 并发 %d | 用时 %s",
			done, t.total, errs, t.concurrency, humanDur(time.Since(t.started))))
	})
}

// FileFinish 每个补丁文件写出或放弃后一行。
func (t *Terminal) FileFinish(fileID string, entries int, ok bool, dur time.Duration) {
	t.emit(func() {
		t.files++
		label := "done"
		if !ok {
			label = "fail"
		}
		t.line("%s %s | 条目 %d | 用时 %s", t.verdict(ok, label), clipLeft(fileID, idWidth), entries, humanDur(dur))
	})
}

func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	t.emit(func() {
		label := "ok"
		if !ok {
			label = "fail"
		}
		t.line("%s 全部完成 | 文件 %d | 总用时 %s", t.verdict(ok, label), t.files, humanDur(dur))
	})
}

func (t *Terminal) line(format string, args ...any) {
	if t.inline > 0 {
		t.overwrite("")
	}
	t.write(fmt.Sprintf(format, args...) + "\n")
	t.inline = 0
}

// overwrite 回到行首重写；新内容更短时以空格覆盖残留。
func (t *Terminal) overwrite(s string) {
	n := len([]rune(s))
	pad := ""
	if t.inline > n {
		pad = strings.Repeat(" ", t.inline-n)
	}
	t.write("\r" + s + pad)
	t.inline = n
}

func (t *Terminal) write(s string) {
	if _, err := io.WriteString(t.w, s); err != nil {
		t.enabled = false
	}
}

// clipLeft 保留尾部（文件名所在），超出 width 时以 … 开头。
func clipLeft(id string, width int) string {
	id = oneLine(strings.TrimSpace(id))
	rs := []rune(id)
	if width < 2 || len(rs) <= width {
		return id
	}
	return "…" + string(rs[len(rs)-width+1:])
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

func humanDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
