package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	logPrefix      = "patchsync-"
	logExt         = ".log"
	currentLogName = logPrefix + "current" + logExt

	defaultLogLimit = 10 * 1024 * 1024
	defaultLogKeep  = 5
)

// logFile 是 zerolog 的落盘目标。当前文件固定为 patchsync-current.log；
// 写入会超出 limit 时改名为 patchsync-<UTC时间戳>.log，仅保留最近 keep 份。
// 落盘失败的行转写到 fallback（默认 stderr），不向 zerolog 返回错误。
type logFile struct {
	dir      string
	limit    int64
	keep     int
	fallback io.Writer

	mu   sync.Mutex
	f    *os.File
	size int64
}

func newLogFile(dir string, limit int64, keep int) *logFile {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if keep <= 0 {
		keep = defaultLogKeep
	}
	return &logFile{dir: dir, limit: limit, keep: keep, fallback: os.Stderr}
}

// Write 每次调用对应 zerolog 的一条事件（含换行）。
func (w *logFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.append(p); err != nil {
		fmt.Fprintf(w.fallback, "log sink: %v\n", err)
		_, _ = w.fallback.Write(p)
	}
	return len(p), nil
}

func (w *logFile) append(p []byte) error {
	if err := w.open(); err != nil {
		return err
	}
	// 空文件不轮转，单条超长事件直接写入
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.roll(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return err
}

func (w *logFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *logFile) roll() error {
	cur := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	if err := os.Rename(cur, filepath.Join(w.dir, logPrefix+stamp+logExt)); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出保留份数的旧文件；时间戳定长，按名字排序即按时间排序。
func (w *logFile) prune() {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var rolled []string
	for _, e := range ents {
		n := e.Name()
		if n != currentLogName && strings.HasPrefix(n, logPrefix) && strings.HasSuffix(n, logExt) {
			rolled = append(rolled, n)
		}
	}
	if len(rolled) <= w.keep {
		return
	}
	sort.Strings(rolled)
	for _, n := range rolled[:len(rolled)-w.keep] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}

func (w *logFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
