package diag

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger 为结构化日志器：单行 JSON 事件，经 zerolog 写入轮转文件（失败时回退 stderr）。
// 所有方法对 nil 接收者安全。
type Logger struct {
	zl   zerolog.Logger
	sink *logFile
}

// NewLogger 通过配置的 level 初始化，并将日志写入 dir（为空时为 logs），10MiB 轮转，保留 5 份。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := newLogFile(dir, defaultLogLimit, defaultLogKeep)
	l := NewLoggerTo(sink, corrID, level)
	l.sink = sink
	return l
}

// NewLoggerTo 将日志写入任意 io.Writer（测试与管道场景）。
func NewLoggerTo(w io.Writer, corrID, level string) *Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Str("corr_id", corrID).Logger()
	return &Logger{zl: zl}
}

// Close 关闭底层日志文件。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Event 为标准事件结构。
type Event struct {
	Comp    string
	Stage   string // start|finish|warn|error
	Code    string
	DurMS   int64
	Count   int64
	FileID  string
	KeyPath string
	Msg     string
	KV      map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil {
		return
	}
	e := l.zl.WithLevel(lv)
	if e == nil {
		return
	}
	e = e.Str("ts", NowUTC()).Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS != 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if ev.KeyPath != "" {
		e = e.Str("key_path", ev.KeyPath)
	}
	if len(ev.KV) > 0 {
		keys := make([]string, 0, len(ev.KV))
		for k := range ev.KV {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := zerolog.Dict()
		for _, k := range keys {
			d = d.Str(k, ev.KV[k])
		}
		e = e.Dict("kv", d)
	}
	e.Str("msg", ev.Msg).Send()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/key_path 的 start。
func (l *Logger) StartWith(comp, msg, fileID, keyPath string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, KeyPath: keyPath, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, keyPath: keyPath, t0: time.Now()}
}

// StartWithKV 记录带 file_id/key_path 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, keyPath string, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, KeyPath: keyPath, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, keyPath: keyPath, t0: time.Now()}
}

// Warn 记录可恢复的异常（例如补丁文件无法解析而按空文件处理）。
func (l *Logger) Warn(comp, code, msg, fileID, keyPath string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Code: code, FileID: fileID, KeyPath: keyPath, Msg: msg})
}

// WarnWithKV 同 Warn，附带键值。
func (l *Logger) WarnWithKV(comp, code, msg, fileID, keyPath string, kv map[string]string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Code: code, FileID: fileID, KeyPath: keyPath, Msg: msg, KV: kv})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 file_id/key_path。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, keyPath string) {
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, KeyPath: keyPath})
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段、原文预览）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, keyPath string, kv map[string]string) {
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, KeyPath: keyPath, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, keyPath string, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "start", FileID: fileID, KeyPath: keyPath, Msg: msg, KV: kv})
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	fileID  string
	keyPath string
	t0      time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, KeyPath: t.keyPath, Msg: msg})
}
