package diag

import (
	"bytes"
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

	"patchsync/pkg/contract"
)

func rolledLogs(t *testing.T, dir string) (current bool, rolled int) {
	t.Helper()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	for _, e := range ents {
		switch {
		case e.Name() == currentLogName:
			current = true
		case strings.HasPrefix(e.Name(), logPrefix) && strings.HasSuffix(e.Name(), logExt):
			rolled++
		}
	}
	return current, rolled
}

// 超出上限的写入触发轮转
func TestLogFileRolls(t *testing.T) {
	dir := t.TempDir()
	w := newLogFile(dir, 30, 0)
	defer w.Close()
	for _, line := range []string{"first line that is very long\n", "second\n"} {
		if n, err := w.Write([]byte(line)); err != nil || n != len(line) {
			t.Fatalf("写入失败: n=%d err=%v", n, err)
		}
	}
	cur, rolled := rolledLogs(t, dir)
	if !cur || rolled != 1 {
		t.Fatalf("应有当前文件与 1 份轮转文件, got current=%v rolled=%d", cur, rolled)
	}
	b, _ := os.ReadFile(filepath.Join(dir, currentLogName))
	if string(b) != "second\n" {
		t.Fatalf("当前文件内容不符: %q", b)
	}
}

// 单条超长事件写入空文件时不轮转
func TestLogFileOversizedLineNoRoll(t *testing.T) {
	dir := t.TempDir()
	w := newLogFile(dir, 4, 0)
	defer w.Close()
	_, _ = w.Write([]byte("0123456789\n"))
	if _, rolled := rolledLogs(t, dir); rolled != 0 {
		t.Fatalf("空文件不应轮转, rolled=%d", rolled)
	}
}

func TestLogFileKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	w := newLogFile(dir, 8, 2)
	defer w.Close()
	for i := 0; i < 6; i++ {
		_, _ = w.Write([]byte("xxxxxxx\n"))
		time.Sleep(time.Millisecond)
	}
	if _, rolled := rolledLogs(t, dir); rolled != 2 {
		t.Fatalf("应仅保留 2 份, got %d", rolled)
	}
}

// 目录不可用时转写 fallback
func TestLogFileFallback(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	var fb bytes.Buffer
	w := newLogFile(filepath.Join(blocker, "logs"), 0, 0)
	w.fallback = &fb
	if n, err := w.Write([]byte("event\n")); err != nil || n != 6 {
		t.Fatalf("fallback 不应返回错误: n=%d err=%v", n, err)
	}
	if !strings.Contains(fb.String(), "log sink:") || !strings.HasSuffix(fb.String(), "event\n") {
		t.Fatalf("fallback 内容不符: %q", fb.String())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("未打开时 Close 应为 no-op: %v", err)
	}
}

type netErr struct{}

func (netErr) Error() string   { return "net" }
func (netErr) Timeout() bool   { return true }
func (netErr) Temporary() bool { return true }

var _ net.Error = netErr{}

type upstream struct{ status int }

func (u upstream) Error() string           { return "upstream" }
func (u upstream) UpstreamStatus() int     { return u.status }
func (u upstream) UpstreamMessage() string { return "" }

// 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{fmt.Errorf("x: %w", contract.ErrSanitize), CodeSanitize},
		{fmt.Errorf("x: %w", contract.ErrParse), CodeParse},
		{fmt.Errorf("x: %w", contract.ErrWrite), CodeIO},
		{fmt.Errorf("x: %w", contract.ErrTranslation), CodeTranslation},
		{contract.ErrRateLimited, CodeRateLimit},
		{fmt.Errorf("x: %w", contract.ErrInvalidInput), CodeInvariant},
		{upstream{429}, CodeRateLimit},
		{upstream{503}, CodeNetwork},
		{upstream{52001}, CodeProtocol},
		{fmt.Errorf("decode: %w", &json.SyntaxError{Offset: 3}), CodeParse},
		{&os.LinkError{Op: "rename", Old: "a", New: "b", Err: fs.ErrPermission}, CodeIO},
		{contract.ErrResponseInvalid, CodeProtocol},
		{contract.ErrInvariantViolation, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, CodeIO},
		{netErr{}, CodeNetwork},
		{errors.New("other"), CodeUnknown},
	}
	for i, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("case %d: got %s want %s", i, got, c.want)
		}
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("非 JSON 行 %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// 结构化事件字段
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "cid-1", "info")
	tm := l.StartWith("repair", "begin", "a/item", "name")
	tm.Finish("end", 3)
	start := time.Now()
	l.ErrorWithKV("translate", string(CodeTranslation), "失败", &start, "a/item", "name", map[string]string{"preview": "abc"})
	l.Warn("detect", string(CodeParse), "按空文件处理", "b/item", "")
	l.DebugStart("translate", "hidden", "", "", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("expect 4 lines (debug filtered), got %d: %s", len(lines), buf.String())
	}
	if lines[0]["corr_id"] != "cid-1" || lines[0]["stage"] != "start" || lines[0]["file_id"] != "a/item" || lines[0]["key_path"] != "name" {
		t.Fatalf("start line: %v", lines[0])
	}
	if lines[1]["stage"] != "finish" || lines[1]["count"].(float64) != 3 || lines[1]["msg"] != "end" {
		t.Fatalf("finish line: %v", lines[1])
	}
	if lines[2]["level"] != "error" || lines[2]["code"] != "translation" {
		t.Fatalf("error line: %v", lines[2])
	}
	kv, ok := lines[2]["kv"].(map[string]any)
	if !ok || kv["preview"] != "abc" {
		t.Fatalf("kv: %v", lines[2]["kv"])
	}
	if lines[3]["level"] != "warn" || lines[3]["code"] != "parse" {
		t.Fatalf("warn line: %v", lines[3])
	}
	if _, ok := lines[0]["ts"]; !ok {
		t.Fatalf("missing ts: %v", lines[0])
	}
}

func TestLoggerDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "c", "DEBUG")
	l.DebugStart("translate", "visible", "f", "k", map[string]string{"a": "1"})
	if !strings.Contains(buf.String(), `"visible"`) {
		t.Fatalf("debug line should be emitted: %q", buf.String())
	}
	buf.Reset()
	l = NewLoggerTo(&buf, "c", "error")
	l.Start("x", "hidden").Finish("hidden", 0)
	l.Warn("x", "parse", "hidden", "", "")
	if buf.Len() != 0 {
		t.Fatalf("info/warn should be filtered at error level: %q", buf.String())
	}
}

func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("m", 1)
	l.StartWithKV("c", "m", "f", "k", nil).Finish("m", 0)
	l.Error("c", "unknown", "m", nil)
	l.ErrorWith("c", "unknown", "m", nil, "f", "k")
	l.Warn("c", "parse", "m", "f", "")
	l.WarnWithKV("c", "parse", "m", "f", "", nil)
	l.InfoFinish("c", "m", time.Now(), 1)
	if err := l.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
	var tm *Timer
	tm.Finish("x", 0)
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("cid", "info", dir)
	l.Start("cli", "hello").Finish("bye", 0)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, currentLogName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Count(string(b), "\n") != 2 || !strings.Contains(string(b), `"corr_id":"cid"`) {
		t.Fatalf("unexpected log file: %q", b)
	}
}

func TestMetricsCounters(t *testing.T) {
	ResetMetrics()
	IncOp("repair", "translate", "success")
	IncOp("repair", "translate", "success")
	IncOp("repair", "translate", "error")
	IncError("repair", "translation")
	ObserveDuration("repair", "translate", 15)
	ObserveDuration("repair", "translate", 5)
	if got := OpCount("repair", "translate", "success"); got != 2 {
		t.Fatalf("success=%d", got)
	}
	names, vals := Snapshot()
	if len(names) != 4 {
		t.Fatalf("names=%v", names)
	}
	if vals["op_duration_ms{repair,translate}"] != 20 {
		t.Fatalf("duration=%v", vals)
	}
	ResetMetrics()
	if got := OpCount("repair", "translate", "success"); got != 0 {
		t.Fatalf("reset failed: %d", got)
	}
}

// 非 TTY：分行打印、无颜色转义
func TestTerminalNonTTY(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	term.RunStart("commit", 4, "baidu")
	term.ScanFinish(3, map[string]int{"MissingFile": 1, "MissingEntry": 2}, []string{"MissingFile", "MissingEntry"}, 20*time.Millisecond)
	term.Plan(2, 5)
	term.Progress(1, 0) // 非 TTY 不输出
	term.FileFinish("dir/a.patch", 3, true, 1500*time.Millisecond)
	term.FileFinish("b.patch", 2, false, 10*time.Millisecond)
	term.RunFinish(false, 2*time.Second)
	want := []string{
		"[run] 模式=commit | 并发=4 | 网关=baidu",
		"[scan] 文档 3 | 发现 3 (MissingFile 1, MissingEntry 2) | 用时 20ms",
		"[plan] 文件 2 | 待翻译 5",
		"[done] dir/a.patch | 条目 3 | 用时 1.5s",
		"[fail] b.patch | 条目 2 | 用时 10ms",
		"[fail] 全部完成 | 文件 2 | 总用时 2.0s",
	}
	got := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("lines=%d want %d: %q", len(got), len(want), buf.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestTerminalDisabled(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false)
	term.RunStart("scan", 1, "mock")
	term.RunFinish(true, time.Second)
	if buf.Len() != 0 {
		t.Fatalf("disabled terminal wrote: %q", buf.String())
	}
	var nilTerm *Terminal
	nilTerm.Progress(1, 1)
	SetTerminal(term)
	if GetTerminal() != term {
		t.Fatalf("global terminal not set")
	}
	SetTerminal(nil)
}

func TestClipAndFormat(t *testing.T) {
	if got := clipLeft("items/weapons/abcdefgh.item.patch", 10); got != "…tem.patch" {
		t.Fatalf("clip: %q", got)
	}
	if got := clipLeft(" a.patch ", 10); got != "a.patch" {
		t.Fatalf("clip short: %q", got)
	}
	if got := humanDur(999 * time.Millisecond); got != "999ms" {
		t.Fatalf("format: %q", got)
	}
	if got := humanDur(1500 * time.Millisecond); got != "1.5s" {
		t.Fatalf("format: %q", got)
	}
	if got := oneLine("a\nb\rc"); got != "a b c" {
		t.Fatalf("oneLine: %q", got)
	}
}
