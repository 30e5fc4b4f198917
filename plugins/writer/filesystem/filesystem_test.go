package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"patchsync/pkg/contract"
)

const swordPatch = "items/sword.item.patch"

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.Contains(d.Name(), tmpMarker) {
			out = append(out, p)
		}
		return nil
	})
	return out
}

func TestWriteAtomicCreatesParents(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), swordPatch, strings.NewReader("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "items", "sword.item.patch"))
	if err != nil || string(b) != "[]" {
		t.Fatalf("内容不符 %v %q", err, b)
	}
	if l := leftovers(t, dir); len(l) != 0 {
		t.Fatalf("残留临时文件 %v", l)
	}
}

// 目标已存在时原子写应整体替换。
func TestWriteAtomicReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx := context.Background()
	for _, v := range []string{"[1]", "[1,2]"} {
		if err := w.Write(ctx, swordPatch, strings.NewReader(v)); err != nil {
			t.Fatalf("write %s: %v", v, err)
		}
	}
	b, _ := os.ReadFile(filepath.Join(dir, "items", "sword.item.patch"))
	if string(b) != "[1,2]" {
		t.Fatalf("未替换: %q", b)
	}
	if l := leftovers(t, dir); len(l) != 0 {
		t.Fatalf("残留临时文件 %v", l)
	}
}

func TestWriteAtomicPermFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("windows 不区分权限位")
	}
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir, PermFile: 0o600})
	if err := w.Write(context.Background(), "a.patch", strings.NewReader("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := os.Stat(filepath.Join(dir, "a.patch"))
	if err != nil || st.Mode().Perm() != 0o600 {
		t.Fatalf("权限不符 %v %v", err, st)
	}
}

func TestWriteRejectsEscapingIDs(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	bad := []string{"", ".", "..", "../x.patch", "items/../../x.patch"}
	if runtime.GOOS == "windows" {
		bad = append(bad, `C:\abs.patch`)
	} else {
		bad = append(bad, "/abs.patch")
	}
	for _, id := range bad {
		if err := w.Write(context.Background(), id, strings.NewReader("x")); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("id %q 期望 ErrPathInvalid, got %v", id, err)
		}
		if _, err := w.Path(id); !errors.Is(err, contract.ErrPathInvalid) {
			t.Fatalf("Path(%q) 期望 ErrPathInvalid", id)
		}
	}
}

func TestWriteTruncateMode(t *testing.T) {
	dir := t.TempDir()
	off := false
	w, _ := New(&Options{OutputDir: dir, Atomic: &off})
	ctx := context.Background()
	if err := w.Write(ctx, swordPatch, strings.NewReader("[1,2,3]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(ctx, swordPatch, strings.NewReader("[]")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "items", "sword.item.patch"))
	if string(b) != "[]" {
		t.Fatalf("截断失败: %q", b)
	}
}

func TestWriteCancelled(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, swordPatch, strings.NewReader("[]")); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望取消错误, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "items")); !os.IsNotExist(err) {
		t.Fatalf("取消后不应创建目录")
	}
}

func TestCancellableReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := cancellable{ctx: ctx, r: strings.NewReader("data")}
	buf := make([]byte, 2)
	if n, err := r.Read(buf); err != nil || n != 2 {
		t.Fatalf("取消前应正常读取 n=%d err=%v", n, err)
	}
	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望取消错误, got %v", err)
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("nil 选项应报错")
	}
	if _, err := New(&Options{OutputDir: "  "}); err == nil {
		t.Fatalf("空输出目录应报错")
	}
}

// interruptedReader 先吐出部分字节再失败，模拟写入中途崩溃。
type interruptedReader struct {
	data []byte
	sent bool
}

func (r *interruptedReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("crash")
}

// 写入中途失败时目标文件保持旧内容，且可被完整解析。
func TestWriteAtomicInterruptedKeepsOld(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	old := `[{"path":"/name","op":"replace","source":"剑","value":"Sword"}]`
	if err := w.Write(context.Background(), swordPatch, strings.NewReader(old)); err != nil {
		t.Fatalf("write old: %v", err)
	}
	half := &interruptedReader{data: []byte(`[{"path":"/name","op":"replace","sou`)}
	if err := w.Write(context.Background(), swordPatch, half); err == nil {
		t.Fatalf("中断写入应失败")
	}
	b, err := os.ReadFile(filepath.Join(dir, "items", "sword.item.patch"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != old {
		t.Fatalf("半截内容泄漏: %q", b)
	}
	var recs []map[string]any
	if err := json.Unmarshal(b, &recs); err != nil || len(recs) != 1 {
		t.Fatalf("旧内容不可解析: %v", err)
	}
	if l := leftovers(t, dir); len(l) != 0 {
		t.Fatalf("残留临时文件 %v", l)
	}
}

func TestPathAndRoot(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	if w.Root() != dir {
		t.Fatalf("root=%s", w.Root())
	}
	p, err := w.Path(swordPatch)
	if err != nil || p != filepath.Join(dir, "items", "sword.item.patch") {
		t.Fatalf("path=%s err=%v", p, err)
	}
	if err := w.Write(context.Background(), swordPatch, bytes.NewBufferString("[]")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("Path 与实际写出位置不一致: %v", err)
	}
}
