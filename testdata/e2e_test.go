package testdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "patchsync/internal/config"
	"patchsync/internal/patch"
	"patchsync/internal/pipeline"
	"patchsync/internal/report"
)

// copyTree 将 files/ 下的样例树复制到临时目录。
func copyTree(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, p)
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
	if err != nil {
		t.Fatalf("copy fixtures: %v", err)
	}
}

func baseConfig(t *testing.T) cfgpkg.Config {
	dir := t.TempDir()
	copyTree(t, "files", dir)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.SourceDir = filepath.Join(dir, "source")
	cfg.TranslationDir = filepath.Join(dir, "translation")
	cfg.TestDir = filepath.Join(dir, "test")
	cfg.Logging.Level = "error"
	cfg.Backoff = cfgpkg.Backoff{BaseMS: 1, MaxMS: 5}
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Options: json.RawMessage(`{"prefix":"DEBUG"}`)}
	return cfg
}

func detect(t *testing.T, cfg cfgpkg.Config) pipeline.Result {
	t.Helper()
	rt, err := cfgpkg.Assemble(cfg, "", nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer rt.Close()
	res, err := pipeline.Detect(context.Background(), rt.Components, rt.Settings, nil)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	return res
}

func repair(t *testing.T, cfg cfgpkg.Config, out string, rep report.Report) (pipeline.Summary, *cfgpkg.Runtime) {
	t.Helper()
	rt, err := cfgpkg.Assemble(cfg, out, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	sum, err := pipeline.Repair(context.Background(), rt.Components, rt.Settings, rep, nil)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	return sum, rt
}

func lines(cfg cfgpkg.Config, specs ...string) report.Report {
	root := filepath.ToSlash(cfg.TranslationDir)
	out := report.Report{}
	for _, s := range specs {
		out = append(out, strings.ReplaceAll(s, "$T", root))
	}
	return out
}

func TestE2EDetect(t *testing.T) {
	cfg := baseConfig(t)
	res := detect(t, cfg)
	want := lines(cfg,
		"MissingSourceDocument $T/removed.item.patch",
		"MissingEntry /description in $T/items/sword.item.patch",
		"MissingEntry /tooltipFields/0/title in $T/items/sword.item.patch",
		"MissingEntry /tooltipFields/0/value in $T/items/sword.item.patch",
		"OrphanedEntry /oldName in $T/items/sword.item.patch",
		"MissingEntry /description in $T/objects/chest.object.patch",
		"MissingEntry /subtitle in $T/objects/chest.object.patch",
	)
	if fmt.Sprint(res.Report) != fmt.Sprint(want) {
		t.Fatalf("report mismatch\nwant: %q\ngot:  %q", want, res.Report)
	}
	if res.Documents != 2 || res.ParseWarnings != 1 || len(res.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// scan → repair（提交）→ scan：只剩仅提示类发现
func TestE2ERepairCommit(t *testing.T) {
	cfg := baseConfig(t)
	res := detect(t, cfg)
	sum, _ := repair(t, cfg, cfg.TranslationDir, res.Report)
	if sum.Written != 2 || sum.Translated != 4 || sum.Copied != 1 || sum.Informational != 2 || sum.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	again := detect(t, cfg)
	want := lines(cfg,
		"MissingSourceDocument $T/removed.item.patch",
		"OrphanedEntry /oldName in $T/items/sword.item.patch",
	)
	if fmt.Sprint(again.Report) != fmt.Sprint(want) {
		t.Fatalf("second scan mismatch\nwant: %q\ngot:  %q", want, again.Report)
	}

	pf, err := patch.Load(filepath.Join(cfg.TranslationDir, "items", "sword.item.patch"))
	if err != nil || pf == nil {
		t.Fatalf("load patch: %v", err)
	}
	// 已有记录保持在前，新记录按报告顺序追加
	wantPaths := []string{"/shortDescription", "/oldName", "/description", "/tooltipFields/0/title", "/tooltipFields/0/value"}
	if pf.Len() != len(wantPaths) {
		t.Fatalf("records: %d", pf.Len())
	}
	for i, p := range wantPaths {
		if pf.Records[i].Path != p {
			t.Fatalf("record %d: want %s got %s", i, p, pf.Records[i].Path)
		}
	}
	var desc string
	_ = json.Unmarshal(pf.Records[2].Value, &desc)
	if desc != "DEBUG: Forged by\nthe old smith" {
		t.Fatalf("description: %q", desc)
	}
	if string(pf.Records[4].Value) != "3.0" {
		t.Fatalf("non-string leaf should be copied: %s", pf.Records[4].Value)
	}
	chest, err := patch.Load(filepath.Join(cfg.TranslationDir, "objects", "chest.object.patch"))
	if err != nil || chest.Len() != 2 {
		t.Fatalf("chest patch: %v %+v", err, chest)
	}
	if string(chest.Records[1].Value) != `""` {
		t.Fatalf("empty leaf should stay empty: %s", chest.Records[1].Value)
	}
}

// 试运行写入 test_dir；提交目录保持不变；译文缓存记录非空译文
func TestE2ERepairDryRunWithMemory(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory.db")
	before, err := os.ReadFile(filepath.Join(cfg.TranslationDir, "items", "sword.item.patch"))
	if err != nil {
		t.Fatal(err)
	}
	res := detect(t, cfg)
	sum, rt := repair(t, cfg, cfg.TestDir, res.Report)
	if sum.Written != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	after, _ := os.ReadFile(filepath.Join(cfg.TranslationDir, "items", "sword.item.patch"))
	if string(before) != string(after) {
		t.Fatalf("dry run must not touch translation_dir")
	}
	pf, err := patch.Load(filepath.Join(cfg.TestDir, "items", "sword.item.patch"))
	if err != nil || pf.Len() != 5 {
		t.Fatalf("dry run output: %v %+v", err, pf)
	}
	n, err := rt.Memory.Count(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("memory entries: %d %v", n, err)
	}
}

// flaky 网关：限流与空结果均被重试，直到得到译文
func TestE2ERetry(t *testing.T) {
	cfg := baseConfig(t)
	logPath := filepath.Join(t.TempDir(), "flaky.log")
	cfg.Gateway = "flaky"
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","log_path":%q}`, logPath)),
	}
	res := detect(t, cfg)
	sum, _ := repair(t, cfg, cfg.TranslationDir, res.Report)
	if sum.Failed != 0 || sum.Translated != 4 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(got) != 5 || got[0] != "rate_limited" || got[1] != "empty" {
		t.Fatalf("unexpected log: %v", got)
	}
}

// max_attempts=1：失败条目被跳过，其余照常写出；下一次检测重新报告缺口
func TestE2EMaxAttempts(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Gateway = "flaky"
	cfg.Provider["flaky"] = cfgpkg.Provider{Client: "flaky"}
	cfg.MaxAttempts = 1
	cfg.Concurrency = 1
	res := detect(t, cfg)
	sum, _ := repair(t, cfg, cfg.TranslationDir, res.Report)
	if sum.Failed != 2 || sum.Written != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	again := detect(t, cfg)
	want := lines(cfg,
		"MissingSourceDocument $T/removed.item.patch",
		"MissingEntry /description in $T/items/sword.item.patch",
		"MissingEntry /tooltipFields/0/title in $T/items/sword.item.patch",
		"OrphanedEntry /oldName in $T/items/sword.item.patch",
	)
	if fmt.Sprint(again.Report) != fmt.Sprint(want) {
		t.Fatalf("second scan mismatch\nwant: %q\ngot:  %q", want, again.Report)
	}
}
