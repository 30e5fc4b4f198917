package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "patchsync/internal/config"
	"patchsync/internal/diag"
)

// app: 一次 CLI 调用的共享状态（旗标、最终配置、日志）。
type app struct {
	stdout, stderr io.Writer

	flagConfig      string
	flagEnvFile     string
	flagSourceDir   string
	flagPatchDir    string
	flagReport      string
	flagGateway     string
	flagConcurrency int
	flagMaxAttempts int
	flagLogLevel    string
	flagStatus      bool

	corrID string
	cfg    cfgpkg.Config
	logger *diag.Logger
	term   *diag.Terminal
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "patchsync",
		Short: "Detect and repair drift between source documents and localization patches",
		Long: `patchsync 比较源文档树与翻译补丁树：
  scan    产出漂移报告（MissingFile / MissingEntry / OrphanedEntry / MissingSourceDocument）
  repair  消费报告，翻译并补齐缺失的补丁文件与条目
  stale   列出原文已变化的补丁记录
  apply   将补丁应用到源文档，写出本地化文档`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", cfgpkg.ErrConfig, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flagConfig, "config", "c", "", "配置文件路径（.json 或 .toml）；缺省读取 ./config.json 或 ./config.toml（若存在）")
	pf.StringVar(&a.flagEnvFile, "env-file", ".env", "在读取环境变量前加载的 .env 文件（不覆盖已有变量）")
	pf.StringVar(&a.flagSourceDir, "source-dir", "", "源文档根目录（覆盖配置）")
	pf.StringVar(&a.flagPatchDir, "translation-dir", "", "补丁根目录（覆盖配置）")
	pf.StringVar(&a.flagReport, "report", "", "报告文件路径（覆盖配置）")
	pf.StringVar(&a.flagGateway, "gateway", "", "翻译网关 provider 名称（覆盖配置）")
	pf.IntVar(&a.flagConcurrency, "concurrency", 0, "翻译并发度（覆盖配置）")
	// max-attempts 允许显式设置为 0；默认 -1 表示“未覆盖”。
	pf.IntVar(&a.flagMaxAttempts, "max-attempts", -1, "单条翻译最大尝试次数（覆盖配置；0 表示无限重试）")
	pf.StringVar(&a.flagLogLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")

	root.AddCommand(
		newScanCmd(a),
		newRepairCmd(a),
		newStaleCmd(a),
		newApplyCmd(a),
		newInitConfigCmd(a),
	)
	return root
}

// setup: .env → 配置文件 → ENV → CLI 逐层合并，校验后建立日志与终端提示。
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.corrID = uuid.NewString()
	if cmd.Name() == "init-config" {
		return nil
	}
	if a.flagEnvFile != "" {
		if err := godotenv.Load(a.flagEnvFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: env file %s: %v", cfgpkg.ErrConfig, a.flagEnvFile, err)
		}
	}

	path := a.flagConfig
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"config.json", "config.toml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	cfg := cfgpkg.Defaults()
	if path != "" {
		base, err := cfgpkg.Load(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", cfgpkg.ErrConfig, path, err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return fmt.Errorf("%w: %v", cfgpkg.ErrConfig, err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	over := cfgpkg.Config{
		SourceDir:      a.flagSourceDir,
		TranslationDir: a.flagPatchDir,
		ReportPath:     a.flagReport,
		Gateway:        a.flagGateway,
		Concurrency:    a.flagConcurrency,
		MaxAttempts:    a.flagMaxAttempts,
		Logging:        cfgpkg.Logging{Level: a.flagLogLevel},
	}
	cfg = cfgpkg.Merge(cfg, over)

	if err := cfgpkg.Validate(cfg); err != nil {
		a.dumpConfig(cfg)
		return err
	}
	a.cfg = cfg
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	a.term = diag.NewTerminal(a.stderr, a.flagStatus)
	diag.SetTerminal(a.term)
	a.logEffective()
	return nil
}

// teardown 在命令结束（含失败）后释放日志与终端。
func (a *app) teardown() {
	diag.SetTerminal(nil)
	if a.logger != nil {
		names, values := diag.Snapshot()
		kv := make(map[string]string, len(names))
		for _, n := range names {
			kv[n] = fmt.Sprintf("%d", values[n])
		}
		a.logger.DebugStart("cli", "metrics", "", "", kv)
		_ = a.logger.Close()
	}
}

// logEffective: debug 级输出运行时配置（不含凭据）。
func (a *app) logEffective() {
	c := a.cfg
	kv := map[string]string{
		"source_dir":      c.SourceDir,
		"translation_dir": c.TranslationDir,
		"test_dir":        c.TestDir,
		"report_path":     c.ReportPath,
		"patterns":        strings.Join(c.Patterns, ","),
		"keys":            strings.Join(c.Keys, ","),
		"concurrency":     fmt.Sprintf("%d", c.Concurrency),
		"max_attempts":    fmt.Sprintf("%d", c.MaxAttempts),
		"lang":            c.Lang.From + "->" + c.Lang.To,
		"gateway":         c.Gateway,
	}
	if p, ok := c.Provider[c.Gateway]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	a.logger.DebugStart("config", "effective", "", "", kv)
}

func (a *app) dumpConfig(c cfgpkg.Config) {
	// provider options 可能含凭据，不输出
	c.Provider = nil
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(a.stderr, "有效配置:\n%s\n", b)
}
