package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/keypath"
	"patchsync/internal/pipeline"
	"patchsync/internal/rate"
	"patchsync/internal/translate"
	"patchsync/pkg/contract"
	"patchsync/pkg/registry"
)

// ErrConfig 标记配置/装配错误（CLI 以退出码 3 报告）。
var ErrConfig = errors.New("config")

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, a...))
}

// Validate 对最小必要边界做静态校验。Gateway 为空时仅可运行检测类命令。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.SourceDir) == "" {
		return invalid("source_dir empty")
	}
	if strings.TrimSpace(cfg.TranslationDir) == "" {
		return invalid("translation_dir empty")
	}
	if len(cfg.Keys) == 0 {
		return invalid("keys empty")
	}
	if cfg.Concurrency < 1 {
		return invalid("concurrency must be >= 1")
	}
	if cfg.MaxAttempts < 0 {
		return invalid("max_attempts must be >= 0")
	}
	if cfg.Backoff.BaseMS < 0 || cfg.Backoff.MaxMS < 0 {
		return invalid("backoff must be >= 0")
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if name := effName(cfg.Components.Sanitizer, d.Components.Sanitizer); registry.Sanitizer[name] == nil {
		return invalid("sanitizer %q not registered", name)
	}
	if cfg.Gateway == "" {
		return nil
	}
	prov, ok := cfg.Provider[cfg.Gateway]
	if !ok {
		return invalid("provider %q not found", cfg.Gateway)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.Gateway)
	}
	if registry.Gateway[prov.Client] == nil {
		return invalid("gateway client %q not registered", prov.Client)
	}
	if prov.Limits.QPS < 0 || prov.Limits.Burst < 0 {
		return invalid("provider %q limits must be >= 0", cfg.Gateway)
	}
	return nil
}

// Runtime: 一次运行装配出的组件与设置。
type Runtime struct {
	Components pipeline.Components
	Settings   pipeline.Settings
	Gate       rate.Gate
	Key        rate.LimitKey
	// Memory: 译文缓存；未配置时为 nil。
	Memory *translate.SQLiteMemory
}

// Close 释放运行期资源。
func (rt *Runtime) Close() error {
	if rt == nil || rt.Memory == nil {
		return nil
	}
	return rt.Memory.Close()
}

// Assemble 构造 Components、Settings、限流 Gate 与翻译步骤。
// outputDir 为写出根目录（repair 提交/试运行目录或 apply 目录）；
// 严格 Options 解析在 registry（工厂）层进行。
func Assemble(cfg Config, outputDir string, logger *diag.Logger) (*Runtime, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults()

	readerRaw := func(patterns []string, exclude []string) json.RawMessage {
		b, _ := json.Marshal(map[string]any{"patterns": patterns, "exclude_dir_names": exclude})
		return b
	}
	newReader := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)]
	src, err := newReader(readerRaw(cfg.Patterns, cfg.ExcludeDirs))
	if err != nil {
		return nil, invalid("reader: %v", err)
	}
	pat, err := newReader(readerRaw([]string{"*" + contract.PatchSuffix}, cfg.ExcludeDirs))
	if err != nil {
		return nil, invalid("reader: %v", err)
	}
	san := registry.Sanitizer[effName(cfg.Components.Sanitizer, d.Components.Sanitizer)]()

	rt := &Runtime{}
	rt.Components = pipeline.Components{Sources: src, Patches: pat, Sanitizer: san}
	rt.Settings = pipeline.Settings{
		SourceDir:   cfg.SourceDir,
		PatchDir:    cfg.TranslationDir,
		OutputDir:   outputDir,
		Keys:        keypath.NewKeySet(cfg.Keys...),
		Concurrency: cfg.Concurrency,
	}

	if outputDir != "" {
		raw, err := writerOptions(cfg.WriterOptions, outputDir)
		if err != nil {
			return nil, err
		}
		w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](raw)
		if err != nil {
			return nil, invalid("writer: %v", err)
		}
		rt.Components.Writer = w
	}

	if cfg.Gateway == "" {
		return rt, nil
	}

	// 翻译网关
	prov := cfg.Provider[cfg.Gateway]
	gw, err := registry.Gateway[prov.Client](prov.Options)
	if err != nil {
		return nil, invalid("gateway %q: %v", cfg.Gateway, err)
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生凭据）
	key, derr := rate.DeriveKeyFromGatewayOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.Gateway)
	}
	rt.Key = key
	rt.Gate = rate.NewGate(map[rate.LimitKey]rate.Limits{key: {QPS: prov.Limits.QPS, Burst: prov.Limits.Burst}}, nil)

	var mem translate.Memory
	if p := strings.TrimSpace(cfg.Memory.Path); p != "" {
		m, err := translate.OpenMemory(p)
		if err != nil {
			return nil, invalid("memory: %v", err)
		}
		rt.Memory = m
		mem = m
	}

	rt.Components.Translator = translate.New(gw, rt.Gate, mem, logger, translate.Options{
		From:        cfg.Lang.From,
		To:          cfg.Lang.To,
		Key:         key,
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Backoff.BaseMS) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Backoff.MaxMS) * time.Millisecond,
	})
	return rt, nil
}

// writerOptions 将用户 writer_options 与运行模式决定的 output_dir 合并。
func writerOptions(raw json.RawMessage, outputDir string) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, invalid("writer_options: %v", err)
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	if _, ok := m["output_dir"]; ok {
		return nil, invalid("writer_options.output_dir is derived from translation_dir/test_dir")
	}
	m["output_dir"] = outputDir
	return json.Marshal(m)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
