package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPatterns: 默认参与检测的源文件类型。
var DefaultPatterns = []string{
	"*.config", "*.weaponability", "*.activeitem", "*.item", "*.thrownitem",
	"*.statuseffect", "*.currency", "*.object", "*.particle", "*.questtemplate", "*.tech",
}

// DefaultKeys: 默认可翻译字段名。
var DefaultKeys = []string{
	"value", "name", "text", "title", "subtitle", "caption", "description", "shortDescription", "label",
}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Gateway 不设默认（repair 必须由 JSON/TOML/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		SourceDir:      "source",
		TranslationDir: "translation",
		TestDir:        "test",
		ReportPath:     "report.log",
		Patterns:       cloneStrings(DefaultPatterns),
		Keys:           cloneStrings(DefaultKeys),
		ExcludeDirs:    []string{".git"},
		Concurrency:    4,
		MaxAttempts:    0,
		Backoff:        Backoff{BaseMS: 200, MaxMS: 10000},
		Lang:           Lang{From: "en", To: "zh"},
		Logging:        Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:    "fs",
			Writer:    "fs",
			Sanitizer: "default",
		},
	}
}

// Load 按扩展名选择解析器：.toml 走 TOML，其余按 JSON。
func Load(path string) (Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(path, nil)
	}
	return LoadJSON(path, nil)
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadTOML 解析 TOML 配置：先解码为通用树，再转为 JSON 走同一严格解码路径，
// 因此键名、未知字段规则与 JSON 完全一致（provider.options 等子树以 TOML 表书写）。
func LoadTOML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var tree map[string]any
	if err := toml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("toml: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("toml: %w", err)
	}
	return LoadJSON("", b)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.SourceDir); s != "" {
		out.SourceDir = s
	}
	if s := strings.TrimSpace(over.TranslationDir); s != "" {
		out.TranslationDir = s
	}
	if s := strings.TrimSpace(over.TestDir); s != "" {
		out.TestDir = s
	}
	if s := strings.TrimSpace(over.ReportPath); s != "" {
		out.ReportPath = s
	}
	if len(over.Patterns) > 0 {
		out.Patterns = cloneStrings(over.Patterns)
	}
	if len(over.Keys) > 0 {
		out.Keys = cloneStrings(over.Keys)
	}
	if len(over.ExcludeDirs) > 0 {
		out.ExcludeDirs = cloneStrings(over.ExcludeDirs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// 特殊：MaxAttempts 的 0 具有语义（无限重试），需要显式可覆盖。
	// 约定：当 over.MaxAttempts >= 0 时认为“存在”，否则（例如 -1）视为未覆盖。
	if over.MaxAttempts >= 0 {
		out.MaxAttempts = over.MaxAttempts
	}
	if over.Backoff.BaseMS != 0 {
		out.Backoff.BaseMS = over.Backoff.BaseMS
	}
	if over.Backoff.MaxMS != 0 {
		out.Backoff.MaxMS = over.Backoff.MaxMS
	}
	if s := strings.TrimSpace(over.Lang.From); s != "" {
		out.Lang.From = s
	}
	if s := strings.TrimSpace(over.Lang.To); s != "" {
		out.Lang.To = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Sanitizer != "" {
		out.Components.Sanitizer = over.Components.Sanitizer
	}
	if len(over.WriterOptions) > 0 {
		out.WriterOptions = cloneRaw(over.WriterOptions)
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}
	if s := strings.TrimSpace(over.Gateway); s != "" {
		out.Gateway = s
	}
	if s := strings.TrimSpace(over.Memory.Path); s != "" {
		out.Memory.Path = s
	}
	return out
}

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "PATCHSYNC_"

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：SOURCE_DIR, TRANSLATION_DIR, TEST_DIR, REPORT_PATH, PATTERNS, KEYS, EXCLUDE_DIRS,
// CONCURRENCY, MAX_ATTEMPTS, LANG_FROM, LANG_TO, LOG_LEVEL, LOG_DIR, GATEWAY, MEMORY_PATH
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{QPS,BURST} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// 默认：-1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxAttempts = -1
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch nk {
		case "SOURCE_DIR":
			over.SourceDir = strings.TrimSpace(val)
		case "TRANSLATION_DIR":
			over.TranslationDir = strings.TrimSpace(val)
		case "TEST_DIR":
			over.TestDir = strings.TrimSpace(val)
		case "REPORT_PATH":
			over.ReportPath = strings.TrimSpace(val)
		case "PATTERNS":
			over.Patterns = splitComma(val)
		case "KEYS":
			over.Keys = splitComma(val)
		case "EXCLUDE_DIRS":
			over.ExcludeDirs = splitComma(val)
		case "CONCURRENCY":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s: %w", kv[:eq], err)
			}
			over.Concurrency = v
		case "MAX_ATTEMPTS":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s: %w", kv[:eq], err)
			}
			over.MaxAttempts = v
		case "LANG_FROM":
			over.Lang.From = strings.TrimSpace(val)
		case "LANG_TO":
			over.Lang.To = strings.TrimSpace(val)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "GATEWAY":
			over.Gateway = strings.TrimSpace(val)
		case "MEMORY_PATH":
			over.Memory.Path = strings.TrimSpace(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if !strings.HasPrefix(nk, "PROVIDER__") {
				continue
			}
			parts := strings.Split(nk, "__")
			if len(parts) < 3 {
				continue
			}
			name := strings.TrimSpace(parts[1])
			p := prov[name]
			changed := false
			switch strings.Join(parts[2:], "__") {
			case "CLIENT":
				if tv := strings.TrimSpace(val); tv != "" {
					p.Client = tv
					changed = true
				}
			case "LIMITS_QPS":
				var q float64
				if _, err := fmt.Sscanf(strings.TrimSpace(val), "%g", &q); err == nil {
					p.Limits.QPS = q
					changed = true
				}
			case "LIMITS_BURST":
				if v, err := atoi(val); err == nil {
					p.Limits.Burst = v
					changed = true
				}
			case "OPTIONS_JSON":
				// 原样 JSON；空值视为未设置，避免清空现有配置
				if strings.TrimSpace(val) != "" {
					p.Options = json.RawMessage(val)
					changed = true
				}
			}
			// 仅在发生有效变更时记录该 provider；避免空值覆盖配置文件
			if changed {
				prov[name] = p
			}
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
