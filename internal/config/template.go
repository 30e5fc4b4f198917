package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认网关为 mock（本地/离线调试友好），同时给出 baidu/openai 的完整选项键；
// - 目录布局与默认文件类型、可翻译字段；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Gateway = "mock"
	cfg.Memory = Memory{Path: ""}
	cfg.WriterOptions = json.RawMessage(`{
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"prefix":"","api_key":""}`),
			Limits:  Limits{QPS: 0, Burst: 0},
		},
		"baidu": {
			Client: "baidu",
			// 凭据默认从 TRANSLATION_APP_ID / TRANSLATION_SECRET 读取
			Options: json.RawMessage(`{
  "base_url": "",
  "app_id_env": "TRANSLATION_APP_ID",
  "app_id": "",
  "secret_env": "TRANSLATION_SECRET",
  "secret": "",
  "timeout_seconds": 30
}`),
			// 标准版 QPS=1
			Limits: Limits{QPS: 1, Burst: 1},
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			Limits: Limits{QPS: 0, Burst: 0},
		},
	}
	return cfg
}

// EnvTemplate: init-config 生成的 .env 模板（不含真实凭据）。
const EnvTemplate = `# patchsync 凭据（.env 不会覆盖已存在的环境变量）
TRANSLATION_APP_ID=
TRANSLATION_SECRET=
OPENAI_API_KEY=
# 覆盖示例：PATCHSYNC_CONCURRENCY=8
`

// Render 将配置编码为 json（两空格缩进）或 toml。
func Render(cfg Config, format string) ([]byte, error) {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "", "json":
		return append(b, '\n'), nil
	case "toml":
		// 经由通用树转换，键名与 JSON 一致
		var tree map[string]any
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, err
		}
		return toml.Marshal(normalizeNumbers(tree))
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrConfig, format)
	}
}

// normalizeNumbers 将 json.Number 还原为 int64/float64，便于 TOML 输出整数。
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumbers(x)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalizeNumbers(x)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
