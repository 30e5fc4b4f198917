package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。TOML 使用同名键。
type Config struct {
	// 目录布局：源树、提交补丁树、试运行输出树。
	SourceDir      string `json:"source_dir"`
	TranslationDir string `json:"translation_dir"`
	TestDir        string `json:"test_dir"`
	// ReportPath: 检测报告（JSON 字符串数组）。
	ReportPath string `json:"report_path"`

	// Patterns: 源文件基名 glob；Keys: 可翻译字段名；ExcludeDirs: 跳过的目录名。
	Patterns    []string `json:"patterns"`
	Keys        []string `json:"keys"`
	ExcludeDirs []string `json:"exclude_dirs"`

	Concurrency int `json:"concurrency"`
	// MaxAttempts: 单条翻译的最大尝试次数（>=0）。0 表示无限重试直到非空结果。
	MaxAttempts int     `json:"max_attempts"`
	Backoff     Backoff `json:"backoff"`
	Lang        Lang    `json:"lang"`
	Logging     Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// Writer 的原样 JSON Options（output_dir 由运行模式决定，不可配置）。
	WriterOptions json.RawMessage `json:"writer_options"`

	// 翻译网关选择与定义。
	Gateway  string              `json:"gateway"`
	Provider map[string]Provider `json:"provider"`

	Memory Memory `json:"memory"`
}

// Backoff: 翻译重试的指数退避（毫秒）。
type Backoff struct {
	BaseMS int `json:"base_ms"`
	MaxMS  int `json:"max_ms"`
}

// Lang: 源/目标语言代码（按网关约定，如 en → zh）。
type Lang struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader    string `json:"reader"`
	Writer    string `json:"writer"`
	Sanitizer string `json:"sanitizer"`
}

// Provider: 命名网关定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。QPS<=0 表示不限。
type Limits struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// Memory: 可选译文缓存；Path 为空表示关闭。
type Memory struct {
	Path string `json:"path"`
}
