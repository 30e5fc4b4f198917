package pipeline

import (
	"context"
	"errors"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/keypath"
	"patchsync/pkg/contract"
)

// - 检测与修复解耦：Detect 产出报告；Repair 只消费报告，不依赖检测期的任何共享状态。
// - 单点并发：仅 Repair 管理并发（有界 worker 池）；原子组件均为同步实现。
// - 按文件批处理：同一补丁文件的所有修复累积后一次写出，避免并发读改写丢失追加。
// - 局部失败不中断：单个文档/文件失败只记录日志与计数，其余照常处理。

// Translator: 翻译步骤（空输入短路、重试、节流由实现负责）。
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Components 聚合运行所需的原子组件。
type Components struct {
	Sources    contract.Reader    // 源树（按 patterns 过滤）
	Patches    contract.Reader    // 补丁树（*.patch）
	Sanitizer  contract.Sanitizer // 源文本净化
	Translator Translator         // 仅 Repair 需要
	Writer     contract.Writer    // 输出目录（Repair/Apply 需要）
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	SourceDir string // 源树根目录
	PatchDir  string // 补丁树根目录；同时是报告中补丁路径的前缀
	OutputDir string // 修复写出目录（提交目录或试运行目录）
	Keys      keypath.KeySet
	// Concurrency: 翻译 worker 数（>=1）。
	Concurrency int
}

// Layout 返回报告与补丁路径的命名约定。
func (s Settings) Layout() contract.Layout { return contract.Layout{Root: s.PatchDir} }

func sanityDetect(c Components, s Settings) error {
	if c.Sources == nil || c.Patches == nil || c.Sanitizer == nil {
		return errors.New("pipeline: missing components")
	}
	if s.SourceDir == "" || s.PatchDir == "" {
		return errors.New("pipeline: source_dir/patch_dir empty")
	}
	if len(s.Keys) == 0 {
		return errors.New("pipeline: no translatable keys")
	}
	return nil
}

func sanityRepair(c Components, s Settings) error {
	if c.Sanitizer == nil || c.Translator == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if s.SourceDir == "" || s.PatchDir == "" || s.OutputDir == "" {
		return errors.New("pipeline: source_dir/patch_dir/output_dir empty")
	}
	if len(s.Keys) == 0 {
		return errors.New("pipeline: no translatable keys")
	}
	return nil
}

// fail 统一记录错误日志与计数（logger 可为 nil）。
func fail(logger *diag.Logger, comp string, err error, start *time.Time, fileID, keyPath string) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), err.Error(), start, fileID, keyPath)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}
