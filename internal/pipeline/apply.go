package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/patch"
	"patchsync/pkg/contract"
)

// ApplySummary: 一次应用的统计。
type ApplySummary struct {
	Documents int // 遍历到的源文档
	Patched   int // 写出的本地化文档
	Unpatched int // 没有补丁文件的文档（不写出）
	Applied   int // 成功应用的记录
	Skipped   int // 路径已不存在于源文档的记录
	Failed    int
}

// Apply 将补丁树应用到源树，写出本地化后的文档（与源同名，写入 comp.Writer）。
// 无法解析的补丁文件按空处理并告警；单文档失败不中断。
func Apply(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (ApplySummary, error) {
	var sum ApplySummary
	if comp.Sources == nil || comp.Sanitizer == nil || comp.Writer == nil {
		return sum, errors.New("sanity: pipeline: missing components")
	}
	layout := set.Layout()
	runStart := time.Now()
	err := comp.Sources.Iterate(ctx, set.SourceDir, func(id contract.FileID, r io.Reader) error {
		sum.Documents++
		start := time.Now()
		pp := filepath.FromSlash(layout.PatchPath(id))
		pf, err := patch.Load(pp)
		if errors.Is(err, contract.ErrParse) {
			logger.Warn("apply", string(diag.CodeParse), "patch file unparseable, treated as empty: "+err.Error(), pp, "")
		} else if err != nil {
			sum.Failed++
			fail(logger, "apply", err, &start, string(id), "")
			return nil
		}
		if pf.Len() == 0 {
			sum.Unpatched++
			return nil
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		root, err := DecodeDocument(raw, comp.Sanitizer)
		if err != nil {
			sum.Failed++
			fail(logger, "sanitize", err, &start, string(id), "")
			return nil
		}
		out, applied, skipped, err := patch.Apply(root, pf)
		sum.Skipped += skipped
		if err != nil {
			sum.Failed++
			fail(logger, "apply", fmt.Errorf("%w: %v", contract.ErrInvariantViolation, err), &start, string(id), "")
			return nil
		}
		if err := comp.Writer.Write(context.WithoutCancel(ctx), string(id), bytes.NewReader(out)); err != nil {
			sum.Failed++
			fail(logger, "writer", fmt.Errorf("%w: %s: %v", contract.ErrWrite, id, err), &start, string(id), "")
			return nil
		}
		sum.Applied += applied
		sum.Patched++
		diag.IncOp("apply", "document", "success")
		logger.DebugStart("apply", "applied", string(id), "", map[string]string{
			"applied": fmt.Sprintf("%d", applied),
			"skipped": fmt.Sprintf("%d", skipped),
		})
		return nil
	})
	if err != nil {
		fail(logger, "reader", err, nil, "", "")
		return sum, fmt.Errorf("reader iterate sources: %w", err)
	}
	logger.InfoFinish("apply", "done", runStart, int64(sum.Patched))
	return sum, nil
}
