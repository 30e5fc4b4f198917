package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/drift"
	"patchsync/internal/keypath"
	"patchsync/internal/patch"
	"patchsync/internal/report"
	"patchsync/pkg/contract"
)

// Failure: 单个文档无法净化/解析（SanitizationFailure）。
type Failure struct {
	Document contract.FileID
	Err      error
}

// Result: 一次检测的产物。
type Result struct {
	Report report.Report
	// Documents: 参与比较的源文档数（含净化失败者）。
	Documents int
	// Failures: 净化失败的文档；这些文档仍计入“已存在”，不会触发 MissingSourceDocument。
	Failures []Failure
	// ParseWarnings: 无法解析、按空文件处理的补丁文件数。
	ParseWarnings int
	// Duplicates: 补丁文件内重复 path 的个数（只上报，不合并）。
	Duplicates int
	// Stale: 原文已变化的补丁记录（仅提示）。
	Stale []drift.StaleEntry
}

// Detect 遍历补丁树与源树，逐文档比较并汇总为报告。
// 仅在遍历本身失败或 ctx 取消时返回错误；单文档失败记录在 Result.Failures。
func Detect(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	var res Result
	if err := sanityDetect(comp, set); err != nil {
		return res, fmt.Errorf("sanity: %w", err)
	}
	layout := set.Layout()
	runStart := time.Now()

	// 1) 补丁树：按遍历顺序记录镜像文档标识与原始内容
	ptimer := logger.Start("reader", "patches")
	var patchIDs []contract.FileID
	patches := map[contract.FileID][]byte{}
	err := comp.Patches.Iterate(ctx, set.PatchDir, func(id contract.FileID, r io.Reader) error {
		if !strings.HasSuffix(string(id), contract.PatchSuffix) {
			return nil
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		doc := contract.FileID(strings.TrimSuffix(string(id), contract.PatchSuffix))
		patchIDs = append(patchIDs, doc)
		patches[doc] = b
		return nil
	})
	if err != nil {
		fail(logger, "reader", err, nil, "", "")
		return res, fmt.Errorf("reader iterate patches: %w", err)
	}
	ptimer.Finish("patches", int64(len(patchIDs)))

	// 2) 源树：净化 → 解析 → 抽取 → 分类
	known := map[contract.FileID]struct{}{}
	var groups [][]contract.Finding
	stimer := logger.Start("detect", "sources")
	err = comp.Sources.Iterate(ctx, set.SourceDir, func(id contract.FileID, r io.Reader) error {
		known[id] = struct{}{}
		res.Documents++
		start := time.Now()
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", id, err)
		}
		root, err := DecodeDocument(raw, comp.Sanitizer)
		if err != nil {
			fail(logger, "sanitize", err, &start, string(id), "")
			res.Failures = append(res.Failures, Failure{Document: id, Err: err})
			return nil
		}
		doc := contract.Document{ID: id, Leaves: keypath.Extract(root, set.Keys)}

		var pf *patch.File
		if b, ok := patches[id]; ok {
			pf, err = patch.Parse(b)
			if err != nil {
				// 存在但为空：每个叶子都会被报告为 MissingEntry
				pf = &patch.File{}
				res.ParseWarnings++
				logger.Warn("detect", string(diag.Classify(err)), "patch file unparseable, treated as empty: "+err.Error(), layout.PatchPath(id), "")
				diag.IncError("detect", string(diag.CodeParse))
			}
		}
		for _, dup := range pf.Duplicates() {
			res.Duplicates++
			logger.Warn("detect", string(diag.CodeInvariant), "duplicate patch path", layout.PatchPath(id), dup)
			diag.IncError("detect", string(diag.CodeInvariant))
		}

		findings := drift.Classify(doc, pf, layout)
		groups = append(groups, findings)
		res.Stale = append(res.Stale, drift.Stale(doc, pf)...)
		logger.DebugStart("detect", "classified", string(id), "", map[string]string{
			"leaves":   fmt.Sprintf("%d", len(doc.Leaves)),
			"records":  fmt.Sprintf("%d", pf.Len()),
			"findings": fmt.Sprintf("%d", len(findings)),
		})
		diag.IncOp("detect", "document", "success")
		return nil
	})
	if err != nil {
		fail(logger, "reader", err, nil, "", "")
		return res, fmt.Errorf("reader iterate sources: %w", err)
	}
	stimer.Finish("sources", int64(res.Documents))

	// 3) 孤立补丁文件 + 汇总
	orphans := drift.Orphans(known, patchIDs, layout)
	res.Report = report.Aggregate(append([][]contract.Finding{orphans}, groups...)...)
	logger.InfoFinish("detect", "report", runStart, int64(len(res.Report)))
	return res, nil
}
