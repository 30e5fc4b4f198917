package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"patchsync/internal/diag"
	"patchsync/internal/keypath"
	"patchsync/internal/patch"
	"patchsync/internal/report"
	"patchsync/pkg/contract"
)

// Summary: 一次修复的统计。
type Summary struct {
	Files         int // 待修复的补丁文件数
	Written       int // 成功写出的补丁文件数
	Translated    int // 经翻译填充的记录数
	Copied        int // 非字符串叶子原样复制的记录数
	Skipped       int // 已存在或源中已无法解析的键路径
	Failed        int // 翻译失败的记录数 + 写出失败的文件数 + 无法加载的文档数
	Informational int // OrphanedEntry / MissingSourceDocument（仅记录）
	Invalid       int // 无法解析的报告行
}

// slot: 待填充的一条记录。
type slot struct {
	path   string
	source json.RawMessage
	value  json.RawMessage
	ok     bool
}

// fileJob: 单个补丁文件的全部修复；最后一个完成的 slot 触发一次写出。
type fileJob struct {
	doc       contract.FileID
	full      bool // MissingFile：整文件重建
	keyPaths  []string
	base      *patch.File
	slots     []slot
	remaining atomic.Int32
	start     time.Time
}

type task struct {
	job *fileJob
	idx int
}

// Repair 消费报告，修复 MissingFile 与 MissingEntry；其余发现仅记录。
// 同一补丁文件的所有条目在内存中累积后一次性原子写出；翻译在有界 worker 池中并发执行。
// 仅在参数非法时返回错误；中途取消时已完成的文件照常写出，剩余缺口由下一次检测重新报告。
func Repair(ctx context.Context, comp Components, set Settings, rep report.Report, logger *diag.Logger) (Summary, error) {
	var sum Summary
	if err := sanityRepair(comp, set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	layout := set.Layout()
	runStart := time.Now()

	findings, bad := rep.Findings(layout)
	for _, err := range bad {
		sum.Invalid++
		fail(logger, "repair", err, nil, "", "")
	}

	// 1) 按补丁文件分组（首次出现顺序）
	var order []*fileJob
	jobs := map[contract.FileID]*fileJob{}
	for _, f := range findings {
		if !f.Kind.Repairable() {
			sum.Informational++
			logger.DebugStart("repair", "informational", f.PatchPath, f.KeyPath, map[string]string{"kind": string(f.Kind)})
			continue
		}
		j := jobs[f.Document]
		if j == nil {
			j = &fileJob{doc: f.Document}
			jobs[f.Document] = j
			order = append(order, j)
		}
		switch f.Kind {
		case contract.MissingFile:
			j.full = true
		case contract.MissingEntry:
			j.keyPaths = append(j.keyPaths, f.KeyPath)
		}
	}
	sum.Files = len(order)

	// 2) 逐文件准备基底与 slot（文档经缓存只解析一次）
	cache := newDocCache(set.SourceDir, comp.Sanitizer)
	var ready []*fileJob
	entries := 0
	for _, j := range order {
		if err := ctx.Err(); err != nil {
			break
		}
		j.start = time.Now()
		root, err := cache.get(j.doc)
		if err != nil {
			sum.Failed++
			fail(logger, "repair", err, &j.start, string(j.doc), "")
			continue
		}
		if j.full {
			j.base = &patch.File{}
			for _, l := range keypath.Extract(root, set.Keys) {
				j.slots = append(j.slots, slot{path: l.Path, source: l.Value})
			}
		} else {
			j.base = loadBase(comp.Writer, set, layout, j.doc, logger)
			seen := map[string]struct{}{}
			for _, kp := range j.keyPaths {
				if _, dup := seen[kp]; dup || j.base.Has(kp) {
					sum.Skipped++
					continue
				}
				seen[kp] = struct{}{}
				n, ok := keypath.Resolve(root, kp)
				if !ok {
					sum.Skipped++
					logger.Warn("repair", string(diag.CodeInvariant), "key path no longer present in source", string(j.doc), kp)
					continue
				}
				j.slots = append(j.slots, slot{path: kp, source: n.JSON()})
			}
			if len(j.slots) == 0 {
				continue
			}
		}
		j.remaining.Store(int32(len(j.slots)))
		entries += len(j.slots)
		ready = append(ready, j)
	}
	if t := diag.GetTerminal(); t != nil {
		t.Plan(len(ready), entries)
	}

	// 3) worker 池：翻译各 slot；文件的最后一个 slot 完成后写出该文件
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		done     int
		errCount int
	)
	taskCh := make(chan task, set.Concurrency*2)
	// 取消后已完成的文件仍需落盘
	writeCtx := context.WithoutCancel(ctx)
	finish := func(j *fileJob) {
		ok, n := writeJob(writeCtx, comp.Writer, j, logger)
		mu.Lock()
		if ok {
			sum.Written++
		} else {
			sum.Failed++
		}
		mu.Unlock()
		if t := diag.GetTerminal(); t != nil {
			t.FileFinish(string(j.doc)+contract.PatchSuffix, n, ok, time.Since(j.start))
		}
	}
	for _, j := range ready {
		if len(j.slots) == 0 {
			// 无叶子的文档：写出空数组
			finish(j)
		}
	}
	worker := func() {
		defer wg.Done()
		for t := range taskCh {
			s := &t.job.slots[t.idx]
			translated, copied, err := fill(ctx, comp.Translator, s)
			mu.Lock()
			done++
			switch {
			case err != nil:
				errCount++
				sum.Failed++
			case copied:
				sum.Copied++
			case translated:
				sum.Translated++
			}
			d, e := done, errCount
			mu.Unlock()
			if err != nil {
				fail(logger, "repair", err, nil, string(t.job.doc), s.path)
			}
			if term := diag.GetTerminal(); term != nil {
				term.Progress(d, e)
			}
			if t.job.remaining.Add(-1) == 0 {
				finish(t.job)
			}
		}
	}
	for i := 0; i < set.Concurrency; i++ {
		wg.Add(1)
		go worker()
	}
	for _, j := range ready {
		for i := range j.slots {
			taskCh <- task{job: j, idx: i}
		}
	}
	close(taskCh)
	wg.Wait()

	logger.InfoFinish("repair", "done", runStart, int64(sum.Written))
	return sum, nil
}

// fill 为单个 slot 求值：字符串叶子走翻译；其他类型原样复制。
func fill(ctx context.Context, tr Translator, s *slot) (translated, copied bool, err error) {
	text, isText := contract.DecodeText(s.source)
	if !isText {
		s.value, s.ok = s.source, true
		return false, true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, false, err
	}
	out, err := tr.Translate(ctx, text)
	if err != nil {
		return false, false, err
	}
	s.value, s.ok = contract.EncodeText(out), true
	return true, false, nil
}

// locator 由能报告落盘位置的 Writer 实现（如文件系统 Writer）。
type locator interface {
	Path(id string) (string, error)
}

// loadBase 读取追加基底：优先输出目录中已有文件，否则为报告所指的补丁文件。
// 不存在或无法解析时返回空文件（后者记录告警）。
func loadBase(w contract.Writer, set Settings, layout contract.Layout, doc contract.FileID, logger *diag.Logger) *patch.File {
	id := string(doc) + contract.PatchSuffix
	out := filepath.Join(set.OutputDir, filepath.FromSlash(id))
	if l, ok := w.(locator); ok {
		if p, err := l.Path(id); err == nil {
			out = p
		}
	}
	candidates := []string{out, filepath.FromSlash(layout.PatchPath(doc))}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		pf, err := patch.Load(p)
		if errors.Is(err, contract.ErrParse) {
			logger.Warn("repair", string(diag.CodeParse), "patch file unparseable, treated as empty: "+err.Error(), p, "")
			return &patch.File{}
		}
		if err != nil {
			logger.Warn("repair", string(diag.Classify(err)), err.Error(), p, "")
			continue
		}
		if pf != nil {
			return pf
		}
	}
	return &patch.File{}
}

// writeJob 将成功的 slot 按报告顺序追加到基底并原子写出；返回是否成功与新增记录数。
func writeJob(ctx context.Context, w contract.Writer, j *fileJob, logger *diag.Logger) (bool, int) {
	added := 0
	for _, s := range j.slots {
		if !s.ok {
			continue
		}
		j.base.Append(patch.NewRecord(s.path, s.source, s.value))
		added++
	}
	if !j.full && added == 0 {
		// 全部失败：保持原文件不动
		return false, 0
	}
	id := string(j.doc) + contract.PatchSuffix
	wt := logger.StartWith("writer", "write", id, "")
	b, err := j.base.Encode()
	if err == nil {
		err = w.Write(ctx, id, bytes.NewReader(b))
	}
	if err != nil {
		fail(logger, "writer", fmt.Errorf("%w: %s: %v", contract.ErrWrite, id, err), &j.start, id, "")
		return false, added
	}
	wt.Finish("write", int64(added))
	diag.IncOp("writer", "finish", "success")
	return true, added
}
