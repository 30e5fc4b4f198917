// Package report 将漂移发现扁平化为可读、可回解析的字符串列表（检测与修复之间的唯一接口）。
//
// 行格式：
//
//	MissingFile <patchPath>
//	MissingSourceDocument <patchPath>
//	MissingEntry <keyPath> in <patchPath>
//	OrphanedEntry <keyPath> in <patchPath>
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"patchsync/pkg/contract"
)

// Report: 有序的发现字符串列表。
type Report []string

const sep = " in "

// Format 将发现格式化为单行文本。
func Format(f contract.Finding) string {
	if f.Kind.EntryLevel() {
		return string(f.Kind) + " " + f.KeyPath + sep + f.PatchPath
	}
	return string(f.Kind) + " " + f.PatchPath
}

// Parse 解析单行文本；Document 由 layout 从补丁路径还原。
// 未知标签或缺字段返回包装 contract.ErrInvalidInput 的错误。
func Parse(line string, layout contract.Layout) (contract.Finding, error) {
	line = strings.TrimSpace(line)
	tag, rest, ok := strings.Cut(line, " ")
	kind := contract.FindingKind(tag)
	if !ok || !kind.Valid() || strings.TrimSpace(rest) == "" {
		return contract.Finding{}, fmt.Errorf("%w: report line %q", contract.ErrInvalidInput, line)
	}
	f := contract.Finding{Kind: kind}
	if kind.EntryLevel() {
		// 键路径以 '/' 开头；补丁路径取最后一个分隔符之后的部分
		i := strings.LastIndex(rest, sep)
		if i <= 0 || !strings.HasPrefix(rest, "/") {
			return contract.Finding{}, fmt.Errorf("%w: report line %q", contract.ErrInvalidInput, line)
		}
		f.KeyPath = rest[:i]
		f.PatchPath = rest[i+len(sep):]
	} else {
		f.PatchPath = rest
	}
	id, err := layout.Document(f.PatchPath)
	if err != nil {
		return contract.Finding{}, fmt.Errorf("report line %q: %w", line, err)
	}
	f.Document = id
	return f, nil
}

// Aggregate 扁平化多组发现（保持组与组内顺序）。
func Aggregate(groups ...[]contract.Finding) Report {
	var out Report
	for _, g := range groups {
		for _, f := range g {
			out = append(out, Format(f))
		}
	}
	if out == nil {
		out = Report{}
	}
	return out
}

// Findings 回解析整份报告；无法解析的行收集到 bad 中返回，不中断其余行。
func (r Report) Findings(layout contract.Layout) (out []contract.Finding, bad []error) {
	for _, line := range r {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f, err := Parse(line, layout)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		out = append(out, f)
	}
	return out, bad
}

// Count 按变体统计。
func (r Report) Count() map[contract.FindingKind]int {
	m := make(map[contract.FindingKind]int, 4)
	for _, line := range r {
		tag, _, _ := strings.Cut(strings.TrimSpace(line), " ")
		if k := contract.FindingKind(tag); k.Valid() {
			m[k]++
		}
	}
	return m
}

// Encode 输出两空格缩进的 JSON 字符串数组。
func (r Report) Encode() ([]byte, error) {
	if r == nil {
		r = Report{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode([]string(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save 通过 Writer 原子写出报告。
func Save(ctx context.Context, w contract.Writer, name string, r Report) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	if err := w.Write(ctx, name, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("%w: report %s: %v", contract.ErrWrite, name, err)
	}
	return nil
}

// Load 读取报告文件（JSON 字符串数组）。
func Load(path string) (Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: report %s: %v", contract.ErrParse, path, err)
	}
	return r, nil
}
