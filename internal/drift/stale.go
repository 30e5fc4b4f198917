package drift

import (
	"bytes"
	"encoding/json"

	"github.com/sergi/go-diff/diffmatchpatch"

	"patchsync/internal/patch"
	"patchsync/pkg/contract"
)

// StaleEntry: 补丁记录存在且路径仍有效，但记录的原文已与当前源值不同。
// 仅作提示，不属于漂移发现，也不会被同步器修改。
type StaleEntry struct {
	Document contract.FileID
	KeyPath  string
	Recorded json.RawMessage
	Current  json.RawMessage
}

// Stale 列出原文已变化的补丁记录（按补丁记录顺序）。
func Stale(doc contract.Document, pf *patch.File) []StaleEntry {
	if pf == nil {
		return nil
	}
	current := make(map[string]json.RawMessage, len(doc.Leaves))
	for _, l := range doc.Leaves {
		current[l.Path] = l.Value
	}
	var out []StaleEntry
	for _, r := range pf.Records {
		cur, ok := current[r.Path]
		if !ok {
			continue
		}
		if sameJSON(r.Source, cur) {
			continue
		}
		out = append(out, StaleEntry{Document: doc.ID, KeyPath: r.Path, Recorded: r.Source, Current: cur})
	}
	return out
}

// Diff 以字符级差异展示原文变化；color 为 true 时输出 ANSI 着色文本。
func (s StaleEntry) Diff(color bool) string {
	old := textOf(s.Recorded)
	cur := textOf(s.Current)
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(old, cur, false))
	if color {
		return dmp.DiffPrettyText(diffs)
	}
	var b bytes.Buffer
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

func textOf(raw json.RawMessage) string {
	if s, ok := contract.DecodeText(raw); ok {
		return s
	}
	return string(raw)
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	if bytes.Equal(ca.Bytes(), cb.Bytes()) {
		return true
	}
	// 字符串字面量可能因转义方式不同而字节不同
	sa, oka := contract.DecodeText(a)
	sb, okb := contract.DecodeText(b)
	return oka && okb && sa == sb
}
