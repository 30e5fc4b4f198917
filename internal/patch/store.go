// Package patch 处理补丁文件：解析、重复检测、追加与编码。
//
// 文件格式：UTF-8 JSON 数组，每个元素为 {path, op, source, value}。
// 已有记录按原样回写（保留未知字段与顺序）；新记录仅追加在末尾。
package patch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"patchsync/pkg/contract"
)

// File: 内存中的补丁文件。
type File struct {
	Records []contract.PatchRecord
	// raws 与 Records 前缀一一对应：解析得到的记录保留原样 JSON。
	raws []json.RawMessage
}

// Parse 解析补丁文件内容。
// 非数组、元素不是对象或 path 不是字符串时返回包装 contract.ErrParse 的错误。
func Parse(b []byte) (*File, error) {
	if t := bytes.TrimSpace(b); len(t) == 0 || t[0] != '[' {
		return nil, fmt.Errorf("%w: not a JSON array", contract.ErrParse)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrParse, err)
	}
	f := &File{
		Records: make([]contract.PatchRecord, 0, len(items)),
		raws:    make([]json.RawMessage, 0, len(items)),
	}
	for i, raw := range items {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil || probe == nil {
			return nil, fmt.Errorf("%w: record %d is not an object", contract.ErrParse, i)
		}
		var rec contract.PatchRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", contract.ErrParse, i, err)
		}
		if p, ok := probe["path"]; !ok || len(p) == 0 || p[0] != '"' {
			return nil, fmt.Errorf("%w: record %d has no string path", contract.ErrParse, i)
		}
		f.Records = append(f.Records, rec)
		f.raws = append(f.raws, raw)
	}
	return f, nil
}

// Load 读取补丁文件。
//   - 文件不存在：返回 (nil, nil)，表示“缺失”；
//   - 无法解析：返回空文件与包装 contract.ErrParse 的错误（存在但为空，调用方记录告警后继续）；
//   - 其他 I/O 错误：返回 (nil, err)。
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return &File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Len 返回记录数。
func (f *File) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Records)
}

// Paths 返回记录路径集合。
func (f *File) Paths() map[string]struct{} {
	out := make(map[string]struct{}, f.Len())
	if f == nil {
		return out
	}
	for _, r := range f.Records {
		out[r.Path] = struct{}{}
	}
	return out
}

// Has 报告是否已有该路径的记录。
func (f *File) Has(path string) bool {
	if f == nil {
		return false
	}
	for _, r := range f.Records {
		if r.Path == path {
			return true
		}
	}
	return false
}

// Duplicates 返回出现多次的 path（按首次重复出现的顺序）。
// 重复意味着同步状态已损坏：调用方必须上报，不得静默合并。
func (f *File) Duplicates() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]int, len(f.Records))
	var dups []string
	for _, r := range f.Records {
		seen[r.Path]++
		if seen[r.Path] == 2 {
			dups = append(dups, r.Path)
		}
	}
	return dups
}

// Append 在末尾追加记录（不重排）。
func (f *File) Append(recs ...contract.PatchRecord) {
	f.Records = append(f.Records, recs...)
}

// NewRecord 构造一条 replace 记录。
func NewRecord(path string, source, value json.RawMessage) contract.PatchRecord {
	return contract.PatchRecord{Path: path, Op: contract.OpReplace, Source: source, Value: value}
}

// Encode 输出两空格缩进的 JSON 数组（末尾换行，不转义 HTML 字符）。
func (f *File) Encode() ([]byte, error) {
	items := make([]json.RawMessage, 0, f.Len())
	if f != nil {
		for i, r := range f.Records {
			if i < len(f.raws) {
				items = append(items, f.raws[i])
				continue
			}
			b, err := marshalRecord(r)
			if err != nil {
				return nil, err
			}
			items = append(items, b)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalRecord(r contract.PatchRecord) (json.RawMessage, error) {
	if r.Source == nil {
		r.Source = json.RawMessage("null")
	}
	if r.Value == nil {
		r.Value = json.RawMessage("null")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
