package patch

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"patchsync/internal/keypath"
	"patchsync/pkg/contract"
)

type operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Apply 将补丁文件作为 RFC 6902 JSON Patch 应用到源文档，返回本地化后的文档。
// 仅应用 path 在源文档中可解析的 replace 记录；孤儿记录被跳过并计入 skipped。
// 注意：输出由 json-patch 重新编码，不保证键顺序。
func Apply(root *keypath.Node, f *File) (out []byte, applied, skipped int, err error) {
	ops := make([]operation, 0, f.Len())
	if f != nil {
		for _, r := range f.Records {
			if r.Op != contract.OpReplace {
				skipped++
				continue
			}
			if _, ok := keypath.Resolve(root, r.Path); !ok {
				skipped++
				continue
			}
			v := r.Value
			if len(v) == 0 {
				v = json.RawMessage("null")
			}
			ops = append(ops, operation{Op: contract.OpReplace, Path: pointer(r.Path), Value: v})
		}
	}
	doc := root.JSON()
	if len(ops) == 0 {
		return doc, 0, skipped, nil
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, 0, skipped, err
	}
	p, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, 0, skipped, fmt.Errorf("decode patch: %w", err)
	}
	out, err = p.Apply(doc)
	if err != nil {
		return nil, 0, skipped, fmt.Errorf("apply patch: %w", err)
	}
	return out, len(ops), skipped, nil
}

// pointer 将键路径转为 JSON Pointer（段内 "~" 转义为 "~0"）。
func pointer(path string) string {
	segs := keypath.Split(path)
	for i, s := range segs {
		segs[i] = strings.ReplaceAll(s, "~", "~0")
	}
	return keypath.Join(segs...)
}
