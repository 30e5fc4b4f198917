// Package drift 比较源文档的可翻译叶子与补丁文件记录，产出漂移发现。
//
// 只产出四种变体：MissingFile、MissingEntry、OrphanedEntry、MissingSourceDocument。
// 集合比较基于 map 查找，复杂度与文档规模成线性关系。
package drift

import (
	"patchsync/internal/patch"
	"patchsync/pkg/contract"
)

// Classify 比较单个 (源文档, 补丁文件或缺失) 对。
// pf 为 nil 表示补丁文件不存在：仅产出 MissingFile。
// 无法解析的补丁文件应以空文件传入（存在但为空），此时每个源叶子都产出 MissingEntry。
func Classify(doc contract.Document, pf *patch.File, layout contract.Layout) []contract.Finding {
	patchPath := layout.PatchPath(doc.ID)
	if pf == nil {
		return []contract.Finding{{Kind: contract.MissingFile, Document: doc.ID, PatchPath: patchPath}}
	}

	have := pf.Paths()
	want := doc.Paths()

	var out []contract.Finding
	emitted := make(map[string]struct{}, len(doc.Leaves))
	for _, l := range doc.Leaves {
		if _, ok := have[l.Path]; ok {
			continue
		}
		if _, dup := emitted[l.Path]; dup {
			continue
		}
		emitted[l.Path] = struct{}{}
		out = append(out, contract.Finding{Kind: contract.MissingEntry, KeyPath: l.Path, Document: doc.ID, PatchPath: patchPath})
	}

	orphaned := map[string]struct{}{}
	for _, r := range pf.Records {
		if _, ok := want[r.Path]; ok {
			continue
		}
		if _, dup := orphaned[r.Path]; dup {
			continue
		}
		orphaned[r.Path] = struct{}{}
		out = append(out, contract.Finding{Kind: contract.OrphanedEntry, KeyPath: r.Path, Document: doc.ID, PatchPath: patchPath})
	}
	return out
}

// Orphans 对每个镜像源文档不在 known 中的补丁文件产出 MissingSourceDocument。
// patchIDs 为补丁文件对应的源文档标识（已去除根目录与后缀），按调用方给定的顺序输出。
func Orphans(known map[contract.FileID]struct{}, patchIDs []contract.FileID, layout contract.Layout) []contract.Finding {
	var out []contract.Finding
	for _, id := range patchIDs {
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, contract.Finding{Kind: contract.MissingSourceDocument, Document: id, PatchPath: layout.PatchPath(id)})
	}
	return out
}
