package contract

// FindingKind: 漂移发现的四种变体（穷尽）。
type FindingKind string

const (
	// MissingFile: 源文档存在，但补丁文件从未创建。
	MissingFile FindingKind = "MissingFile"
	// MissingEntry: 补丁文件缺少源文档中的某个可翻译叶子。
	MissingEntry FindingKind = "MissingEntry"
	// OrphanedEntry: 补丁记录在源文档中已无对应叶子。
	OrphanedEntry FindingKind = "OrphanedEntry"
	// MissingSourceDocument: 补丁文件对应的源文档不存在（源树结构变更/删除/改名）。
	MissingSourceDocument FindingKind = "MissingSourceDocument"
)

// Kinds 按固定顺序返回全部变体。
func Kinds() []FindingKind {
	return []FindingKind{MissingFile, MissingEntry, OrphanedEntry, MissingSourceDocument}
}

// Valid 报告 k 是否为已知变体。
func (k FindingKind) Valid() bool {
	switch k {
	case MissingFile, MissingEntry, OrphanedEntry, MissingSourceDocument:
		return true
	}
	return false
}

// EntryLevel 报告该变体是否携带 KeyPath。
func (k FindingKind) EntryLevel() bool {
	return k == MissingEntry || k == OrphanedEntry
}

// Repairable 报告该变体是否由同步器修复；其余两种仅作提示。
func (k FindingKind) Repairable() bool {
	return k == MissingFile || k == MissingEntry
}

// Finding: 漂移发现（带标签的变体）。
// - 文件级（MissingFile/MissingSourceDocument）：KeyPath 为空；
// - 条目级（MissingEntry/OrphanedEntry）：KeyPath 必填；
// - PatchPath 为报告中展示的补丁文件路径（含补丁根目录与后缀）；
// - Document 为镜像的源文档标识（可由 Layout 从 PatchPath 还原）。
type Finding struct {
	Kind      FindingKind
	KeyPath   string
	Document  FileID
	PatchPath string
}
