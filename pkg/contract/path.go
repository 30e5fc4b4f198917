package contract

import (
	"fmt"
	"path"
	"strings"
)

// PatchSuffix: 补丁文件后缀（镜像源文档相对路径 + 后缀）。
const PatchSuffix = ".patch"

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// Layout: 源文档与补丁文件之间的命名约定。
// Root 为报告中展示的补丁根目录（例如 "translation"）。
type Layout struct {
	Root string
}

// PatchPath 返回源文档对应的补丁文件展示路径，例如 translation/a.item.patch。
func (l Layout) PatchPath(id FileID) string {
	root := string(NormalizeFileID(l.Root))
	if root == "." || root == "" {
		return string(id) + PatchSuffix
	}
	return root + "/" + string(id) + PatchSuffix
}

// Document 从补丁文件展示路径还原镜像的源文档标识。
// 路径必须位于 Root 之下且以 PatchSuffix 结尾。
func (l Layout) Document(patchPath string) (FileID, error) {
	p := string(NormalizeFileID(patchPath))
	if !strings.HasSuffix(p, PatchSuffix) {
		return "", fmt.Errorf("%w: %q lacks %s suffix", ErrPathInvalid, patchPath, PatchSuffix)
	}
	p = strings.TrimSuffix(p, PatchSuffix)
	root := string(NormalizeFileID(l.Root))
	if root != "." && root != "" {
		if !strings.HasPrefix(p, root+"/") {
			return "", fmt.Errorf("%w: %q is outside %q", ErrPathInvalid, patchPath, root)
		}
		p = strings.TrimPrefix(p, root+"/")
	}
	id := NormalizeFileID(p)
	if id == "." || id == ".." || strings.HasPrefix(string(id), "../") || path.IsAbs(string(id)) {
		return "", fmt.Errorf("%w: %q", ErrPathInvalid, patchPath)
	}
	return id, nil
}
