package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"patchsync/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// Patterns: 文件基名匹配的 glob 列表（如 "*.item"）；为空表示全部常规文件。
	Patterns []string `json:"patterns"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，忽略大小写）。
	// 例如 [".git","node_modules"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 实现基于文件系统的源树 Reader。
// FileID 为相对 root 的 "/" 分隔路径；遍历顺序：同层先目录后文件，各自字典序。
type FileSystem struct {
	bufSize int
	globs   []glob.Glob
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

// New 创建 FileSystem Reader；非法 glob 返回错误。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, excludeDir: map[string]struct{}{}}
	if opts == nil {
		return r, nil
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		r.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	for _, p := range opts.Patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, contract.ErrInvalidInput)
		}
		r.globs = append(r.globs, g)
	}
	return r, nil
}

var _ contract.Reader = (*FileSystem)(nil)

// Match 报告基名是否命中任一 pattern（无 pattern 时总为真）。
func (r *FileSystem) Match(base string) bool {
	if len(r.globs) == 0 {
		return true
	}
	for _, g := range r.globs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

// Iterate 遍历 root，按稳定顺序对每个命中的常规文件调用 yield；yield 返回后关闭文件。
// root 不存在时视为空树。
func (r *FileSystem) Iterate(ctx context.Context, root string, yield func(id contract.FileID, rd io.Reader) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("reader root %s: not a directory: %w", root, contract.ErrInvalidInput)
	}
	return r.walkDir(ctx, root, "", yield)
}

func (r *FileSystem) walkDir(ctx context.Context, root, rel string, yield func(contract.FileID, io.Reader) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dir := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, root, joinRel(rel, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接）
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.IsDir() || !r.Match(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := r.yieldFile(p, joinRel(rel, e.Name()), yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) yieldFile(p, rel string, yield func(contract.FileID, io.Reader) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return yield(contract.NormalizeFileID(rel), bufio.NewReaderSize(f, r.bufSize))
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}
