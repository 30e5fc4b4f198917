package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"patchsync/pkg/contract"
)

// Options 补丁/报告落盘选项。
type Options struct {
	// OutputDir 输出根目录，必填。由运行模式决定（提交写翻译目录，演练写测试目录）。
	OutputDir string `json:"output_dir"`
	// Atomic 为 nil 或 true 时走临时文件 + 替换；显式 false 则原地截断重写。
	Atomic   *bool       `json:"atomic,omitempty"`
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	BufSize  int         `json:"buf_size,omitempty"`
}

const (
	defaultBufSize  = 64 * 1024
	defaultPermFile = 0o644
	defaultPermDir  = 0o755
)

// FS 以输出根目录为界写出补丁文件；id 为 "/" 分隔的相对路径，例如 items/sword.item.patch。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

var _ contract.Writer = (*FS)(nil)

func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	w := &FS{
		root:    opts.OutputDir,
		atomic:  opts.Atomic == nil || *opts.Atomic,
		permF:   opts.PermFile,
		permD:   opts.PermDir,
		bufSize: opts.BufSize,
	}
	if w.permF == 0 {
		w.permF = defaultPermFile
	}
	if w.permD == 0 {
		w.permD = defaultPermDir
	}
	if w.bufSize <= 0 {
		w.bufSize = defaultBufSize
	}
	return w, nil
}

func (w *FS) Root() string { return w.root }

// Path 返回 id 落盘的实际路径；越出根目录时返回 ErrPathInvalid。
func (w *FS) Path(id string) (string, error) { return w.resolve(id) }

// Write 写出 id 的完整内容。原子模式下读者只会看到旧文件或完整新文件。
func (w *FS) Write(ctx context.Context, id string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.resolve(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if !w.atomic {
		return w.truncateWrite(ctx, dest, r)
	}
	return w.stageAndReplace(ctx, dest, r)
}

func (w *FS) resolve(id string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(id))
	switch {
	case rel == "." || rel == "":
		return "", contract.ErrPathInvalid
	case filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return "", contract.ErrPathInvalid
	case rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)):
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) truncateWrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	if err := w.copyTo(ctx, f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// stageAndReplace 在目标同目录写临时文件（.<name>.tmp-*），fsync 后替换目标。
// 任一步失败都会删除临时文件，目标保持原样。
func (w *FS) stageAndReplace(ctx context.Context, dest string, r io.Reader) (err error) {
	dir, name := filepath.Split(dest)
	tmp, err := os.CreateTemp(dir, "."+name+tmpMarker+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(w.permF); err != nil {
		return err
	}
	if err = w.copyTo(ctx, tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = replaceFile(tmp.Name(), dest); err != nil {
		return err
	}
	// 目录项落盘失败不影响已完成的替换
	_ = syncParent(dir)
	return nil
}

const tmpMarker = ".tmp-"

func (w *FS) copyTo(ctx context.Context, f *os.File, r io.Reader) error {
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, cancellable{ctx: ctx, r: r}); err != nil {
		return err
	}
	return bw.Flush()
}

// cancellable 每次 Read 前检查 ctx。
type cancellable struct {
	ctx context.Context
	r   io.Reader
}

func (c cancellable) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
