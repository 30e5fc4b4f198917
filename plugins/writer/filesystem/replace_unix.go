//go:build !windows

package filesystem

import "os"

// replaceFile 同一文件系统内 rename(2) 本身即原子替换。
func replaceFile(src, dst string) error { return os.Rename(src, dst) }

func syncParent(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
