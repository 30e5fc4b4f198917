//go:build windows

package filesystem

import (
	"os"

	"golang.org/x/sys/windows"
)

// replaceFile 用 MoveFileEx 覆盖已存在的目标；os.Rename 在目标存在时会失败。
func replaceFile(src, dst string) error {
	from, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}
	if err := windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH); err != nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: err}
	}
	return nil
}

// syncParent Windows 无法对目录句柄 fsync，WRITE_THROUGH 已覆盖。
func syncParent(string) error { return nil }
