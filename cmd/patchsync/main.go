package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "patchsync/internal/config"
)

// 退出码：0 成功；1 运行完成但存在单文档/单文件失败（或被取消）；3 配置/装配错误。
const (
	exitOK      = 0
	exitPartial = 1
	exitConfig  = 3
)

// errPartial: 运行完成但有失败项（已记录日志）。
var errPartial = errors.New("run completed with failures")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行 CLI 并将错误映射为退出码。
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.teardown()
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return exitCode(err, stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cfgpkg.ErrConfig):
		_, _ = fmt.Fprintf(stderr, "配置错误: %v\n", err)
		return exitConfig
	case errors.Is(err, errPartial), errors.Is(err, context.Canceled):
		return exitPartial
	default:
		_, _ = fmt.Fprintf(stderr, "运行失败: %v\n", err)
		return exitPartial
	}
}
