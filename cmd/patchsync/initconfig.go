package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cfgpkg "patchsync/internal/config"
)

func newInitConfigCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a default config file and .env template (existing files are not overwritten)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("%w: %v", cfgpkg.ErrConfig, err)
			}
			b, err := cfgpkg.Render(cfgpkg.DefaultTemplateConfig(), format)
			if err != nil {
				return err
			}
			cfgPath := filepath.Join(dir, "config."+format)
			if err := writeNew(cfgPath, b); err != nil {
				return fmt.Errorf("%w: %v", cfgpkg.ErrConfig, err)
			}
			_, _ = fmt.Fprintf(a.stdout, "已生成 %s\n", cfgPath)
			envPath := filepath.Join(dir, ".env")
			if err := writeNew(envPath, []byte(cfgpkg.EnvTemplate)); err != nil {
				if !os.IsExist(err) {
					_, _ = fmt.Fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
				}
				return nil
			}
			_, _ = fmt.Fprintf(a.stdout, "已生成 %s\n", envPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "配置格式 json|toml")
	return cmd
}

// writeNew 仅创建新文件；已存在时返回 os.ErrExist。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
