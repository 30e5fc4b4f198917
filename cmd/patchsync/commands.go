package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	cfgpkg "patchsync/internal/config"
	"patchsync/internal/diag"
	"patchsync/internal/pipeline"
	"patchsync/internal/report"
	"patchsync/pkg/contract"
	wfs "patchsync/plugins/writer/filesystem"
)

// generateOverwriteMissing: repair 直接写入提交目录（translation_dir）。
const generateOverwriteMissing = "overwrite-missing"

func newScanCmd(a *app) *cobra.Command {
	var printReport bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Compare source and patch trees and write the drift report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.scan(cmd.Context())
			if err != nil {
				return err
			}
			if printReport {
				for _, line := range res.Report {
					_, _ = fmt.Fprintln(a.stdout, line)
				}
			}
			if len(res.Failures) > 0 {
				return errPartial
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printReport, "print", false, "同时将报告逐行输出到 stdout")
	return cmd
}

// scan 运行检测并保存报告。
func (a *app) scan(ctx context.Context) (pipeline.Result, error) {
	start := time.Now()
	rt, err := cfgpkg.Assemble(a.cfg, "", a.logger)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer rt.Close()
	a.term.RunStart("scan", a.cfg.Concurrency, a.cfg.Gateway)

	res, err := pipeline.Detect(ctx, rt.Components, rt.Settings, a.logger)
	if err != nil {
		a.term.RunFinish(false, time.Since(start))
		return res, err
	}
	if err := saveReport(ctx, a.cfg.ReportPath, res.Report); err != nil {
		a.logger.Error("report", string(diag.Classify(err)), err.Error(), &start)
		a.term.RunFinish(false, time.Since(start))
		return res, err
	}
	counts := map[string]int{}
	order := make([]string, 0, len(contract.Kinds()))
	for k, n := range res.Report.Count() {
		counts[string(k)] = n
	}
	for _, k := range contract.Kinds() {
		order = append(order, string(k))
	}
	a.term.ScanFinish(res.Documents, counts, order, time.Since(start))
	a.logger.InfoFinish("cli", "scan", start, int64(len(res.Report)))
	return res, nil
}

func saveReport(ctx context.Context, path string, rep report.Report) error {
	w, err := wfs.New(&wfs.Options{OutputDir: filepath.Dir(path)})
	if err != nil {
		return fmt.Errorf("%w: report %s: %v", contract.ErrWrite, path, err)
	}
	return report.Save(context.WithoutCancel(ctx), w, filepath.ToSlash(filepath.Base(path)), rep)
}

func newRepairCmd(a *app) *cobra.Command {
	var generate string
	var rescan bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Translate and write the missing patch files and entries named in the report",
		Long: `repair 消费 scan 产出的报告：
  --generate overwrite-missing  直接写入 translation_dir（提交）
  缺省                          写入 test_dir（试运行，以 test_dir 中已有文件为追加基底）`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			start := time.Now()
			out := a.cfg.TestDir
			mode := "dry-run"
			switch generate {
			case "":
			case generateOverwriteMissing:
				out = a.cfg.TranslationDir
				mode = "commit"
			default:
				return fmt.Errorf("%w: unknown --generate %q", cfgpkg.ErrConfig, generate)
			}
			if a.cfg.Gateway == "" {
				return fmt.Errorf("%w: gateway not set", cfgpkg.ErrConfig)
			}
			if rescan {
				if _, err := a.scan(ctx); err != nil {
					return err
				}
			}
			rep, err := report.Load(a.cfg.ReportPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("report %s not found, run scan first: %w", a.cfg.ReportPath, err)
				}
				return err
			}
			rt, err := cfgpkg.Assemble(a.cfg, out, a.logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			a.term.RunStart(mode, a.cfg.Concurrency, a.cfg.Gateway)

			sum, err := pipeline.Repair(ctx, rt.Components, rt.Settings, rep, a.logger)
			if err != nil {
				a.term.RunFinish(false, time.Since(start))
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "files=%d written=%d translated=%d copied=%d skipped=%d failed=%d informational=%d invalid=%d\n",
				sum.Files, sum.Written, sum.Translated, sum.Copied, sum.Skipped, sum.Failed, sum.Informational, sum.Invalid)
			ok := sum.Failed == 0 && sum.Invalid == 0 && ctx.Err() == nil
			a.term.RunFinish(ok, time.Since(start))
			a.logger.InfoFinish("cli", "repair", start, int64(sum.Written))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ok {
				return errPartial
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&generate, "generate", "", "写出模式：overwrite-missing 写入 translation_dir；缺省写入 test_dir")
	cmd.Flags().BoolVar(&rescan, "scan", false, "修复前先重新检测并保存报告")
	return cmd
}

func newStaleCmd(a *app) *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List patch records whose recorded source text no longer matches the source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			rt, err := cfgpkg.Assemble(a.cfg, "", a.logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := pipeline.Detect(cmd.Context(), rt.Components, rt.Settings, a.logger)
			if err != nil {
				return err
			}
			color := !noColor && isTerminal(a.stdout)
			layout := rt.Settings.Layout()
			for _, s := range res.Stale {
				_, _ = fmt.Fprintf(a.stdout, "%s %s\n  %s\n", layout.PatchPath(s.Document), s.KeyPath, s.Diff(color))
			}
			a.logger.InfoFinish("cli", "stale", start, int64(len(res.Stale)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "关闭差异着色")
	return cmd
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newApplyCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the patch tree to the source tree and write localized documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			if out == "" {
				return fmt.Errorf("%w: --out empty", cfgpkg.ErrConfig)
			}
			rt, err := cfgpkg.Assemble(a.cfg, out, a.logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			a.term.RunStart("apply", 1, a.cfg.Gateway)
			sum, err := pipeline.Apply(cmd.Context(), rt.Components, rt.Settings, a.logger)
			if err != nil {
				a.term.RunFinish(false, time.Since(start))
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "documents=%d patched=%d unpatched=%d applied=%d skipped=%d failed=%d\n",
				sum.Documents, sum.Patched, sum.Unpatched, sum.Applied, sum.Skipped, sum.Failed)
			a.term.RunFinish(sum.Failed == 0, time.Since(start))
			if sum.Failed > 0 {
				return errPartial
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "localized", "本地化文档输出目录")
	return cmd
}
