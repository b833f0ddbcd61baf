package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/fields"
	"github.com/joseph-ayodele/docintake/internal/health"
	"github.com/joseph-ayodele/docintake/internal/ingest"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

func newSubmitCmd(g *globals) *cobra.Command {
	var (
		owner, group string
		move, hidden bool
	)
	cmd := &cobra.Command{
		Use:   "submit PATH...",
		Short: "Submit files, or every accepted file under a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			app, err := g.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()
			if !app.Transport.HasBroker() {
				app.Logger.Warn("no broker configured, jobs stay pending until the daemon restarts and recovers them")
			}

			var out []ingest.Result
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if info.IsDir() {
					results, stats, err := app.Submitter.SubmitDirectory(ctx, owner, path, !hidden, move)
					if err != nil {
						return err
					}
					app.Logger.Info("directory submitted", "root", path, "matched", stats.Matched,
						"succeeded", stats.Succeeded, "failed", stats.Failed)
					out = append(out, results...)
					continue
				}
				sub, err := app.Submitter.Submit(ctx, ingest.Request{Path: path, OwnerID: owner, GroupID: group, Move: move})
				if err != nil {
					out = append(out, ingest.Result{SourcePath: path, Err: err.Error()})
					continue
				}
				out = append(out, ingest.Result{SourcePath: path, Submission: sub})
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner UUID recorded on each job (required)")
	cmd.Flags().StringVar(&group, "group", "", "optional group UUID")
	cmd.Flags().BoolVar(&move, "move", false, "remove sources after submitting")
	cmd.Flags().BoolVar(&hidden, "include-hidden", false, "include hidden files and directories")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newWatchCmd(g *globals) *cobra.Command {
	var (
		owner    string
		initial  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch DIR...",
		Short: "Submit documents dropped into folders until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			app, err := g.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			w := ingest.NewWatcher(app.Submitter, ingest.WatchConfig{
				Roots:       args,
				OwnerID:     owner,
				InitialScan: initial,
				Debounce:    debounce,
			}, app.Logger)
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner UUID recorded on each job (required)")
	cmd.Flags().BoolVar(&initial, "initial-scan", true, "submit files already present")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a file is submitted")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

type extraction struct {
	Text     string   `json:"text"`
	Method   string   `json:"method"`
	Pages    int      `json:"pages"`
	Warnings []string `json:"warnings,omitempty"`
	Fields   any      `json:"fields"`
}

func newExtractCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract text and fields from one file without submitting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.config()
			if err != nil {
				return err
			}
			kind := constants.KindForExt(filepath.Ext(args[0]))
			if kind == constants.KindUnsupported {
				return fmt.Errorf("%s: %w", args[0], common.ErrUnsupportedType)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := ocr.NewExtractor(ocr.ConfigFrom(cfg.OCR), logger).Extract(ctx, args[0], kind)
			if err != nil {
				return err
			}
			return printJSON(extraction{
				Text:     res.Text,
				Method:   res.Method,
				Pages:    res.Pages,
				Warnings: res.Warnings,
				Fields:   fields.NewParser(logger).Parse(res.Text),
			})
		},
	}
}

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report component health and job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := g.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			report := app.Health.Check(cmd.Context())
			if err := printJSON(report); err != nil {
				return err
			}
			if report.Status != health.StatusHealthy {
				return errors.New("pipeline degraded")
			}
			return nil
		},
	}
}

func newExportCmd(g *globals) *cobra.Command {
	var (
		out    string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write jobs and their parsed fields to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := repository.ListFilter{Limit: limit}
			if status != "" {
				st, ok := constants.ParseJobStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = st
			}
			app, err := g.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := app.Export.ExportJobsXLSX(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			app.Logger.Info("export written", "path", out, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "jobs.xlsx", "output XLSX path")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 = all)")
	return cmd
}
