package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/felo/reportmaster/internal/export"
)

var (
	buildMaxGap      time.Duration
	buildBridge      bool
	buildFormat      string
	buildMonth       string
	buildOutput      string
	buildAttachments string
)

var buildCmd = &cobra.Command{
	Use:   "build <dir>",
	Short: "Build a report from the .eml files below a directory",
	Long: `Parses every .eml file below dir, groups and classifies the threads and
writes the report manifest to stdout or --output. With --attachments the
attachments are also archived into a ZIP file, one folder per section.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.DurationVar(&buildMaxGap, "max-gap", 0, "largest time gap inside a thread (default from config)")
	f.BoolVar(&buildBridge, "bridge", false, "merge threads bridged by a message")
	f.StringVar(&buildFormat, "format", export.FormatJSON, "manifest format: json or yaml")
	f.StringVar(&buildMonth, "month", "", "report month (YYYY-MM)")
	f.StringVarP(&buildOutput, "output", "o", "", "manifest file (default stdout)")
	f.StringVar(&buildAttachments, "attachments", "", "write an attachments archive to this file")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildFormat != export.FormatJSON && buildFormat != export.FormatYAML {
		return fmt.Errorf("unknown format %q", buildFormat)
	}
	if buildMonth != "" {
		if _, err := time.Parse("2006-01", buildMonth); err != nil {
			return fmt.Errorf("invalid --month %q, want YYYY-MM", buildMonth)
		}
	}
	if cmd.Flags().Changed("max-gap") {
		cfg.Threading.MaxGap = buildMaxGap
	}
	if cmd.Flags().Changed("bridge") {
		cfg.Threading.Bridge = buildBridge
	}

	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	start := time.Now()
	res, err := pipeline.Run(ctx, args[0])
	if err != nil {
		return err
	}
	stats := res.Stats()

	manifest := &export.ManifestAssembler{Format: buildFormat, ReportMonth: buildMonth, Stats: stats}
	if buildOutput == "" {
		if err := manifest.Assemble(ctx, cmd.OutOrStdout(), res.Groups); err != nil {
			return err
		}
	} else {
		f, err := os.Create(buildOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", buildOutput, err)
		}
		err = manifest.Assemble(ctx, f, res.Groups)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", buildOutput, err)
		}
	}

	summary := cmd.ErrOrStderr()
	fmt.Fprintf(summary, "%s messages from %s files (%d failed, %d duplicates) in %s threads, %s sections\n",
		humanize.Comma(int64(stats.Messages)), humanize.Comma(int64(stats.Files)),
		stats.FailedFiles, res.Duplicates,
		humanize.Comma(int64(stats.Threads)), humanize.Comma(int64(stats.Groups)))

	if buildAttachments != "" {
		f, err := os.Create(buildAttachments)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", buildAttachments, err)
		}
		archive := &export.ArchiveAssembler{Logger: logger.Named("export")}
		astats, err := archive.Archive(ctx, f, res.Groups)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write attachments archive: %w", err)
		}
		fmt.Fprintf(summary, "%d attachments (%s) in %d folders written to %s, %d skipped\n",
			astats.Files, humanize.Bytes(uint64(astats.Bytes)), astats.Folders, buildAttachments, astats.Skipped)
	}

	logger.Debug("build finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}
