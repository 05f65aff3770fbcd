package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/llvm/lnt/pkg/config"
	"github.com/llvm/lnt/pkg/export"
	"github.com/llvm/lnt/pkg/fsutil"
	"github.com/llvm/lnt/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	exportDB          string
	exportSuite       string
	exportOut         string
	exportUpload      bool
	exportConcurrency int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the API of a suite as static JSON files",
	Long: `Render every machine, order and run document of a suite into
<out>/db_<db>/v4/<suite>/ and optionally publish the tree to the
S3-compatible bucket configured under export.s3.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDB, "db", config.DefaultDatabaseName,
		"database to export")
	exportCmd.Flags().StringVar(&exportSuite, "suite", config.DefaultSuite,
		"suite to export")
	exportCmd.Flags().StringVar(&exportOut, "out", "",
		"output directory")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false,
		"upload the export to export.s3 after writing it")
	exportCmd.Flags().IntVar(&exportConcurrency, "concurrency", 0,
		"documents rendered in parallel (default export.concurrency)")

	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	concurrency := cfg.Export.Concurrency
	if exportConcurrency > 0 {
		concurrency = exportConcurrency
	}

	owner, err := fsutil.ParseOwner(cfg.Export.Owner)
	if err != nil {
		return fmt.Errorf("export.owner: %w", err)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	var uploader upload.Uploader

	if exportUpload {
		if cfg.Export.S3 == nil || !cfg.Export.S3.Enabled {
			return fmt.Errorf("--upload requires export.s3 to be enabled")
		}

		uploader, err = upload.NewS3Uploader(log, cfg.Export.S3, concurrency)
		if err != nil {
			return fmt.Errorf("creating uploader: %w", err)
		}

		// Fail before rendering anything if the bucket is unusable.
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	st, err := openStore(ctx, cfg, exportDB)
	if err != nil {
		return err
	}
	defer func() { _ = st.Stop() }()

	rel := path.Join("db_"+exportDB, "v4", exportSuite)
	dir := filepath.Join(exportOut, filepath.FromSlash(rel))

	exp := export.NewExporter(log, st, version, concurrency, owner)
	if _, err := exp.Export(ctx, exportSuite, dir); err != nil {
		return err
	}

	if uploader == nil {
		return nil
	}

	if _, err := uploader.Upload(ctx, dir, rel); err != nil {
		return fmt.Errorf("uploading export: %w", err)
	}

	return nil
}
