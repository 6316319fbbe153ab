package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/pkg/cleanup"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

type cleanupFlags struct {
	dryRun     bool
	threshold  float64
	kind       string
	verbose    bool
	country    string
	recordType string
	workers    int
}

func newCleanupCommand(envFile *string) *cobra.Command {
	var f cleanupFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Find duplicate clusters and merge each into its canonical",
		Example: "  sorrel cleanup --dry-run --type record --country DE --verbose\n" +
			"  sorrel cleanup --type all --threshold 0.9",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := f.options()
			if err != nil {
				return err
			}
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			return runCleanup(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report what would be merged without writing")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "similarity threshold (default from SIMILARITY_THRESHOLD)")
	cmd.Flags().StringVar(&f.kind, "type", "all", "kind to clean up: record, record_type, category or all")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "list every merged member")
	cmd.Flags().StringVar(&f.country, "country", "", "only records of this ISO country code")
	cmd.Flags().StringVar(&f.recordType, "record-type", "", "only records of this record type slug")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "clusters merged in parallel (default from MERGE_WORKER_COUNT)")
	return cmd
}

func (f cleanupFlags) options() (cleanup.Options, error) {
	opts := cleanup.Options{
		DryRun:    f.dryRun,
		Threshold: f.threshold,
		TypeSlug:  f.recordType,
		Country:   strings.ToUpper(f.country),
		Verbose:   f.verbose,
		Workers:   f.workers,
	}
	if f.threshold < 0 || f.threshold > 1 {
		return opts, fmt.Errorf("--threshold must be between 0 and 1, got %v", f.threshold)
	}
	if f.country != "" && len(f.country) != 2 {
		return opts, fmt.Errorf("--country must be a two letter code, got %q", f.country)
	}

	switch kind := models.Kind(strings.ToLower(f.kind)); kind {
	case "all", "":
	case models.KindRecord, models.KindRecordType, models.KindCategory:
		opts.Kinds = []models.Kind{kind}
	default:
		return opts, fmt.Errorf("unknown --type %q", f.kind)
	}
	if (opts.TypeSlug != "" || opts.Country != "") && len(opts.Kinds) == 0 {
		opts.Kinds = []models.Kind{models.KindRecord}
	}
	return opts, nil
}

func runCleanup(ctx context.Context, cfg *config.Config, opts cleanup.Options) error {
	logger, sync, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	a := newApp(cfg, logger)
	if err := a.connect(ctx, connectOptions{}); err != nil {
		return err
	}
	defer a.close(context.Background())
	if err := a.build(ctx); err != nil {
		return err
	}

	report, runErr := a.cleaner.Run(ctx, opts)
	if report != nil {
		if err := report.Print(os.Stdout, opts.Verbose); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("cleanup interrupted; the report above covers the clusters merged so far")
		}
		return runErr
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d errors", len(report.Errors))
	}
	return nil
}
