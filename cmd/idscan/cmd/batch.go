package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/batch"
	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

const formatCSV = "csv"

var batchCmd = &cobra.Command{
	Use:   "batch <path...>",
	Short: "Scan every image and PDF in files or directories",
	Long: `Scan many inputs in parallel. Directories are searched for images and
PDFs, one level deep unless --recursive is given.

Examples:
  idscan batch ./scans --recursive --workers 4
  idscan batch ./scans --include "*.pdf" --format csv --output results.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("strategy", string(preprocess.StrategyFull), "crop strategy (fixed, full)")
	batchCmd.Flags().StringP("format", "f", formatText, "output format (text, json, yaml, csv)")
	batchCmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	batchCmd.Flags().String("text", "", "use the static engine with this OCR text instead of a real backend")
	batchCmd.Flags().IntP("workers", "w", 0, "parallel workers (default: number of CPUs)")
	batchCmd.Flags().BoolP("recursive", "r", false, "search directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "only scan files matching these glob patterns")
	batchCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	batchCmd.Flags().Bool("stats", false, "print processing statistics")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	strategyName, _ := cmd.Flags().GetString("strategy")
	format, _ := cmd.Flags().GetString("format")
	outputFile, _ := cmd.Flags().GetString("output")
	staticText, _ := cmd.Flags().GetString("text")
	showStats, _ := cmd.Flags().GetBool("stats")
	var cfg batch.Config
	cfg.Workers, _ = cmd.Flags().GetInt("workers")
	cfg.Recursive, _ = cmd.Flags().GetBool("recursive")
	cfg.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	cfg.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	strategy, err := preprocess.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	if strategy != preprocess.StrategyFixed && strategy != preprocess.StrategyFull {
		return fmt.Errorf("strategy %q needs guide geometry; use fixed or full", strategy)
	}
	if format != formatCSV {
		if err := validateFormat(format); err != nil {
			return fmt.Errorf("invalid format %q (must be text, json, yaml or csv)", format)
		}
	}

	appCfg := GetConfig()
	comp, err := buildComponents(appCfg, staticText, false)
	if err != nil {
		return err
	}
	pipeline, err := scan.NewPipeline(appCfg.ToPipelineConfig(), comp)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	proc := batch.ProcessorFunc(func(ctx context.Context, path string) (extract.Record, error) {
		res, err := scanFile(ctx, pipeline, path, strategy, "")
		if err != nil {
			return extract.Record{}, err
		}
		return *res.Record, nil
	})
	result, err := batch.Run(ctx, proc, args, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := writeBatch(out, format, result.Items); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if outputFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", outputFile)
	}

	stats := result.Stats()
	if showStats {
		batch.WriteStats(cmd.OutOrStdout(), stats, result.Workers)
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", stats.Failed, stats.Total)
	}
	return nil
}

func writeBatch(w io.Writer, format string, items []batch.Item) error {
	if format == formatCSV {
		return batch.WriteCSV(w, items)
	}
	results := make([]ScanResult, 0, len(items))
	for _, it := range items {
		if it.Err != nil {
			results = append(results, ScanResult{Source: it.Path, Error: it.Err.Error()})
			continue
		}
		results = append(results, newScanResult(it.Path, it.Record))
	}
	return writeResults(w, format, results)
}
