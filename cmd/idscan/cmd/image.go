package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

var imageCmd = &cobra.Command{
	Use:   "image <file...>",
	Short: "Scan identity cards in photos or PDF scans",
	Long: `Run a single OCR pass over each input and print the extracted fields.

Photos (PNG, JPEG, BMP, TIFF, WebP) are read directly; for PDFs the first
embedded image is used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImage,
}

func init() {
	imageCmd.Flags().String("strategy", string(preprocess.StrategyFull), "crop strategy (fixed, full)")
	imageCmd.Flags().StringP("format", "f", formatText, "output format (text, json, yaml)")
	imageCmd.Flags().String("text", "", "use the static engine with this OCR text instead of a real backend")
	imageCmd.Flags().String("debug-dir", "", "write each preprocessed crop to this directory")
	imageCmd.Flags().Bool("raw", false, "include the recognized text in the output")
	rootCmd.AddCommand(imageCmd)
}

func runImage(cmd *cobra.Command, args []string) error {
	strategyName, _ := cmd.Flags().GetString("strategy")
	format, _ := cmd.Flags().GetString("format")
	staticText, _ := cmd.Flags().GetString("text")
	debugDir, _ := cmd.Flags().GetString("debug-dir")
	keepRaw, _ := cmd.Flags().GetBool("raw")

	cfg := GetConfig()
	if !cmd.Flags().Changed("format") && cfg.Output.Format != "" {
		format = cfg.Output.Format
	}
	if !cmd.Flags().Changed("debug-dir") {
		debugDir = cfg.Output.DebugDir
	}

	strategy, err := preprocess.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	if strategy == preprocess.StrategyAuto || strategy == preprocess.StrategyGuide {
		return fmt.Errorf("strategy %q needs guide geometry; use fixed or full", strategy)
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	if debugDir != "" {
		if err := os.MkdirAll(debugDir, 0o750); err != nil {
			return fmt.Errorf("failed to create debug directory: %w", err)
		}
	}

	comp, err := buildComponents(cfg, staticText, keepRaw)
	if err != nil {
		return err
	}
	pipeline, err := scan.NewPipeline(cfg.ToPipelineConfig(), comp)
	if err != nil {
		return err
	}

	results := make([]ScanResult, 0, len(args))
	failed := 0
	for _, path := range args {
		res, err := scanFile(cmd.Context(), pipeline, path, strategy, debugDir)
		if err != nil {
			slog.Error("Scan failed", "file", path, "error", err)
			res = ScanResult{Source: path, Error: err.Error()}
			failed++
		}
		results = append(results, res)
	}

	if err := writeResults(cmd.OutOrStdout(), format, results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(args))
	}
	return nil
}

func scanFile(ctx context.Context, p *scan.Pipeline, path string, strategy preprocess.Strategy, debugDir string) (ScanResult, error) {
	f, err := loadFrame(path)
	if err != nil {
		return ScanResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	out, err := p.Scan(ctx, f, strategy)
	if err != nil {
		return ScanResult{}, err
	}
	slog.Debug("Scanned input",
		"file", path,
		"rect", out.Rect.String(),
		"confidence", out.Recognition.Confidence,
		"duration", time.Since(start))

	if debugDir != "" && out.Image != nil {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_preprocessed.png"
		if err := imaging.Save(out.Image.NRGBA, filepath.Join(debugDir, name)); err != nil {
			return ScanResult{}, fmt.Errorf("failed to write debug image: %w", err)
		}
	}
	return newScanResult(path, out.Record), nil
}

func loadFrame(path string) (frame.Frame, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		img, err := frame.FirstPDFImage(path)
		if err != nil {
			return frame.Frame{}, err
		}
		return frame.New(img), nil
	}
	if !frame.IsSupportedImage(path) {
		return frame.Frame{}, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	img, _, err := frame.LoadImage(path)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(img), nil
}
