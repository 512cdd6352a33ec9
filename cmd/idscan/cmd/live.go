package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

var errLiveTimeout = errors.New("no card matched before the deadline")

var liveCmd = &cobra.Command{
	Use:   "live <dir>",
	Short: "Run a live scan session over a directory of frames",
	Long: `Replay the images of a directory as a camera feed, one frame per cycle,
and print guidance until a card is matched or the session fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runLive,
}

func init() {
	liveCmd.Flags().StringP("format", "f", formatText, "output format (text, json, yaml)")
	liveCmd.Flags().String("text", "", "use the static engine with this OCR text instead of a real backend")
	liveCmd.Flags().Duration("max-duration", time.Minute, "give up after this long (0 for no limit)")
	liveCmd.Flags().Duration("cadence", 0, "cycle interval (default from config)")
	rootCmd.AddCommand(liveCmd)
}

func runLive(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	staticText, _ := cmd.Flags().GetString("text")
	maxDuration, _ := cmd.Flags().GetDuration("max-duration")
	cadence, _ := cmd.Flags().GetDuration("cadence")
	cfg := GetConfig()
	if !cmd.Flags().Changed("format") && cfg.Output.Format != "" {
		format = cfg.Output.Format
	}
	if err := validateFormat(format); err != nil {
		return err
	}

	comp, err := buildComponents(cfg, staticText, false)
	if err != nil {
		return err
	}
	scanCfg := cfg.ToScanConfig()
	if cadence > 0 {
		scanCfg.Cadence = cadence
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	ended := make(chan scan.State, 1)
	listener := scan.ListenerFuncs{
		Guidance: func(msg string) {
			if format == formatText {
				fmt.Fprintf(out, "> %s\n", msg)
			}
		},
		State: func(s scan.State) {
			slog.Debug("Scan state changed", "state", s)
			if s.Terminal() {
				select {
				case ended <- s:
				default:
				}
			}
		},
	}

	ctl, err := scan.NewController(scanCfg, frame.NewSequenceSource(args[0]), comp, listener)
	if err != nil {
		return err
	}
	if err := ctl.Start(ctx); err != nil {
		_ = ctl.Stop()
		return fmt.Errorf("failed to start scan session: %w", err)
	}

	var timedOut bool
	select {
	case <-ended:
	case <-ctx.Done():
		timedOut = true
	}
	snap := ctl.Snapshot()
	if err := ctl.Stop(); err != nil {
		slog.Warn("Failed to close frame source", "error", err)
	}

	switch {
	case snap.State == scan.StateMatched && snap.Record != nil:
		return writeResults(out, format, []ScanResult{newScanResult(args[0], *snap.Record)})
	case snap.State == scan.StateFailed:
		return fmt.Errorf("scan session failed: %s", snap.Err)
	case timedOut && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w (%s, %d cycles)", errLiveTimeout, maxDuration, snap.Cycles)
	}
	return fmt.Errorf("scan session interrupted in state %s", snap.State)
}
