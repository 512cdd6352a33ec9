package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/sink"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket scan server",
	Long: `Start a server exposing:

  GET  /health       liveness and OCR availability
  POST /scan/image   one-shot scan of an uploaded image or PDF
  GET  /scan/live    WebSocket live scan session
  GET  /metrics      Prometheus metrics

Terminal records are published to Redis when sink.redis_url is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "allowed CORS origin")
	serveCmd.Flags().Int("max-upload-mb", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "scan timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	serveCmd.Flags().String("redis-url", "", "publish terminal records to this Redis URL")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.cors_origin", serveCmd.Flags().Lookup("cors-origin"))
	_ = viper.BindPFlag("server.max_upload_mb", serveCmd.Flags().Lookup("max-upload-mb"))
	_ = viper.BindPFlag("server.timeout_sec", serveCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("server.shutdown_timeout", serveCmd.Flags().Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("sink.redis_url", serveCmd.Flags().Lookup("redis-url"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	logger := slog.Default()

	comp, err := buildComponents(cfg, "", cfg.Sink.IncludeRawText)
	if err != nil {
		if !errors.Is(err, ocr.ErrNoBackend) {
			return err
		}
		logger.Warn("OCR backend unavailable, scan endpoints will return 503", "backend", cfg.OCR.Backend)
	}

	ctx := context.Background()
	snk, err := sink.New(ctx, cfg.Sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create record sink: %w", err)
	}

	srv, err := server.NewServer(cfg.ToServerConfig(), comp, snk)
	if err != nil {
		_ = snk.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("Failed to close server resources", "error", err)
		}
	}()

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", addr, "redis_sink", cfg.Sink.RedisURL != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("Shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
