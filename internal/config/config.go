package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/presence"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/server"
	"github.com/MeKo-Tech/idscan/internal/sink"
)

// Config represents the complete configuration for the idscan tool.
// It is loaded from configuration files, IDSCAN_ environment variables
// and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Scan       ScanConfig        `mapstructure:"scan" yaml:"scan" json:"scan"`
	Presence   presence.Config   `mapstructure:"presence" yaml:"presence" json:"presence"`
	Preprocess preprocess.Config `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	OCR        OCRConfig         `mapstructure:"ocr" yaml:"ocr" json:"ocr"`
	Server     ServerConfig      `mapstructure:"server" yaml:"server" json:"server"`
	Sink       sink.Config       `mapstructure:"sink" yaml:"sink" json:"sink"`
	Output     OutputConfig      `mapstructure:"output" yaml:"output" json:"output"`
}

// ScanConfig contains live session settings.
type ScanConfig struct {
	CadenceMS       int           `mapstructure:"cadence_ms" yaml:"cadence_ms" json:"cadence_ms"`
	RequirePresence bool          `mapstructure:"require_presence" yaml:"require_presence" json:"require_presence"`
	Messages        scan.Messages `mapstructure:"messages" yaml:"messages" json:"messages"`
}

// OCRConfig contains recognition engine settings.
type OCRConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Language    string `mapstructure:"language" yaml:"language" json:"language"`
	Whitelist   string `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	PageSegMode int    `mapstructure:"page_seg_mode" yaml:"page_seg_mode" json:"page_seg_mode"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Upload limits per client IP, 0 disables a limit.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains CLI output settings.
type OutputConfig struct {
	Format   string `mapstructure:"format" yaml:"format" json:"format"`
	DebugDir string `mapstructure:"debug_dir" yaml:"debug_dir" json:"debug_dir"`
}

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json", "yaml"}
	validBackends  = []string{ocr.BackendTesseract, ocr.BackendStatic}
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	o := ocr.DefaultConfig()
	return Config{
		LogLevel: "info",
		Scan: ScanConfig{
			CadenceMS: int(scan.DefaultConfig().Cadence / time.Millisecond),
			Messages:  scan.DefaultMessages(),
		},
		Presence:   presence.DefaultConfig(),
		Preprocess: preprocess.DefaultConfig(),
		OCR: OCRConfig{
			Backend:    o.Backend,
			Language:   o.Language,
			Whitelist:  o.Whitelist,
			TimeoutSec: int(o.Timeout / time.Second),
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        30,
			ShutdownTimeout:   10,
			RequestsPerMinute: 60,
		},
		Sink:   sink.Config{Channel: sink.DefaultChannel},
		Output: OutputConfig{Format: "text"},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	if !slices.Contains(validBackends, c.OCR.Backend) {
		return fmt.Errorf("invalid ocr backend: %s (must be one of: %s)", c.OCR.Backend, strings.Join(validBackends, ", "))
	}
	if c.Scan.CadenceMS <= 0 {
		return fmt.Errorf("invalid scan cadence: %dms (must be positive)", c.Scan.CadenceMS)
	}
	if c.OCR.TimeoutSec < 0 {
		return fmt.Errorf("invalid ocr timeout: %d (must not be negative)", c.OCR.TimeoutSec)
	}

	p := c.Presence
	if p.Stride <= 0 {
		return fmt.Errorf("invalid presence stride: %d (must be positive)", p.Stride)
	}
	if err := validateLevel(p.LowThreshold, "presence.low_threshold"); err != nil {
		return err
	}
	if err := validateLevel(p.HighThreshold, "presence.high_threshold"); err != nil {
		return err
	}
	if p.LowThreshold >= p.HighThreshold {
		return fmt.Errorf("invalid presence thresholds: low %.0f must be below high %.0f", p.LowThreshold, p.HighThreshold)
	}
	if p.Mode != presence.ModeProportional && p.Mode != presence.ModeAbsolute {
		return fmt.Errorf("invalid presence mode: %s (must be one of: %s, %s)", p.Mode, presence.ModeProportional, presence.ModeAbsolute)
	}
	if err := validateFraction(p.MinOutlierRatio, "presence.min_outlier_ratio"); err != nil {
		return err
	}

	pp := c.Preprocess
	if err := validateLevel(pp.Threshold, "preprocess.threshold"); err != nil {
		return err
	}
	if pp.WidthFraction <= 0 || pp.WidthFraction > 1 {
		return fmt.Errorf("invalid preprocess.width_fraction: %.2f (must be in (0, 1])", pp.WidthFraction)
	}
	if pp.AspectRatio <= 0 {
		return fmt.Errorf("invalid preprocess.aspect_ratio: %.3f (must be positive)", pp.AspectRatio)
	}
	if _, err := preprocess.ParseStrategy(string(pp.Strategy)); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	return nil
}

// ToOCRConfig converts to ocr.Config.
func (c *Config) ToOCRConfig() ocr.Config {
	return ocr.Config{
		Backend:     c.OCR.Backend,
		Language:    c.OCR.Language,
		Whitelist:   c.OCR.Whitelist,
		PageSegMode: c.OCR.PageSegMode,
		Timeout:     time.Duration(c.OCR.TimeoutSec) * time.Second,
	}
}

// ToScanConfig converts to the live controller configuration.
func (c *Config) ToScanConfig() scan.Config {
	cfg := scan.DefaultConfig()
	cfg.Cadence = time.Duration(c.Scan.CadenceMS) * time.Millisecond
	cfg.Whitelist = c.OCR.Whitelist
	cfg.RecognizeTimeout = time.Duration(c.OCR.TimeoutSec) * time.Second
	cfg.Messages = c.Scan.Messages
	return cfg
}

// ToPipelineConfig converts to the one-shot pipeline configuration.
func (c *Config) ToPipelineConfig() scan.PipelineConfig {
	return scan.PipelineConfig{
		Whitelist:        c.OCR.Whitelist,
		RecognizeTimeout: time.Duration(c.OCR.TimeoutSec) * time.Second,
		RequirePresence:  c.Scan.RequirePresence,
	}
}

// ToServerConfig converts to server.Config.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Host:              c.Server.Host,
		Port:              c.Server.Port,
		CORSOrigin:        c.Server.CORSOrigin,
		MaxUploadMB:       int64(c.Server.MaxUploadMB),
		TimeoutSec:        c.Server.TimeoutSec,
		RequestsPerMinute: c.Server.RequestsPerMinute,
		RequestsPerHour:   c.Server.RequestsPerHour,
		MaxRequestsPerDay: c.Server.MaxRequestsPerDay,
		MaxDataPerDay:     int64(c.Server.MaxDataPerDayMB) * 1024 * 1024,
		Scan:              c.ToScanConfig(),
		Pipeline:          c.ToPipelineConfig(),
	}
}

// validateLevel validates an 8-bit brightness level.
func validateLevel(value float64, name string) error {
	if value < 0 || value > 255 {
		return fmt.Errorf("invalid %s: %.0f (must be between 0 and 255)", name, value)
	}
	return nil
}

func validateFraction(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
