package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "idscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDSCAN"

	// DotEnvFile is loaded into the process environment before viper reads it.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from files, the environment and flags.
type Loader struct {
	v      *viper.Viper
	dotenv string
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings made in the root command are honored.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper(), dotenv: DotEnvFile}
}

// NewLoaderWith creates a loader on a private viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v, dotenv: DotEnvFile}
}

// Load reads configuration from the search paths and validates it.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty
// path falls back to the search paths.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &cfg, nil
}

// loadDotEnv loads the .env file when present. Variables already set in
// the environment win.
func (l *Loader) loadDotEnv() error {
	if l.dotenv == "" {
		return nil
	}
	if _, err := os.Stat(l.dotenv); err != nil {
		return nil
	}
	if err := godotenv.Load(l.dotenv); err != nil {
		return fmt.Errorf("error reading %s: %w", l.dotenv, err)
	}
	return nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("scan.cadence_ms", d.Scan.CadenceMS)
	l.v.SetDefault("scan.require_presence", d.Scan.RequirePresence)
	l.v.SetDefault("scan.messages.place", d.Scan.Messages.Place)
	l.v.SetDefault("scan.messages.align", d.Scan.Messages.Align)
	l.v.SetDefault("scan.messages.reading", d.Scan.Messages.Reading)
	l.v.SetDefault("scan.messages.searching", d.Scan.Messages.Searching)
	l.v.SetDefault("scan.messages.retrying", d.Scan.Messages.Retrying)
	l.v.SetDefault("scan.messages.matched", d.Scan.Messages.Matched)
	l.v.SetDefault("scan.messages.failed", d.Scan.Messages.Failed)

	l.v.SetDefault("presence.stride", d.Presence.Stride)
	l.v.SetDefault("presence.low_threshold", d.Presence.LowThreshold)
	l.v.SetDefault("presence.high_threshold", d.Presence.HighThreshold)
	l.v.SetDefault("presence.mode", string(d.Presence.Mode))
	l.v.SetDefault("presence.min_outlier_ratio", d.Presence.MinOutlierRatio)
	l.v.SetDefault("presence.min_outliers", d.Presence.MinOutliers)

	l.v.SetDefault("preprocess.threshold", d.Preprocess.Threshold)
	l.v.SetDefault("preprocess.width_fraction", d.Preprocess.WidthFraction)
	l.v.SetDefault("preprocess.aspect_ratio", d.Preprocess.AspectRatio)
	l.v.SetDefault("preprocess.contrast", d.Preprocess.Contrast)
	l.v.SetDefault("preprocess.strategy", string(d.Preprocess.Strategy))

	l.v.SetDefault("ocr.backend", d.OCR.Backend)
	l.v.SetDefault("ocr.language", d.OCR.Language)
	l.v.SetDefault("ocr.whitelist", d.OCR.Whitelist)
	l.v.SetDefault("ocr.page_seg_mode", d.OCR.PageSegMode)
	l.v.SetDefault("ocr.timeout_sec", d.OCR.TimeoutSec)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	l.v.SetDefault("server.requests_per_hour", d.Server.RequestsPerHour)
	l.v.SetDefault("server.max_requests_per_day", d.Server.MaxRequestsPerDay)
	l.v.SetDefault("server.max_data_per_day_mb", d.Server.MaxDataPerDayMB)

	l.v.SetDefault("sink.redis_url", d.Sink.RedisURL)
	l.v.SetDefault("sink.channel", d.Sink.Channel)
	l.v.SetDefault("sink.include_raw_text", d.Sink.IncludeRawText)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.debug_dir", d.Output.DebugDir)
}

// GetResolvedConfig returns the current resolved settings.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes the defaults to filename (idscan.yaml
// when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
