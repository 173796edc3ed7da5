package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/playlist_downloader/internal/fetch"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
	"github.com/kelseyhightower/envconfig"
)

const (
	StrategyStream = fetch.StrategyStream
	StrategyRanged = fetch.StrategyRanged
)

// Config struct for environment variables.
type Config struct {
	WorkDir     string `envconfig:"WORK_DIR" default:"."`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"songs"`
	UnpackedDir string `envconfig:"UNPACKED_DIR" default:"songs_unpacked"`
	ManifestDir string `envconfig:"MANIFEST_DIR" default:"."`

	SourceURLTemplate     string        `envconfig:"SOURCE_URL_TEMPLATE" default:"https://api.beatsaver.com/download/key/%s"`
	FetchStrategy         string        `envconfig:"FETCH_STRATEGY" default:"stream"`
	RangeChunkSize        int64         `envconfig:"RANGE_CHUNK_SIZE" default:"10240"`
	MaxParallel           int           `envconfig:"MAX_PARALLEL" default:"1"`
	ResetUnpacked         bool          `envconfig:"RESET_UNPACKED" default:"true"`
	KeepArchives          bool          `envconfig:"KEEP_ARCHIVES" default:"false"`
	UserAgent             string        `envconfig:"USER_AGENT" default:"playlist-downloader"`
	ResponseHeaderTimeout time.Duration `envconfig:"RESPONSE_HEADER_TIMEOUT" default:"30s"`
	ProgressInterval      int64         `envconfig:"PROGRESS_INTERVAL" default:"1048576"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat         string `envconfig:"LOG_FORMAT" default:"json"`
	DBPath            string `envconfig:"DB_PATH" default:"songs.db"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `default:"false"`
		ServiceName  string `split_words:"true" default:"playlist_downloader"`
		Exporter     string `default:"prometheus"`
		OTLPEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.FetchStrategy {
	case StrategyStream, StrategyRanged:
	default:
		return fmt.Errorf("invalid fetch strategy %q: want %q or %q", c.FetchStrategy, StrategyStream, StrategyRanged)
	}

	if c.RangeChunkSize <= 0 {
		return fmt.Errorf("range chunk size must be positive, got %d", c.RangeChunkSize)
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("max parallel must be positive, got %d", c.MaxParallel)
	}

	if strings.Count(c.SourceURLTemplate, "%s") != 1 {
		return fmt.Errorf("source url template must contain exactly one %%s: %q", c.SourceURLTemplate)
	}

	switch c.Telemetry.Exporter {
	case telemetry.ExporterPrometheus, telemetry.ExporterOTLP:
	default:
		return fmt.Errorf("invalid telemetry exporter %q", c.Telemetry.Exporter)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DownloadRoot returns the directory archives are fetched into.
func (c *Config) DownloadRoot() string {
	return c.resolve(c.DownloadDir)
}

// UnpackedRoot returns the directory archives are extracted into.
func (c *Config) UnpackedRoot() string {
	return c.resolve(c.UnpackedDir)
}

func (c *Config) ManifestRoot() string {
	return c.resolve(c.ManifestDir)
}

// resolve anchors relative directories at WorkDir.
func (c *Config) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}

	return filepath.Join(c.WorkDir, dir)
}
