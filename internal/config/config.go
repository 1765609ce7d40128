package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

const (
	megabyte = int64(1 << 20)

	PageCounterPdfinfo = "pdfinfo"
	PageCounterPdfcpu  = "pdfcpu"

	WebhookFormatMultipart = "multipart"
	WebhookFormatJSON      = "json"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	App         AppConfig         `mapstructure:"app"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Converter   ConverterConfig   `mapstructure:"converter"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Events      EventsConfig      `mapstructure:"events"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AppConfig identifies the service and the base used for public URLs
type AppConfig struct {
	Name         string `mapstructure:"name"`
	Version      string `mapstructure:"version"`
	Domain       string `mapstructure:"domain"`
	PublicPrefix string `mapstructure:"public_prefix"`
}

// StorageConfig holds the staging and processed-artifact directories
type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
	ServeFiles   bool   `mapstructure:"serve_files"`
}

// LimitsConfig holds size ceilings in bytes
type LimitsConfig struct {
	MaxDocumentSize int64 `mapstructure:"max_document_size"`
	MaxArchiveSize  int64 `mapstructure:"max_archive_size"`
}

// ConverterConfig configures the external tools
type ConverterConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	PageCounter    string        `mapstructure:"page_counter"`
	PdfinfoBin     string        `mapstructure:"pdfinfo_bin"`
	PdftoppmBin    string        `mapstructure:"pdftoppm_bin"`
	LibreOfficeBin string        `mapstructure:"libreoffice_bin"`
	UseXvfb        bool          `mapstructure:"use_xvfb"`
	XvfbBin        string        `mapstructure:"xvfb_bin"`
	TempDir        string        `mapstructure:"temp_dir"`
}

// ArchiveConfig configures archive expansion
type ArchiveConfig struct {
	StrictDiskCheck bool   `mapstructure:"strict_disk_check"`
	ExtractDir      string `mapstructure:"extract_dir"`
}

// BatchConfig configures archive batch processing
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// WebhookConfig configures downstream delivery. An empty URL disables delivery.
type WebhookConfig struct {
	URL              string        `mapstructure:"url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Format           string        `mapstructure:"format"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
}

// RegistryConfig configures the in-memory document table
type RegistryConfig struct {
	Shards    int           `mapstructure:"shards"`
	Retention time.Duration `mapstructure:"retention"`
}

// EventsConfig configures the optional Redis status publisher
type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

// ConcurrencyConfig contains concurrency settings
type ConcurrencyConfig struct {
	HTTPMaxRequests int `mapstructure:"http_max_requests"`
	MaxConversions  int `mapstructure:"max_conversions"`
}

// LogConfig configures pkg/logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		mu.Lock()
		if instance == nil {
			instance = &Config{}
		}
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from .env, the optional file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()
	return load(configPath)
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Reset()
	instance = nil
	return load(configPath)
}

func load(configPath string) error {
	// .env is optional; values already present in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(cfg)

	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.request_timeout", "180s")

	viper.SetDefault("app.name", "docconv")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.domain", "http://localhost:8000")
	viper.SetDefault("app.public_prefix", "uploads")

	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("storage.processed_dir", "uploads/processed")
	viper.SetDefault("storage.serve_files", true)

	viper.SetDefault("limits.max_document_size", 50*megabyte)
	viper.SetDefault("limits.max_archive_size", 100*megabyte)

	viper.SetDefault("converter.timeout", "60s")
	viper.SetDefault("converter.page_counter", PageCounterPdfinfo)
	viper.SetDefault("converter.pdfinfo_bin", "pdfinfo")
	viper.SetDefault("converter.pdftoppm_bin", "pdftoppm")
	viper.SetDefault("converter.libreoffice_bin", "libreoffice")
	viper.SetDefault("converter.use_xvfb", false)
	viper.SetDefault("converter.xvfb_bin", "xvfb-run")
	viper.SetDefault("converter.temp_dir", "")

	viper.SetDefault("archive.strict_disk_check", false)
	viper.SetDefault("archive.extract_dir", "")

	viper.SetDefault("batch.workers", 1)

	viper.SetDefault("webhook.url", "http://localhost:5678/webhook")
	viper.SetDefault("webhook.timeout", "30s")
	viper.SetDefault("webhook.format", WebhookFormatMultipart)
	viper.SetDefault("webhook.batch_concurrency", 4)

	viper.SetDefault("registry.shards", 16)
	viper.SetDefault("registry.retention", "24h")

	viper.SetDefault("events.redis_addr", "")
	viper.SetDefault("events.redis_password", "")
	viper.SetDefault("events.redis_db", 0)
	viper.SetDefault("events.channel", "docconv:documents")

	viper.SetDefault("concurrency.http_max_requests", 100)
	viper.SetDefault("concurrency.max_conversions", 8)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	viper.BindEnv("server.host", "APP_SERVER_HOST")
	viper.BindEnv("server.port", "APP_SERVER_PORT")

	viper.BindEnv("app.domain", "APP_DOMAIN", "APP_APP_DOMAIN")

	viper.BindEnv("storage.upload_dir", "APP_STORAGE_UPLOAD_DIR")
	viper.BindEnv("storage.processed_dir", "APP_STORAGE_PROCESSED_DIR")

	viper.BindEnv("limits.max_document_size", "APP_LIMITS_MAX_DOCUMENT_SIZE")
	viper.BindEnv("limits.max_archive_size", "APP_LIMITS_MAX_ARCHIVE_SIZE")

	viper.BindEnv("converter.timeout", "APP_CONVERTER_TIMEOUT")
	viper.BindEnv("converter.page_counter", "APP_CONVERTER_PAGE_COUNTER")
	viper.BindEnv("converter.use_xvfb", "APP_CONVERTER_USE_XVFB")

	// WEBHOOK_URL is the name deployments already use
	viper.BindEnv("webhook.url", "APP_WEBHOOK_URL", "WEBHOOK_URL")
	viper.BindEnv("webhook.format", "APP_WEBHOOK_FORMAT")

	viper.BindEnv("events.redis_addr", "APP_EVENTS_REDIS_ADDR", "REDIS_ADDR")

	viper.BindEnv("log.level", "APP_LOG_LEVEL")
}

func normalize(cfg *Config) {
	cfg.App.Domain = strings.TrimRight(cfg.App.Domain, "/")
	cfg.App.PublicPrefix = strings.Trim(cfg.App.PublicPrefix, "/")
	cfg.Converter.PageCounter = strings.ToLower(cfg.Converter.PageCounter)
	cfg.Webhook.Format = strings.ToLower(cfg.Webhook.Format)
	if cfg.Archive.ExtractDir == "" {
		cfg.Archive.ExtractDir = cfg.Storage.UploadDir
	}
	if cfg.Converter.TempDir == "" {
		cfg.Converter.TempDir = os.TempDir()
	}
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Storage.UploadDir == "" {
		return fmt.Errorf("storage.upload_dir is required")
	}
	if cfg.Storage.ProcessedDir == "" {
		return fmt.Errorf("storage.processed_dir is required")
	}
	if cfg.Limits.MaxDocumentSize < 1 {
		return fmt.Errorf("limits.max_document_size must be positive")
	}
	if cfg.Limits.MaxArchiveSize < 1 {
		return fmt.Errorf("limits.max_archive_size must be positive")
	}
	if cfg.Converter.Timeout <= 0 {
		return fmt.Errorf("converter.timeout must be positive")
	}
	switch cfg.Converter.PageCounter {
	case PageCounterPdfinfo, PageCounterPdfcpu:
	default:
		return fmt.Errorf("converter.page_counter must be %q or %q", PageCounterPdfinfo, PageCounterPdfcpu)
	}
	if cfg.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	switch cfg.Webhook.Format {
	case WebhookFormatMultipart, WebhookFormatJSON:
	default:
		return fmt.Errorf("webhook.format must be %q or %q", WebhookFormatMultipart, WebhookFormatJSON)
	}
	if cfg.Webhook.URL != "" && cfg.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook.timeout must be positive")
	}
	if cfg.Webhook.BatchConcurrency < 1 {
		return fmt.Errorf("webhook.batch_concurrency must be at least 1")
	}
	if cfg.Registry.Shards < 1 {
		return fmt.Errorf("registry.shards must be at least 1")
	}
	if cfg.Registry.Retention < 0 {
		return fmt.Errorf("registry.retention must be non-negative")
	}
	if cfg.Concurrency.HTTPMaxRequests < 1 {
		return fmt.Errorf("concurrency.http_max_requests must be at least 1")
	}
	if cfg.Concurrency.MaxConversions < 1 {
		return fmt.Errorf("concurrency.max_conversions must be at least 1")
	}
	return nil
}

// WebhookEnabled reports whether results should be delivered downstream
func (c *Config) WebhookEnabled() bool {
	return c.Webhook.URL != ""
}
