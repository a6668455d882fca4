package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	DefaultAssetTTLSeconds = 3600
	DefaultRenderDPI       = 200
	DefaultMaxRenderDPI    = 600
	DefaultMaxOCRHeight    = 7600
	DefaultConvertTimeout  = 60
	DefaultAddress         = ":5000"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Converter   ConverterConfig           `json:"converter" yaml:"converter"`
	Render      RenderConfig              `json:"render" yaml:"render"`
	Extractor   ExtractorConfig           `json:"extractor" yaml:"extractor"`
	RemotePDF   RemotePDFConfig           `json:"remote_pdf" yaml:"remote_pdf"`
	Registry    RegistryConfig            `json:"registry" yaml:"registry"`
	Workers     WorkerConfig              `json:"workers" yaml:"workers"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type BasicConfig struct {
	ServerAddress   string   `json:"server_address" yaml:"server_address"`
	PublicBaseURL   string   `json:"public_base_url" yaml:"public_base_url"`
	AssetTTLSeconds int      `json:"asset_ttl_seconds" yaml:"asset_ttl_seconds"`
	UploadDir       string   `json:"upload_dir" yaml:"upload_dir"`
	OutputDir       string   `json:"output_dir" yaml:"output_dir"`
	MaxUploadMB     int      `json:"max_upload_mb" yaml:"max_upload_mb"`
	CleanInterval   int      `json:"clean_interval_minutes" yaml:"clean_interval_minutes"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins"`
}

type ConverterConfig struct {
	Binary             string  `json:"binary" yaml:"binary"`
	TimeoutSeconds     int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	Zoom               float64 `json:"zoom" yaml:"zoom"`
	CancelOnDisconnect bool    `json:"cancel_on_disconnect" yaml:"cancel_on_disconnect"`
}

type RenderConfig struct {
	DefaultDPI   int `json:"default_dpi" yaml:"default_dpi"`
	MaxDPI       int `json:"max_dpi" yaml:"max_dpi"`
	MaxOCRHeight int `json:"max_ocr_height" yaml:"max_ocr_height"`
}

type ExtractorConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// RemotePDFConfig bounds downloads of pdf_url requests.
type RemotePDFConfig struct {
	MaxSizeMB      int `json:"max_size_mb" yaml:"max_size_mb"`
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type RegistryConfig struct {
	// Backend is one of memory, file, sqlite3, mysql, redis.
	Backend string `json:"backend" yaml:"backend"`
}

type WorkerConfig struct {
	MinWorkers        int `json:"min_workers" yaml:"min_workers"`
	MaxWorkers        int `json:"max_workers" yaml:"max_workers"`
	QueueSize         int `json:"queue_size" yaml:"queue_size"`
	WorkerIdleSeconds int `json:"worker_idle_seconds" yaml:"worker_idle_seconds"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Default returns a configuration that runs without any config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; an explicitly named one is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			cfg := Default()
			if err := cfg.applyEnv(); err != nil {
				return nil, err
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	baseDir := filepath.Dir(absPath)
	cfg.BasicConfig.UploadDir = resolveRelative(baseDir, cfg.BasicConfig.UploadDir)
	cfg.BasicConfig.OutputDir = resolveRelative(baseDir, cfg.BasicConfig.OutputDir)
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && sqliteCfg.DSN != ":memory:" && !strings.HasPrefix(sqliteCfg.DSN, "file:") {
		sqliteCfg.DSN = resolveRelative(baseDir, sqliteCfg.DSN)
		cfg.Databases["sqlite3"] = sqliteCfg
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case "memory", "file", "redis":
	case "sqlite3", "mysql":
		if _, ok := c.Databases[c.Registry.Backend]; !ok {
			return fmt.Errorf("registry backend %s requires databases.%s", c.Registry.Backend, c.Registry.Backend)
		}
	default:
		return fmt.Errorf("unsupported registry backend: %s", c.Registry.Backend)
	}
	if c.BasicConfig.AssetTTLSeconds <= 0 {
		return fmt.Errorf("asset_ttl_seconds must be positive")
	}
	if c.Render.DefaultDPI > c.Render.MaxDPI {
		return fmt.Errorf("render.default_dpi %d exceeds render.max_dpi %d", c.Render.DefaultDPI, c.Render.MaxDPI)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultAddress
	}
	if c.BasicConfig.AssetTTLSeconds <= 0 {
		c.BasicConfig.AssetTTLSeconds = DefaultAssetTTLSeconds
	}
	if c.BasicConfig.UploadDir == "" {
		c.BasicConfig.UploadDir = filepath.Join(os.TempDir(), "uploads")
	}
	if c.BasicConfig.OutputDir == "" {
		c.BasicConfig.OutputDir = filepath.Join(os.TempDir(), "outputs")
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		c.BasicConfig.MaxUploadMB = 50
	}
	if c.BasicConfig.CleanInterval <= 0 {
		c.BasicConfig.CleanInterval = 10
	}
	if c.Converter.Binary == "" {
		c.Converter.Binary = "pdftohtml"
	}
	if c.Converter.TimeoutSeconds <= 0 {
		c.Converter.TimeoutSeconds = DefaultConvertTimeout
	}
	if c.Converter.Zoom <= 0 {
		c.Converter.Zoom = 1.3
	}
	if c.Render.DefaultDPI <= 0 {
		c.Render.DefaultDPI = DefaultRenderDPI
	}
	if c.Render.MaxDPI <= 0 {
		c.Render.MaxDPI = DefaultMaxRenderDPI
	}
	if c.Render.MaxOCRHeight <= 0 {
		c.Render.MaxOCRHeight = DefaultMaxOCRHeight
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		c.Extractor.TimeoutSeconds = 20
	}
	if c.RemotePDF.MaxSizeMB <= 0 {
		c.RemotePDF.MaxSizeMB = 50
	}
	if c.RemotePDF.TimeoutSeconds <= 0 {
		c.RemotePDF.TimeoutSeconds = 45
	}
	if c.Registry.Backend == "" {
		c.Registry.Backend = "memory"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "pdfhtml:"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv lets deployment environments override file values.
func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")); v != "" {
		c.BasicConfig.PublicBaseURL = v
	}
	c.BasicConfig.PublicBaseURL = strings.TrimRight(c.BasicConfig.PublicBaseURL, "/")
	if v := strings.TrimSpace(os.Getenv("PUBLIC_ASSET_TTL_SECONDS")); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("PUBLIC_ASSET_TTL_SECONDS must be a positive integer, got %q", v)
		}
		c.BasicConfig.AssetTTLSeconds = ttl
	}
	if err := envPositiveInt("MAX_REMOTE_PDF_SIZE_MB", &c.RemotePDF.MaxSizeMB); err != nil {
		return err
	}
	if err := envPositiveInt("REMOTE_PDF_TIMEOUT_SECONDS", &c.RemotePDF.TimeoutSeconds); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("PDFHTML_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("PDFHTML_REGISTRY")); v != "" {
		c.Registry.Backend = v
	}
	c.Registry.Backend = strings.ToLower(c.Registry.Backend)
	if c.Registry.Backend == "sqlite" {
		c.Registry.Backend = "sqlite3"
	}
	return nil
}

func envPositiveInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s must be a positive integer, got %q", name, v)
	}
	*dst = n
	return nil
}

func resolveRelative(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
