// Package config holds the accesspdf service configuration: YAML file merged
// over DefaultConfig, then environment overrides, then Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full accesspdf configuration.
type Config struct {
	Listen            string              `yaml:"listen"`
	WorkDir           string              `yaml:"work_dir"` // empty: temp dir created per process
	MaxUploadMB       int                 `yaml:"max_upload_mb"`
	MaxConcurrentRuns int                 `yaml:"max_concurrent_runs"`
	MaxConnections    int                 `yaml:"max_connections"`
	RunTimeout        time.Duration       `yaml:"run_timeout"`
	LogLevel          string              `yaml:"log_level"`
	OCR               OCRConfig           `yaml:"ocr"`
	Analysis          AnalysisConfig      `yaml:"analysis"`
	Correction        CorrectionConfig    `yaml:"correction"`
	Observability     ObservabilityConfig `yaml:"observability"`
}

// OCRConfig configures the scanned-page fallback.
type OCRConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Engine         string        `yaml:"engine"` // tesseract | gosseract
	Binary         string        `yaml:"binary"`
	Languages      []string      `yaml:"languages"`
	ContrastFactor float64       `yaml:"contrast_factor"`
	DPI            int           `yaml:"dpi"`
	MinWidth       int           `yaml:"min_width"`  // upscale rasters narrower than this; 0 disables
	Rasterizer     string        `yaml:"rasterizer"` // auto | pdftoppm | embedded
	PdftoppmBinary string        `yaml:"pdftoppm_binary"`
	Timeout        time.Duration `yaml:"timeout"`
	Required       bool          `yaml:"required"`     // fail the run instead of degrading
	AutoInstall    bool          `yaml:"auto_install"` // try the system package manager at startup
}

// AnalysisConfig tunes the heuristic checks.
type AnalysisConfig struct {
	HeadingPattern   string   `yaml:"heading_pattern"`
	ContrastKeywords []string `yaml:"contrast_keywords"`
	FlagOCR          bool     `yaml:"flag_ocr"`
}

// CorrectionConfig tunes the placeholder stamping.
type CorrectionConfig struct {
	Scope string `yaml:"scope"` // document | page
}

// ObservabilityConfig configures metrics and heartbeat persistence.
type ObservabilityConfig struct {
	MetricsDB         string        `yaml:"metrics_db"` // empty: metrics disabled
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ServiceName       string        `yaml:"service_name"`
	RetentionDays     int           `yaml:"retention_days"` // 0 keeps everything
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:            ":8090",
		MaxUploadMB:       50,
		MaxConcurrentRuns: 1,
		MaxConnections:    64,
		RunTimeout:        5 * time.Minute,
		LogLevel:          "info",
		OCR: OCRConfig{
			Enabled:        true,
			Engine:         "tesseract",
			Binary:         "tesseract",
			Languages:      []string{"eng"},
			ContrastFactor: 2.0,
			DPI:            72,
			Rasterizer:     "auto",
			PdftoppmBinary: "pdftoppm",
			Timeout:        2 * time.Minute,
		},
		Analysis: AnalysisConfig{
			HeadingPattern:   `^(H[1-6]):`,
			ContrastKeywords: []string{"horizon"},
			FlagOCR:          true,
		},
		Correction: CorrectionConfig{
			Scope: "document",
		},
		Observability: ObservabilityConfig{
			HeartbeatInterval: 15 * time.Second,
			ServiceName:       "accesspdf",
			RetentionDays:     7,
		},
	}
}

// Load reads path (when non-empty) over DefaultConfig, applies environment
// overrides and validates. A missing file is an error only when mustExist.
func Load(path string, mustExist bool) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !mustExist:
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("ACCESSPDF_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("ACCESSPDF_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := getenv("ACCESSPDF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("ACCESSPDF_METRICS_DB"); v != "" {
		c.Observability.MetricsDB = v
	}
	if v := getenv("ACCESSPDF_MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACCESSPDF_MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if v := getenv("ACCESSPDF_OCR_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ACCESSPDF_OCR_ENABLED: %w", err)
		}
		c.OCR.Enabled = b
	}
	if v := getenv("TESSERACT_BIN"); v != "" {
		c.OCR.Binary = v
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be > 0")
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("max_concurrent_runs must be > 0")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	switch c.OCR.Engine {
	case "tesseract", "gosseract":
	default:
		return fmt.Errorf("ocr: unsupported engine %q (use tesseract or gosseract)", c.OCR.Engine)
	}
	switch c.OCR.Rasterizer {
	case "auto", "pdftoppm", "embedded":
	default:
		return fmt.Errorf("ocr: unsupported rasterizer %q (use auto, pdftoppm or embedded)", c.OCR.Rasterizer)
	}
	if c.OCR.ContrastFactor <= 0 {
		return fmt.Errorf("ocr: contrast_factor must be > 0")
	}
	if c.OCR.DPI <= 0 {
		return fmt.Errorf("ocr: dpi must be > 0")
	}
	if c.OCR.Engine == "tesseract" && c.OCR.Binary == "" {
		return fmt.Errorf("ocr: binary is required for the tesseract engine")
	}
	if _, err := regexp.Compile(c.Analysis.HeadingPattern); err != nil {
		return fmt.Errorf("analysis: heading_pattern: %w", err)
	}
	switch c.Correction.Scope {
	case "document", "page":
	default:
		return fmt.Errorf("correction: unsupported scope %q (use document or page)", c.Correction.Scope)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) * 1024 * 1024 }

// OCRLanguages returns the tesseract language argument ("eng+fra").
func (c *Config) OCRLanguages() string { return strings.Join(c.OCR.Languages, "+") }
