package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"video-scanner-go/internal/report"
	"video-scanner-go/internal/resolution"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the main configuration structure
type Config struct {
	Resolution      string            `mapstructure:"resolution"`
	Comparison      string            `mapstructure:"comparison"`
	SourceDirectory string            `mapstructure:"source_directory"`
	OutputDirectory string            `mapstructure:"output_directory"`
	Extensions      []string          `mapstructure:"extensions"`
	Scan            ScanConfig        `mapstructure:"scan"`
	Matching        MatchingConfig    `mapstructure:"matching"`
	Performance     PerformanceConfig `mapstructure:"performance"`
	Probe           ProbeConfig       `mapstructure:"probe"`
	Report          ReportConfig      `mapstructure:"report"`
	History         HistoryConfig     `mapstructure:"history"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// ScanConfig contains directory traversal settings
type ScanConfig struct {
	CaseInsensitive bool `mapstructure:"case_insensitive"`
}

// MatchingConfig contains criterion evaluation settings
type MatchingConfig struct {
	HeightTolerance int `mapstructure:"height_tolerance"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads"` // 0 = auto
}

// ProbeConfig selects and configures the probe backend
type ProbeConfig struct {
	Backend      string `mapstructure:"backend"`
	FFprobePath  string `mapstructure:"ffprobe_path"`
	ExifToolPath string `mapstructure:"exiftool_path"`
	Cache        bool   `mapstructure:"cache"`
}

// ReportConfig contains report output settings
type ReportConfig struct {
	Formats []string `mapstructure:"formats"`
}

// HistoryConfig contains run history settings
type HistoryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"` // defaults to <output>/history.db
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// validBackends mirrors the extractor backend names; extractor imports this
// package and cannot be imported here.
var validBackends = []string{"ffprobe", "exiftool"}

// envAliases are the short environment names accepted besides the
// VIDEO_SCANNER_ prefixed ones.
var envAliases = map[string]string{
	"resolution":                 "RESOLUTION",
	"comparison":                 "COMPARISON",
	"source_directory":           "SRC_DIR",
	"output_directory":           "LOG_DIR",
	"performance.worker_threads": "MAX_WORKERS",
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"resolution":  "resolution",
	"comparison":  "comparison",
	"src-dir":     "source_directory",
	"log-dir":     "output_directory",
	"max-workers": "performance.worker_threads",
	"backend":     "probe.backend",
	"format":      "report.formats",
	"history":     "history.enabled",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Resolution:      "360p",
		Comparison:      "eq",
		SourceDirectory: "/src",
		OutputDirectory: "/log",
		Extensions:      []string{".mp4"},
		Matching: MatchingConfig{
			HeightTolerance: resolution.DefaultHeightTolerance,
		},
		Probe: ProbeConfig{
			Backend:     "ffprobe",
			FFprobePath: "ffprobe",
		},
		Report: ReportConfig{
			Formats: []string{"text", "json"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// Load reads configuration with precedence flag > env > file > default.
// flags may be nil; only flags the user actually set override lower layers.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.video-scanner")
		v.AddConfigPath("/etc/video-scanner")
	}

	v.SetEnvPrefix("VIDEO_SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := "VIDEO_SCANNER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	// "--format text,json" and VIDEO_SCANNER_REPORT_FORMATS="text json" both
	// arrive as one value when they did not come from a YAML list.
	cfg.Report.Formats = splitList(v.GetStringSlice("report.formats"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("resolution", d.Resolution)
	v.SetDefault("comparison", d.Comparison)
	v.SetDefault("source_directory", d.SourceDirectory)
	v.SetDefault("output_directory", d.OutputDirectory)
	v.SetDefault("extensions", d.Extensions)
	v.SetDefault("scan.case_insensitive", d.Scan.CaseInsensitive)
	v.SetDefault("matching.height_tolerance", d.Matching.HeightTolerance)
	v.SetDefault("performance.worker_threads", d.Performance.WorkerThreads)
	v.SetDefault("probe.backend", d.Probe.Backend)
	v.SetDefault("probe.ffprobe_path", d.Probe.FFprobePath)
	v.SetDefault("probe.exiftool_path", d.Probe.ExifToolPath)
	v.SetDefault("probe.cache", d.Probe.Cache)
	v.SetDefault("report.formats", d.Report.Formats)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.database_path", d.History.DatabasePath)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates and normalizes the configuration. It does not touch the
// filesystem; directory checks happen when a scan starts.
func (c *Config) Validate() error {
	c.Resolution = strings.TrimSpace(c.Resolution)
	if _, err := resolution.Parse(c.Resolution, resolution.EQ); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	c.Comparison = strings.ToLower(strings.TrimSpace(c.Comparison))
	if _, err := resolution.ParseComparison(c.Comparison); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Comparison == "" {
		c.Comparison = "eq"
	}

	if c.SourceDirectory == "" {
		return fmt.Errorf("%w: source_directory is required", ErrInvalidConfig)
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("%w: output_directory is required", ErrInvalidConfig)
	}
	c.SourceDirectory = expandPath(c.SourceDirectory)
	c.OutputDirectory = expandPath(c.OutputDirectory)

	c.Extensions = normalizeExtensions(c.Extensions, c.Scan.CaseInsensitive)
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".mp4"}
	}

	if c.Matching.HeightTolerance < 0 {
		return fmt.Errorf("%w: matching.height_tolerance must not be negative", ErrInvalidConfig)
	}
	if c.Performance.WorkerThreads < 0 {
		return fmt.Errorf("%w: performance.worker_threads must not be negative", ErrInvalidConfig)
	}

	c.Probe.Backend = strings.ToLower(strings.TrimSpace(c.Probe.Backend))
	if c.Probe.Backend == "" {
		c.Probe.Backend = "ffprobe"
	}
	if !contains(validBackends, c.Probe.Backend) {
		return fmt.Errorf("%w: invalid probe backend: %s (valid: %s)",
			ErrInvalidConfig, c.Probe.Backend, strings.Join(validBackends, ", "))
	}

	for i, f := range c.Report.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !report.IsValidFormat(f) {
			return fmt.Errorf("%w: invalid report format: %s (valid: %s)",
				ErrInvalidConfig, f, strings.Join(report.ValidFormats, ", "))
		}
		c.Report.Formats[i] = f
	}
	if len(c.Report.Formats) == 0 {
		c.Report.Formats = []string{report.FormatText, report.FormatJSON}
	}

	if c.History.DatabasePath == "" {
		c.History.DatabasePath = filepath.Join(c.OutputDirectory, "history.db")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level: %s (valid: debug, info, warn, error)", ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// Spec parses the configured resolution and comparison into a resolution.Spec
// carrying the configured height tolerance.
func (c *Config) Spec() (resolution.Spec, error) {
	cmp, err := resolution.ParseComparison(c.Comparison)
	if err != nil {
		return resolution.Spec{}, err
	}
	spec, err := resolution.Parse(c.Resolution, cmp)
	if err != nil {
		return resolution.Spec{}, err
	}
	return spec.WithHeightTolerance(c.Matching.HeightTolerance), nil
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func normalizeExtensions(extensions []string, lower bool) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if lower {
			ext = strings.ToLower(ext)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
