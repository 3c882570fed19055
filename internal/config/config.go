// Package config loads pipeline settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"voice-ledger-go/internal/types"
)

// Config holds everything the coordinator and the CLI need.
type Config struct {
	SourceDir string `yaml:"source_dir"`
	OutputDir string `yaml:"output_dir"`

	TranscribeURL      string `yaml:"transcribe_url"`
	TranscribeModel    string `yaml:"transcribe_model"`
	TranscribeLanguage string `yaml:"transcribe_language"`
	TranscribeTimeout  int    `yaml:"transcribe_timeout_sec"`
	UseMockTranscribe  bool   `yaml:"use_mock_transcribe"`

	WatchSchedule   string            `yaml:"watch_schedule"`
	FilenamePattern string            `yaml:"filename_pattern"`
	Extensions      []string          `yaml:"extensions"`
	Operators       map[string]string `yaml:"operators"`
	Categories      types.RuleTable   `yaml:"categories"`
}

// LedgerPath is the progress ledger CSV.
func (c Config) LedgerPath() string {
	return filepath.Join(c.OutputDir, "checkpoint.csv")
}

// IndividualDir holds one workbook per processed recording.
func (c Config) IndividualDir() string {
	return filepath.Join(c.OutputDir, "individual")
}

func (c Config) ConsolidatedPath() string {
	return filepath.Join(c.OutputDir, "transcripts_consolidated.xlsx")
}

func (c Config) ClassifiedPath() string {
	return filepath.Join(c.OutputDir, "transcripts_classified.xlsx")
}

// Timeout returns the per-item transcription timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TranscribeTimeout) * time.Second
}

// Load reads .env, then the YAML file named by PIPELINE_CONFIG (default
// pipeline.yaml, optional), then applies environment overrides and defaults.
func Load() (Config, error) {
	_ = godotenv.Load() // loads .env

	path := envOr("PIPELINE_CONFIG", "pipeline.yaml")
	cfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// LoadFile parses a YAML config file. A missing file yields an empty Config.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.SourceDir == "" {
		return errors.New("config: source_dir is required")
	}
	if c.OutputDir == "" {
		return errors.New("config: output_dir is required")
	}
	if !c.UseMockTranscribe && c.TranscribeURL == "" {
		return errors.New("config: transcribe_url is required unless the mock transcriber is enabled")
	}
	seen := map[string]bool{}
	for _, r := range c.Categories {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("config: category with empty name")
		}
		// The classified store joins category names with ", ".
		if strings.Contains(r.Name, ", ") {
			return fmt.Errorf("config: category %q must not contain \", \"", r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("config: duplicate category %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "bd_transcricao"
	}
	if c.TranscribeLanguage == "" {
		c.TranscribeLanguage = "pt"
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 600
	}
	if c.WatchSchedule == "" {
		c.WatchSchedule = "@every 30m"
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".mp3", ".wav"}
	}
	if c.Operators == nil {
		c.Operators = DefaultOperators()
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
}

func applyEnv(c *Config) {
	envOverride(&c.SourceDir, "SOURCE_DIR")
	envOverride(&c.OutputDir, "OUTPUT_DIR")
	envOverride(&c.TranscribeURL, "TRANSCRIBE_URL")
	envOverride(&c.TranscribeModel, "TRANSCRIBE_MODEL")
	envOverride(&c.TranscribeLanguage, "TRANSCRIBE_LANGUAGE")
	envOverride(&c.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&c.FilenamePattern, "FILENAME_PATTERN")
	if v := os.Getenv("TRANSCRIBE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TranscribeTimeout = n
		}
	}
	if v := os.Getenv("USE_MOCK_TRANSCRIBE"); v != "" {
		c.UseMockTranscribe = v == "true"
	}
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
