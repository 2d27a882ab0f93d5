// Package config loads the server settings once at startup. Values come from
// hardcoded defaults, overlaid by an optional YAML file, overlaid by LBMS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LBMS"

const (
	UIText = "text"
	UIGUI  = "gui"

	StorageJSON   = "json"
	StorageYAML   = "yml"
	StorageSQL    = "sql"
	StorageMemory = "memory"
)

// Config is the full server configuration.
type Config struct {
	UI       string `yaml:"ui" split_words:"true"`
	LogLevel string `yaml:"log_level" split_words:"true"`
	// Catalog is the bookstore flat file; empty uses the built-in catalog.
	Catalog string `yaml:"catalog" split_words:"true"`

	Library     Library     `yaml:"library" split_words:"true"`
	Storage     Storage     `yaml:"storage" split_words:"true"`
	Circulation Circulation `yaml:"circulation" split_words:"true"`
}

// Library holds the opening hours (seconds of day) and the clock epoch.
type Library struct {
	OpenTime  int    `yaml:"open_time" split_words:"true"`
	CloseTime int    `yaml:"close_time" split_words:"true"`
	StartDate string `yaml:"start_date" split_words:"true"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Type           string `yaml:"type" split_words:"true"`
	Path           string `yaml:"path" split_words:"true"`
	MaxBackupFiles int    `yaml:"max_backup_files" split_words:"true"`
	SQL            SQL    `yaml:"sql" split_words:"true"`
}

// SQL holds the database connection parameters.
type SQL struct {
	Driver string `yaml:"driver" split_words:"true"`
	DSN    string `yaml:"dsn" split_words:"true"`
}

// Circulation holds lending rules. Money is in dollars.
type Circulation struct {
	LoanDays      int     `yaml:"loan_days" split_words:"true"`
	MaxBooks      int     `yaml:"max_books" split_words:"true"`
	FineThreshold float64 `yaml:"fine_threshold" split_words:"true"`
	FirstDayFine  float64 `yaml:"first_day_fine" split_words:"true"`
	WeeklyFine    float64 `yaml:"weekly_fine" split_words:"true"`
	MaxFine       float64 `yaml:"max_fine" split_words:"true"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		UI:       UIText,
		LogLevel: "info",
		Library: Library{
			OpenTime:  8 * 3600,
			CloseTime: 19 * 3600,
			StartDate: "2026-01-01",
		},
		Storage: Storage{
			Type:           StorageJSON,
			MaxBackupFiles: 3,
			SQL:            SQL{Driver: "sqlite3", DSN: "lbms.db"},
		},
		Circulation: Circulation{
			LoanDays:      7,
			MaxBooks:      5,
			FineThreshold: 0,
			FirstDayFine:  10,
			WeeklyFine:    2,
			MaxFine:       30,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config from environment: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.UI = strings.ToLower(strings.TrimSpace(c.UI))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	if c.Storage.Type == "yaml" {
		c.Storage.Type = StorageYAML
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.UI != UIText && c.UI != UIGUI {
		errs = append(errs, fmt.Errorf("ui: unknown type %q", c.UI))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if !validSecond(c.Library.OpenTime) || !validSecond(c.Library.CloseTime) {
		errs = append(errs, errors.New("library: open_time and close_time must be within 0..86399"))
	} else if c.Library.OpenTime >= c.Library.CloseTime {
		errs = append(errs, errors.New("library: open_time must be before close_time"))
	}
	if _, err := c.Library.Epoch(); err != nil {
		errs = append(errs, fmt.Errorf("library: start_date: %w", err))
	}
	switch c.Storage.Type {
	case StorageJSON, StorageYAML, StorageMemory:
	case StorageSQL:
		if c.Storage.SQL.Driver != "sqlite3" && c.Storage.SQL.Driver != "postgres" {
			errs = append(errs, fmt.Errorf("storage.sql.driver: unsupported %q", c.Storage.SQL.Driver))
		}
		if c.Storage.SQL.DSN == "" {
			errs = append(errs, errors.New("storage.sql.dsn: required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown type %q", c.Storage.Type))
	}
	if c.Storage.MaxBackupFiles < 0 {
		errs = append(errs, errors.New("storage.max_backup_files: must not be negative"))
	}
	circ := c.Circulation
	if circ.LoanDays <= 0 || circ.MaxBooks <= 0 {
		errs = append(errs, errors.New("circulation: loan_days and max_books must be positive"))
	}
	if circ.FineThreshold < 0 || circ.FirstDayFine < 0 || circ.WeeklyFine < 0 || circ.MaxFine < 0 {
		errs = append(errs, errors.New("circulation: fines must not be negative"))
	}
	return errors.Join(errs...)
}

// FilePath returns the storage file, defaulting per storage type.
func (s Storage) FilePath() string {
	if s.Path != "" {
		return s.Path
	}
	switch s.Type {
	case StorageYAML:
		return "lbms.yml"
	default:
		return "lbms.json"
	}
}

// Epoch returns midnight UTC of the configured start date.
func (l Library) Epoch() (time.Time, error) {
	return time.Parse("2006-01-02", l.StartDate)
}

// Cents converts a dollar amount from the configuration into cents.
func Cents(dollars float64) int64 {
	if dollars < 0 {
		return int64(dollars*100 - 0.5)
	}
	return int64(dollars*100 + 0.5)
}

func validSecond(s int) bool { return s >= 0 && s < 86400 }
