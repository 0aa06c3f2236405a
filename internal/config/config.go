// Package config loads and validates ETL configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// DefaultSourceURL is the archived copy of the largest-banks list.
const DefaultSourceURL = "https://web.archive.org/web/20230908091635/https://en.wikipedia.org/wiki/List_of_largest_banks"

// Config captures every knob of a run, loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Transform TransformConfig `mapstructure:"transform"`
	Output    OutputConfig    `mapstructure:"output"`
	DB        DBConfig        `mapstructure:"db"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// SourceConfig points at the page holding the banks table.
type SourceConfig struct {
	URL            string `mapstructure:"url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractConfig tunes table extraction.
type ExtractConfig struct {
	StripFootnotes bool `mapstructure:"strip_footnotes"`
}

// TransformConfig locates the exchange-rate table.
type TransformConfig struct {
	RatesPath string `mapstructure:"rates_path"`
}

// OutputConfig sets file sink paths. An empty XLSXPath disables the workbook.
type OutputConfig struct {
	CSVPath   string `mapstructure:"csv_path"`
	XLSXPath  string `mapstructure:"xlsx_path"`
	XLSXSheet string `mapstructure:"xlsx_sheet"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// ProgressConfig configures the append-only progress log.
type ProgressConfig struct {
	LogPath  string `mapstructure:"log_path"`
	Timezone string `mapstructure:"timezone"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ArchiveConfig selects where raw page snapshots go.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig sets the node-exporter textfile target. Empty disables it.
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BANKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.url", DefaultSourceURL)
	v.SetDefault("source.user_agent", "largest-banks-etl/0.1")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("extract.strip_footnotes", true)
	v.SetDefault("transform.rates_path", "./data/exchange_rate.csv")
	v.SetDefault("output.csv_path", "./data/Largest_banks_data.csv")
	v.SetDefault("output.xlsx_path", "")
	v.SetDefault("output.xlsx_sheet", "Largest_banks")
	v.SetDefault("db.dsn", "postgres://localhost:5432/banks?sslmode=disable")
	v.SetDefault("db.table", "Largest_banks")
	v.SetDefault("db.max_conns", 2)
	v.SetDefault("db.max_conn_lifetime_seconds", 0)
	v.SetDefault("progress.log_path", "./logs/code_log.txt")
	v.SetDefault("progress.timezone", "Local")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.local_dir", "./data/snapshots")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile_path", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.URL) == "" {
		return fmt.Errorf("source.url must be set")
	}
	if c.Source.TimeoutSeconds < 0 {
		return fmt.Errorf("source.timeout_seconds must be >= 0")
	}
	if c.Transform.RatesPath == "" {
		return fmt.Errorf("transform.rates_path must be set")
	}
	if c.Output.CSVPath == "" {
		return fmt.Errorf("output.csv_path must be set")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.DB.Table == "" {
		return fmt.Errorf("db.table must be set")
	}
	if c.DB.MaxConns < 0 {
		return fmt.Errorf("db.max_conns must be >= 0")
	}
	if c.Progress.LogPath == "" {
		return fmt.Errorf("progress.log_path must be set")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.provider is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, local, gcs, memory")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout converts source.timeout_seconds into a duration. Zero means no timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ConnLifetime converts db.max_conn_lifetime_seconds into a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}
