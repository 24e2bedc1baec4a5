// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_HTTP_TIMEOUT_SECONDS=30.
const EnvPrefix = "HARVEST"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Peer    PeerConfig    `mapstructure:"peer"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Export  ExportConfig  `mapstructure:"export"`
	Archive ArchiveConfig `mapstructure:"archive"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PeerConfig identifies the remote services directory.
type PeerConfig struct {
	RootURL   string `mapstructure:"root_url"`
	UserAgent string `mapstructure:"user_agent"`
	// RespectRobots makes every request honor the peer's robots.txt.
	RespectRobots bool `mapstructure:"respect_robots"`
	// MaxBodyBytes caps a single response. Zero means unlimited.
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// CatalogConfig controls discovery.
type CatalogConfig struct {
	SkipFolders []string `mapstructure:"skip_folders"`
}

// HarvestConfig sizes the worker pool and layer queries.
type HarvestConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
	PageSize    int `mapstructure:"page_size"`
	// GeographicLayers lists "Folder/Service" or "Folder/Service:LayerID" entries whose
	// coordinates are already longitude/latitude.
	GeographicLayers []string `mapstructure:"geographic_layers"`
}

// HTTPConfig configures request timeouts, retries and the shared rate limit.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	RateBurst        int     `mapstructure:"rate_burst"`
}

// ExportConfig controls map image exports.
type ExportConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AllServices bool   `mapstructure:"all_services"`
	BBox        string `mapstructure:"bbox"`
	BBoxSR      int    `mapstructure:"bbox_sr"`
	Size        string `mapstructure:"size"`
	Format      string `mapstructure:"format"`
	MinBytes    int    `mapstructure:"min_bytes"`
}

// Archive backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// ArchiveConfig selects where artifacts are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Root      string `mapstructure:"root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres ledger.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds the optional run report notification target.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and the environment. With an empty path,
// harvest.yaml is looked up in the working directory, /etc/arcgis-harvester and
// $HOME/.arcgis-harvester; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvest")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/arcgis-harvester/")
		v.AddConfigPath("$HOME/.arcgis-harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("peer.root_url", "")
	v.SetDefault("peer.user_agent", "arcgis-harvester/0.1 (+https://github.com/JakeFAU/arcgis-harvester)")
	v.SetDefault("peer.respect_robots", false)
	v.SetDefault("peer.max_body_bytes", 0)
	v.SetDefault("catalog.skip_folders", []string{"Utilities", "System"})
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.queue_depth", 64)
	v.SetDefault("harvest.page_size", 10000)
	v.SetDefault("harvest.geographic_layers", []string{})
	v.SetDefault("http.timeout_seconds", 120)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.rate_per_second", 2.0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("export.enabled", true)
	v.SetDefault("export.all_services", false)
	v.SetDefault("export.bbox", "-9098767,-471243,-7320364,1504865")
	v.SetDefault("export.bbox_sr", 102100)
	v.SetDefault("export.size", "1920,1080")
	v.SetDefault("export.format", "png")
	v.SetDefault("export.min_bytes", 1000)
	v.SetDefault("archive.backend", BackendLocal)
	v.SetDefault("archive.root", "data/archive")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "harvest_units")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Peer.RootURL != "" {
		u, err := url.Parse(c.Peer.RootURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("peer.root_url must be an http(s) URL")
		}
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	if c.Export.Enabled && c.Export.Format == "" {
		return fmt.Errorf("export.format must be set when export is enabled")
	}
	switch c.Archive.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Archive.Root) == "" {
			return fmt.Errorf("archive.root must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("archive.backend %q is not one of local, gcs, memory", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// RequestTimeout is the deadline applied to each peer request attempt.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MaxAttempts is the total number of tries per request: the first plus the retries.
func (c Config) MaxAttempts() int {
	return c.HTTP.MaxRetries + 1
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
