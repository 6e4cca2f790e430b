// Package config loads storyline's TOML configuration.
//
// Values are layered: Default, then the config file, then STORYLINE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/store"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig       `toml:"server"`
	Storage    store.Config       `toml:"storage"`
	Index      IndexConfig        `toml:"index"`
	Clustering []ClusteringConfig `toml:"clustering"`
	Rating     RatingConfig       `toml:"rating"`
	Ranker     RankerConfig       `toml:"ranker"`
	Logging    LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit       float64 `toml:"rate_limit"`
	RateBurst       int     `toml:"rate_burst"`
	ShutdownTimeout string  `toml:"shutdown_timeout"` // e.g. "10s"
	// EventBuffer is how many recent events /debug/events keeps.
	EventBuffer int `toml:"event_buffer"`
}

type IndexConfig struct {
	Schedule                string  `toml:"schedule"` // cron spec, "@every 5m" style descriptors allowed
	IterTimestampPercentile float64 `toml:"iter_timestamp_percentile"`
	Parallelism             int     `toml:"parallelism"`
	// EventLog is the JSONL event file. Empty disables the file sink.
	EventLog string `toml:"event_log"`
}

// ClusteringConfig is one [[clustering]] table. Zero numeric fields and
// missing weights take the language defaults.
type ClusteringConfig struct {
	Language           string             `toml:"language"`
	EmbeddingWeights   map[string]float64 `toml:"embedding_weights"`
	SmallThreshold     float64            `toml:"small_threshold"`
	SmallClusterSize   int                `toml:"small_cluster_size"`
	MediumClusterSize  int                `toml:"medium_cluster_size"`
	MediumThreshold    float64            `toml:"medium_threshold"`
	LargeClusterSize   int                `toml:"large_cluster_size"`
	LargeThreshold     float64            `toml:"large_threshold"`
	BanSameHosts       *bool              `toml:"ban_same_hosts"`
	UseTimestampMoving *bool              `toml:"use_timestamp_moving"`
	ChunkSize          int                `toml:"chunk_size"`
	IntersectionSize   *int               `toml:"intersection_size"`
}

type RatingConfig struct {
	AgencyPath      string  `toml:"agency_path"`
	AgencyUnknown   float64 `toml:"agency_unknown"`
	SetMinAsUnknown bool    `toml:"set_min_as_unknown"`
	GeoPath         string  `toml:"geo_path"`
	GeoUnknown      float64 `toml:"geo_unknown"`
}

type RankerConfig struct {
	MinClusterSize int `toml:"min_cluster_size"`
	// ThreadLimit caps a /threads response.
	ThreadLimit int `toml:"thread_limit"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "text" or "json"
	Dir    string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: "10s",
			EventBuffer:     500,
		},
		Storage: store.Config{
			Backend: store.BackendSQLite,
			Path:    "storyline.db",
		},
		Index: IndexConfig{
			Schedule:                "@every 5m",
			IterTimestampPercentile: 0.99,
		},
		Clustering: []ClusteringConfig{
			{Language: model.LanguageEN.String()},
			{Language: model.LanguageRU.String()},
		},
		Rating: RatingConfig{
			SetMinAsUnknown: true,
		},
		Ranker: RankerConfig{
			MinClusterSize: 2,
			ThreadLimit:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty), and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays TOML data on c. A file with [[clustering]] tables replaces
// the default languages rather than appending to them.
func (c *Config) merge(data []byte) error {
	defaults := c.Clustering
	c.Clustering = nil
	if err := toml.Unmarshal(data, c); err != nil {
		return err
	}
	if len(c.Clustering) == 0 {
		c.Clustering = defaults
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("STORYLINE_SERVER_ADDR", &c.Server.Addr)
	str("STORYLINE_STORAGE_BACKEND", &c.Storage.Backend)
	str("STORYLINE_STORAGE_PATH", &c.Storage.Path)
	str("STORYLINE_STORAGE_DIR", &c.Storage.Dir)
	str("STORYLINE_INDEX_SCHEDULE", &c.Index.Schedule)
	str("STORYLINE_INDEX_EVENT_LOG", &c.Index.EventLog)
	str("STORYLINE_RATING_AGENCY_PATH", &c.Rating.AgencyPath)
	str("STORYLINE_RATING_GEO_PATH", &c.Rating.GeoPath)
	str("STORYLINE_LOG_LEVEL", &c.Logging.Level)
	str("STORYLINE_LOG_FORMAT", &c.Logging.Format)
	str("STORYLINE_LOG_DIR", &c.Logging.Dir)

	if v := os.Getenv("STORYLINE_SERVER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Server.RateLimit = f
		}
	}
	if v := os.Getenv("STORYLINE_INDEX_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.Parallelism = n
		}
	}
	if v := os.Getenv("STORYLINE_RANKER_MIN_CLUSTER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Ranker.MinClusterSize = n
		}
	}
}

// Validate checks every section and the derived clustering configs.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalid)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("%w: server rate limit must not be negative", ErrInvalid)
	}
	if _, err := c.ShutdownTimeout(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case store.BackendSQLite, store.BackendBadger:
	default:
		return fmt.Errorf("%w: storage.backend %q is not sqlite or badger", ErrInvalid, c.Storage.Backend)
	}
	if _, err := cron.ParseStandard(c.Index.Schedule); err != nil {
		return fmt.Errorf("%w: index.schedule %q: %v", ErrInvalid, c.Index.Schedule, err)
	}
	if p := c.Index.IterTimestampPercentile; p < 0 || p > 1 {
		return fmt.Errorf("%w: index.iter_timestamp_percentile %v not in [0, 1]", ErrInvalid, p)
	}
	if c.Index.Parallelism < 0 {
		return fmt.Errorf("%w: index.parallelism must not be negative", ErrInvalid)
	}
	if _, err := c.ClusteringConfigs(); err != nil {
		return err
	}
	if c.Ranker.MinClusterSize < 0 {
		return fmt.Errorf("%w: ranker.min_cluster_size must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q is not text or json", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// ShutdownTimeout parses server.shutdown_timeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	if c.Server.ShutdownTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: server.shutdown_timeout %q", ErrInvalid, c.Server.ShutdownTimeout)
	}
	return d, nil
}

// ClusteringConfigs resolves every [[clustering]] table against the
// language defaults and validates the result.
func (c *Config) ClusteringConfigs() ([]clustering.Config, error) {
	if len(c.Clustering) == 0 {
		return nil, fmt.Errorf("%w: no clustering languages", ErrInvalid)
	}
	out := make([]clustering.Config, 0, len(c.Clustering))
	for i, cc := range c.Clustering {
		resolved, err := cc.resolve()
		if err != nil {
			return nil, fmt.Errorf("%w: clustering[%d]: %v", ErrInvalid, i, err)
		}
		if err := resolved.Validate(); err != nil {
			return nil, fmt.Errorf("%w: clustering[%d]: %w", ErrInvalid, i, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (cc ClusteringConfig) resolve() (clustering.Config, error) {
	lang := model.ParseLanguage(cc.Language)
	if lang == model.LanguageUndefined {
		return clustering.Config{}, fmt.Errorf("unknown language %q", cc.Language)
	}
	cfg := clustering.DefaultConfig(lang)

	if len(cc.EmbeddingWeights) > 0 {
		cfg.EmbeddingWeights = make(map[model.EmbeddingKey]float64, len(cc.EmbeddingWeights))
		for name, w := range cc.EmbeddingWeights {
			key := model.ParseEmbeddingKey(name)
			if key == model.EmbeddingUndefined {
				return clustering.Config{}, fmt.Errorf("unknown embedding key %q", name)
			}
			cfg.EmbeddingWeights[key] = w
		}
	}
	setFloat(&cfg.SmallThreshold, cc.SmallThreshold)
	setFloat(&cfg.MediumThreshold, cc.MediumThreshold)
	setFloat(&cfg.LargeThreshold, cc.LargeThreshold)
	setInt(&cfg.SmallClusterSize, cc.SmallClusterSize)
	setInt(&cfg.MediumClusterSize, cc.MediumClusterSize)
	setInt(&cfg.LargeClusterSize, cc.LargeClusterSize)
	setInt(&cfg.ChunkSize, cc.ChunkSize)
	if cc.BanSameHosts != nil {
		cfg.BanSameHosts = *cc.BanSameHosts
	}
	if cc.UseTimestampMoving != nil {
		cfg.UseTimestampMoving = *cc.UseTimestampMoving
	}
	if cc.IntersectionSize != nil {
		cfg.IntersectionSize = *cc.IntersectionSize
	}
	return cfg, nil
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
