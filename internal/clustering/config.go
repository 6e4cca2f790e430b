package clustering

import (
	"errors"
	"fmt"
	"slices"

	"github.com/abelbrown/storyline/internal/model"
)

// ErrConfig is wrapped by every configuration validation error.
var ErrConfig = errors.New("invalid clustering config")

// Config holds the single-linkage parameters for one language.
type Config struct {
	Language model.Language `toml:"language" json:"language"`

	// EmbeddingWeights maps each embedding space to its share of the
	// distance. Documents lacking any listed space are not clustered.
	EmbeddingWeights map[model.EmbeddingKey]float64 `toml:"embedding_weights" json:"embedding_weights"`

	// SmallThreshold stops merging once the closest pair is farther apart.
	SmallThreshold float64 `toml:"small_threshold" json:"small_threshold"`

	SmallClusterSize  int     `toml:"small_cluster_size" json:"small_cluster_size"`
	MediumClusterSize int     `toml:"medium_cluster_size" json:"medium_cluster_size"`
	MediumThreshold   float64 `toml:"medium_threshold" json:"medium_threshold"`
	LargeClusterSize  int     `toml:"large_cluster_size" json:"large_cluster_size"`
	LargeThreshold    float64 `toml:"large_threshold" json:"large_threshold"`

	// BanSameHosts forbids two documents from one host in a cluster.
	BanSameHosts bool `toml:"ban_same_hosts" json:"ban_same_hosts"`
	// UseTimestampMoving stretches distances between documents fetched
	// more than a day apart.
	UseTimestampMoving bool `toml:"use_timestamp_moving" json:"use_timestamp_moving"`

	ChunkSize        int `toml:"chunk_size" json:"chunk_size"`
	IntersectionSize int `toml:"intersection_size" json:"intersection_size"`
}

// DefaultConfig returns the parameters used in production for lang.
func DefaultConfig(lang model.Language) Config {
	return Config{
		Language: lang,
		EmbeddingWeights: map[model.EmbeddingKey]float64{
			model.EmbeddingFastTextTitle:   0.5,
			model.EmbeddingFastTextClassic: 0.5,
		},
		SmallThreshold:     0.05,
		SmallClusterSize:   15,
		MediumClusterSize:  50,
		MediumThreshold:    0.035,
		LargeClusterSize:   100,
		LargeThreshold:     0.025,
		BanSameHosts:       true,
		UseTimestampMoving: true,
		ChunkSize:          10000,
		IntersectionSize:   2000,
	}
}

// Validate reports the first problem found.
func (c Config) Validate() error {
	if c.Language == model.LanguageUndefined {
		return fmt.Errorf("%w: language is required", ErrConfig)
	}
	if len(c.EmbeddingWeights) == 0 {
		return fmt.Errorf("%w: %s: no embedding weights", ErrConfig, c.Language)
	}
	for k, w := range c.EmbeddingWeights {
		if k == model.EmbeddingUndefined {
			return fmt.Errorf("%w: %s: undefined embedding key", ErrConfig, c.Language)
		}
		if w < 0 {
			return fmt.Errorf("%w: %s: negative weight for %s", ErrConfig, c.Language, k)
		}
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: %s: chunk_size must be positive", ErrConfig, c.Language)
	}
	if c.IntersectionSize < 0 || c.IntersectionSize >= c.ChunkSize {
		return fmt.Errorf("%w: %s: intersection_size must be in [0, chunk_size)", ErrConfig, c.Language)
	}
	if c.SmallClusterSize > c.MediumClusterSize || c.MediumClusterSize > c.LargeClusterSize {
		return fmt.Errorf("%w: %s: cluster size tiers must not decrease", ErrConfig, c.Language)
	}
	return nil
}

// embeddingKeys returns the configured keys in a fixed order so that
// floating point sums are reproducible.
func (c Config) embeddingKeys() []model.EmbeddingKey {
	keys := make([]model.EmbeddingKey, 0, len(c.EmbeddingWeights))
	for k := range c.EmbeddingWeights {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// appropriateSize reports whether a cluster of size may be formed by a merge
// at dist.
func (c Config) appropriateSize(size int, dist float64) bool {
	switch {
	case size <= c.SmallClusterSize:
		return true
	case size <= c.MediumClusterSize:
		return dist <= c.MediumThreshold
	case size <= c.LargeClusterSize:
		return dist <= c.LargeThreshold
	}
	return false
}
