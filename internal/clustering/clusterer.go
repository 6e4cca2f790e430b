// Package clustering groups documents into stories.
//
// The Clusterer sorts the corpus by time, splits it by language and runs one
// StreamClusterer per language. A StreamClusterer walks its stream in
// overlapping chunks; each chunk is clustered by a BatchClusterer using
// single-linkage over embedding distances with size, host and time
// constraints.
//
// # Thread Safety
//
// A Clusterer may be used from several goroutines. Languages are clustered
// concurrently inside Cluster; they share no mutable state.
package clustering

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
)

// Options configures a Clusterer.
type Options struct {
	Languages []Config
	// IterTimestampPercentile picks the corpus "now" from the sorted fetch
	// times.
	IterTimestampPercentile float64
	// Parallelism bounds concurrent languages. Zero means one goroutine
	// per language.
	Parallelism int
	// Observer, if set, receives merge decisions for every language.
	Observer func(lang model.Language, outcome MergeOutcome, dist float64, size int)
}

// Clusterer is the language partitioner: it turns a corpus into an Index.
type Clusterer struct {
	opts    Options
	streams map[model.Language]*StreamClusterer
	keys    map[model.Language][]model.EmbeddingKey
	logger  *log.Logger
}

// New validates every language config and builds a Clusterer.
func New(opts Options) (*Clusterer, error) {
	if opts.IterTimestampPercentile < 0 || opts.IterTimestampPercentile > 1 {
		return nil, fmt.Errorf("%w: iter_timestamp_percentile %v not in [0, 1]", ErrConfig, opts.IterTimestampPercentile)
	}
	c := &Clusterer{
		opts:    opts,
		streams: make(map[model.Language]*StreamClusterer),
		keys:    make(map[model.Language][]model.EmbeddingKey),
		logger:  logging.WithPrefix("clustering"),
	}
	for _, cfg := range opts.Languages {
		if _, dup := c.streams[cfg.Language]; dup {
			return nil, fmt.Errorf("%w: language %s configured twice", ErrConfig, cfg.Language)
		}
		var observer MergeObserver
		if opts.Observer != nil {
			lang := cfg.Language
			observer = func(outcome MergeOutcome, dist float64, size int) {
				opts.Observer(lang, outcome, dist, size)
			}
		}
		s, err := NewStreamClusterer(cfg, observer)
		if err != nil {
			return nil, err
		}
		c.streams[cfg.Language] = s
		c.keys[cfg.Language] = cfg.embeddingKeys()
	}
	return c, nil
}

// Languages returns the configured languages in a fixed order.
func (c *Clusterer) Languages() []model.Language {
	langs := make([]model.Language, 0, len(c.streams))
	for l := range c.streams {
		langs = append(langs, l)
	}
	slices.Sort(langs)
	return langs
}

// Cluster builds an Index from docs. The input slice is not modified.
func (c *Clusterer) Cluster(ctx context.Context, docs []*model.Document) (*Index, error) {
	sorted := slices.Clone(docs)
	SortDocuments(sorted)

	idx := NewIndex()
	idx.IterTimestamp = iterTimestamp(sorted, c.opts.IterTimestampPercentile)
	if len(sorted) > 0 {
		idx.MaxTimestamp = sorted[len(sorted)-1].FetchTime
	}

	byLang := make(map[model.Language][]*model.Document)
	skipped := make(map[model.Language]int)
	for _, d := range sorted {
		keys, ok := c.keys[d.Language]
		if !ok {
			continue
		}
		if !d.HasEmbeddings(keys...) {
			skipped[d.Language]++
			continue
		}
		byLang[d.Language] = append(byLang[d.Language], d)
	}
	for lang, n := range skipped {
		c.logger.Warn("documents missing embeddings", "lang", lang, "count", n)
	}

	langs := c.Languages()
	results := make([][]*model.Cluster, len(langs))

	g, ctx := errgroup.WithContext(ctx)
	if c.opts.Parallelism > 0 {
		g.SetLimit(c.opts.Parallelism)
	}
	for i, lang := range langs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			clusters, err := c.clusterLanguage(lang, byLang[lang])
			if err != nil {
				return err
			}
			results[i] = clusters
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, lang := range langs {
		idx.Clusters[lang] = results[i]
		c.logger.Debug("clustered language", "lang", lang, "docs", len(byLang[lang]), "clusters", len(results[i]))
	}
	return idx, nil
}

// clusterLanguage converts a panic in the merge loop into an error so one
// broken language does not take the process down from a worker goroutine.
func (c *Clusterer) clusterLanguage(lang model.Language, docs []*model.Document) (clusters []*model.Cluster, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("cluster %s: %w", lang, e)
				return
			}
			err = fmt.Errorf("cluster %s: %v", lang, r)
		}
	}()

	clusters = c.streams[lang].Cluster(docs)
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].MaxTimestamp < clusters[j].MaxTimestamp
	})
	if clusters == nil {
		clusters = []*model.Cluster{}
	}
	return clusters, nil
}

// SortDocuments orders docs by fetch time. Ties go by filename, or by title
// length when neither document has a filename.
func SortDocuments(docs []*model.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.FetchTime != b.FetchTime {
			return a.FetchTime < b.FetchTime
		}
		if a.Filename == "" && b.Filename == "" {
			return len(a.Title) < len(b.Title)
		}
		return a.Filename < b.Filename
	})
}

func iterTimestamp(sorted []*model.Document, percentile float64) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Floor(percentile * float64(len(sorted))))
	i = min(i, len(sorted)-1)
	return sorted[i].FetchTime
}
