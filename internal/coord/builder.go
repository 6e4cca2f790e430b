package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/metrics"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/store"
	"github.com/abelbrown/storyline/internal/summarize"
)

// IndexBuilder produces a complete index.
type IndexBuilder interface {
	Build(ctx context.Context) (*clustering.Index, error)
}

// Builder turns the document store into an index: it drops expired
// documents, clusters the rest and scores every cluster.
type Builder struct {
	store      store.DocStore
	clusterer  *clustering.Clusterer
	summarizer *summarize.Summarizer
	events     *otel.Logger
	logger     *log.Logger
}

var _ IndexBuilder = (*Builder)(nil)

// NewBuilder wires a Builder. A nil events logger discards events.
func NewBuilder(st store.DocStore, cl *clustering.Clusterer, sum *summarize.Summarizer, events *otel.Logger) *Builder {
	if events == nil {
		events = otel.NewNullLogger()
	}
	return &Builder{
		store:      st,
		clusterer:  cl,
		summarizer: sum,
		events:     events,
		logger:     logging.WithPrefix("coord"),
	}
}

// Build reads a snapshot of the store and returns a new index. Invariant
// violations inside clustering or scoring surface as errors or panics;
// the caller decides whether to keep the previous index.
func (b *Builder) Build(ctx context.Context) (*clustering.Index, error) {
	start := time.Now()

	var docs []*model.Document
	var maxFetch uint64
	err := b.store.Scan(ctx, func(d *model.Document) error {
		docs = append(docs, d)
		maxFetch = max(maxFetch, d.FetchTime)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}

	live, err := b.removeStale(ctx, docs, maxFetch)
	if err != nil {
		return nil, err
	}
	indexable := Indexable(live)

	idx, err := b.clusterer.Cluster(ctx, indexable)
	if err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	for _, lang := range b.clusterer.Languages() {
		clusters := idx.Clusters[lang]
		b.summarizer.Summarize(clusters)
		b.events.LanguageClustered(lang.String(), len(clusters))
	}

	idx.Version = uuid.NewString()
	idx.BuiltAt = time.Now()

	dur := time.Since(start)
	b.logger.Info("index built", "version", idx.Version, "docs", len(indexable), "skipped", len(live)-len(indexable), "took", dur)
	b.events.IndexBuilt(idx.Version, len(indexable), dur)
	return idx, nil
}

// removeStale deletes documents whose TTL expired relative to the newest
// fetch time and returns the rest.
func (b *Builder) removeStale(ctx context.Context, docs []*model.Document, now uint64) ([]*model.Document, error) {
	live := docs[:0:0]
	removed := 0
	for _, d := range docs {
		if !d.IsStale(now) {
			live = append(live, d)
			continue
		}
		if _, err := b.store.Delete(ctx, d.Filename); err != nil {
			return nil, fmt.Errorf("remove stale %s: %w", d.Filename, err)
		}
		removed++
	}
	if removed > 0 {
		metrics.StaleRemovedTotal.Add(float64(removed))
		b.logger.Debug("removed stale documents", "count", removed)
		b.events.StaleRemoved(removed)
	}
	return live, nil
}

// Indexable keeps the documents the clusterer can use: fully annotated news.
func Indexable(docs []*model.Document) []*model.Document {
	out := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		if d.IsFullyIndexed() && d.IsNews() {
			out = append(out, d)
		}
	}
	return out
}

// ObserveMerges feeds merge decisions into metrics. It fits
// clustering.Options.Observer.
func ObserveMerges(lang model.Language, outcome clustering.MergeOutcome, _ float64, _ int) {
	metrics.RecordMerge(lang.String(), outcome.String())
}
