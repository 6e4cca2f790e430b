package clustering

import (
	"sort"
	"time"

	"github.com/abelbrown/storyline/internal/model"
)

// Index is the result of one clustering run. It is never modified after it
// is published; a new run builds a new Index.
type Index struct {
	// Clusters per language, ascending by MaxTimestamp.
	Clusters map[model.Language][]*model.Cluster

	// IterTimestamp is the corpus notion of "now": a percentile of the
	// fetch time distribution.
	IterTimestamp uint64
	// MaxTimestamp is the latest fetch time in the corpus.
	MaxTimestamp uint64

	Version string
	BuiltAt time.Time
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{Clusters: make(map[model.Language][]*model.Cluster)}
}

// Window returns the clusters of lang whose MaxTimestamp lies within period
// seconds of the index MaxTimestamp.
func (idx *Index) Window(lang model.Language, period uint64) []*model.Cluster {
	clusters := idx.Clusters[lang]
	var from uint64
	if idx.MaxTimestamp > period {
		from = idx.MaxTimestamp - period
	}
	i := sort.Search(len(clusters), func(i int) bool {
		return clusters[i].MaxTimestamp >= from
	})
	return clusters[i:]
}

// LanguageStats counts what the index holds for one language.
type LanguageStats struct {
	Clusters  int `json:"clusters"`
	Documents int `json:"documents"`
}

func (idx *Index) Stats() map[model.Language]LanguageStats {
	out := make(map[model.Language]LanguageStats, len(idx.Clusters))
	for lang, clusters := range idx.Clusters {
		st := LanguageStats{Clusters: len(clusters)}
		for _, c := range clusters {
			st.Documents += c.Size()
		}
		out[lang] = st
	}
	return out
}
