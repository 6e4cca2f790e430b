package coord

import (
	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/ranking"
)

// DefaultThreadLimit caps a thread listing when the query sets no limit.
const DefaultThreadLimit = 1000

// Query selects threads from an index.
type Query struct {
	// Period is the look-back window in seconds, counted from the newest
	// document in the index.
	Period   uint64
	Language model.Language
	Category model.Category
	Limit    int
}

// Thread is one ranked story.
type Thread struct {
	Title    string         `json:"title"`
	Category model.Category `json:"category"`
	// Articles are member filenames, most representative first.
	Articles []string `json:"articles"`

	Importance float64 `json:"-"`
	Weight     float64 `json:"-"`
	Size       int     `json:"-"`
	BestTime   uint64  `json:"-"`
}

// Threads ranks the clusters of q.Language updated within q.Period and
// returns the top of the q.Category bucket.
func Threads(idx *clustering.Index, r *ranking.Ranker, q Query) []Thread {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultThreadLimit
	}
	clusters := idx.Window(q.Language, q.Period)
	buckets := r.Rank(clusters, idx.IterTimestamp, q.Period)

	ranked := buckets.Top(q.Category, limit)
	out := make([]Thread, 0, len(ranked))
	for _, wc := range ranked {
		c := wc.Cluster
		out = append(out, Thread{
			Title:      c.Title(),
			Category:   c.Category,
			Articles:   c.Filenames(),
			Importance: wc.Weight.Importance,
			Weight:     wc.Weight.Weight,
			Size:       wc.Weight.ClusterSize,
			BestTime:   wc.Weight.BestTime,
		})
	}
	return out
}
