// Package ranking orders scored clusters for presentation.
package ranking

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/abelbrown/storyline/internal/model"
)

// ErrUnresolvedCategory is the panic value (wrapped) for ranking a cluster
// whose category is not a concrete news category.
var ErrUnresolvedCategory = errors.New("cluster category is not resolved")

// agePenaltyOffset keeps a cluster near full weight for about eight hours
// after its best moment leaves the window.
const agePenaltyOffset = 8.0

// Weight explains a cluster's position in the ranking.
type Weight struct {
	BestTime    uint64  `json:"best_time"`
	Importance  float64 `json:"importance"`
	AgePenalty  float64 `json:"age_penalty"`
	Weight      float64 `json:"weight"`
	ClusterSize int     `json:"cluster_size"`
}

// WeightedCluster pairs a cluster with its ranking weight. Clusters are
// shared with the index they came from and must not be modified.
type WeightedCluster struct {
	Cluster *model.Cluster
	Weight  Weight
}

// Buckets holds ranked clusters per category. CategoryAny holds all of them.
type Buckets [model.NumCategories][]WeightedCluster

// Ranker sorts clusters by size and weight.
type Ranker struct {
	// MinClusterSize is the size below which clusters are ordered by size
	// alone, largest first.
	MinClusterSize int
}

func NewRanker(minClusterSize int) *Ranker {
	return &Ranker{MinClusterSize: minClusterSize}
}

// ClusterWeight computes the weight of c at iterTimestamp for a window of
// the given length in seconds.
func ClusterWeight(c *model.Cluster, iterTimestamp, window uint64) Weight {
	penalty := 1.0
	best := c.BestTimestamp
	if best+window < iterTimestamp {
		age := float64(int64(best+window) - int64(iterTimestamp))
		penalty = sigmoid(age/3600 + agePenaltyOffset)
	}
	return Weight{
		BestTime:    best,
		Importance:  c.Importance,
		AgePenalty:  penalty,
		Weight:      c.Importance * penalty,
		ClusterSize: c.Size(),
	}
}

// Rank weighs clusters, sorts them, and splits them into category buckets.
// Clusters that compare equal keep their input order.
func (r *Ranker) Rank(clusters []*model.Cluster, iterTimestamp, window uint64) *Buckets {
	weighted := make([]WeightedCluster, len(clusters))
	for i, c := range clusters {
		weighted[i] = WeightedCluster{Cluster: c, Weight: ClusterWeight(c, iterTimestamp, window)}
	}

	sort.SliceStable(weighted, func(i, j int) bool {
		a, b := weighted[i].Weight, weighted[j].Weight
		if a.ClusterSize == b.ClusterSize {
			return a.Weight > b.Weight
		}
		if a.ClusterSize < r.MinClusterSize || b.ClusterSize < r.MinClusterSize {
			return a.ClusterSize > b.ClusterSize
		}
		return a.Weight > b.Weight
	})

	var out Buckets
	for _, wc := range weighted {
		cat := wc.Cluster.Category
		if !rankable(cat) {
			panic(fmt.Errorf("rank cluster %d: %s: %w", wc.Cluster.ID, cat, ErrUnresolvedCategory))
		}
		out[cat] = append(out[cat], wc)
		out[model.CategoryAny] = append(out[model.CategoryAny], wc)
	}
	return &out
}

// Top returns at most limit clusters of category from b.
func (b *Buckets) Top(category model.Category, limit int) []WeightedCluster {
	if category < 0 || int(category) >= model.NumCategories {
		return nil
	}
	list := b[category]
	if limit >= 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// rankable reports whether clusters of cat may enter the buckets.
func rankable(cat model.Category) bool {
	switch cat {
	case model.CategoryUndefined, model.CategoryAny, model.CategoryNotNews:
		return false
	}
	return cat >= 0 && int(cat) < model.NumCategories
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
