package clustering

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abelbrown/storyline/internal/model"
)

// ErrMonotonicity is the panic value (wrapped) raised when single-linkage
// sees a merge distance smaller than one it already accepted. It means the
// distance matrix or the nearest-neighbour bookkeeping is broken.
var ErrMonotonicity = errors.New("single-linkage merge distances decreased")

// inf marks pairs that may never merge and rows of absorbed clusters.
var inf = math.Inf(1)

// MergeOutcome classifies one step of the merge loop.
type MergeOutcome int

const (
	MergeAccepted MergeOutcome = iota
	MergeVetoedSize
	MergeVetoedHost
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeAccepted:
		return "accepted"
	case MergeVetoedSize:
		return "vetoed_size"
	case MergeVetoedHost:
		return "vetoed_host"
	}
	return "unknown"
}

// MergeObserver is told about every candidate merge the loop examines.
type MergeObserver func(outcome MergeOutcome, dist float64, size int)

// BatchClusterer runs single-linkage over one slice of same-language
// documents.
type BatchClusterer struct {
	cfg      Config
	observer MergeObserver
}

// NewBatchClusterer returns a clusterer for cfg. observer may be nil.
func NewBatchClusterer(cfg Config, observer MergeObserver) *BatchClusterer {
	return &BatchClusterer{cfg: cfg, observer: observer}
}

// Cluster returns a label per document. Documents sharing a label belong to
// one cluster; labels are indices of the surviving representative.
func (b *BatchClusterer) Cluster(docs []*model.Document) []int {
	n := len(docs)
	if n == 0 {
		return nil
	}

	dist := distances(docs, b.cfg)
	if b.cfg.UseTimestampMoving {
		applyTimePenalty(docs, dist)
	}

	var hosts []map[string]struct{}
	if b.cfg.BanSameHosts {
		hosts = make([]map[string]struct{}, n)
		for i, d := range docs {
			hosts[i] = map[string]struct{}{d.SourceHost(): {}}
		}
	}

	return b.link(dist, hosts)
}

// link merges clusters in order of increasing nearest-neighbour distance.
func (b *BatchClusterer) link(dist *mat.Dense, hosts []map[string]struct{}) []int {
	n, _ := dist.Dims()

	labels := make([]int, n)
	sizes := make([]int, n)
	nn := make([]int, n)
	nnDist := make([]float64, n)
	for i := range labels {
		labels[i] = i
		sizes[i] = 1
		nn[i], nnDist[i] = nearest(dist, i, -1)
	}

	prev := 0.0
	for level := 0; level+1 < n; level++ {
		minI := argmin(nnDist)
		minJ := nn[minI]
		minDist := nnDist[minI]
		if minDist < prev {
			panic(fmt.Errorf("%w: %g after %g", ErrMonotonicity, minDist, prev))
		}
		prev = minDist

		if minDist > b.cfg.SmallThreshold || minJ < 0 {
			break
		}

		size := sizes[minI] + sizes[minJ]
		outcome := MergeAccepted
		switch {
		case !b.cfg.appropriateSize(size, minDist):
			outcome = MergeVetoedSize
		case hosts != nil && intersects(hosts[minI], hosts[minJ]):
			outcome = MergeVetoedHost
		}
		if b.observer != nil {
			b.observer(outcome, minDist, size)
		}

		if outcome != MergeAccepted {
			dist.Set(minI, minJ, inf)
			dist.Set(minJ, minI, inf)
			nn[minI], nnDist[minI] = nearest(dist, minI, minJ)
			nn[minJ], nnDist[minJ] = nearest(dist, minJ, minI)
			continue
		}

		for i := range labels {
			if labels[i] == minJ {
				labels[i] = minI
			}
		}
		sizes[minI] = size
		sizes[minJ] = size
		if hosts != nil {
			for h := range hosts[minJ] {
				hosts[minI][h] = struct{}{}
			}
			hosts[minJ] = nil
		}

		nn[minI], nnDist[minI] = -1, inf
		for k := 0; k < n; k++ {
			if k == minI || k == minJ {
				continue
			}
			d := math.Min(dist.At(minI, k), dist.At(minJ, k))
			dist.Set(minI, k, d)
			dist.Set(k, minI, d)
			if d < nnDist[minI] {
				nn[minI], nnDist[minI] = k, d
			}
			if nn[k] == minI || nn[k] == minJ {
				nn[k], nnDist[k] = minI, d
			}
		}

		nn[minJ], nnDist[minJ] = -1, inf
		for k := 0; k < n; k++ {
			dist.Set(minJ, k, inf)
			dist.Set(k, minJ, inf)
		}
	}
	return labels
}

// nearest scans row i for its closest other point, ignoring skip. It returns
// -1 when every candidate is at infinity.
func nearest(dist *mat.Dense, i, skip int) (int, float64) {
	n, _ := dist.Dims()
	best, bestDist := -1, inf
	for k := 0; k < n; k++ {
		if k == i || k == skip {
			continue
		}
		if d := dist.At(i, k); d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, bestDist
}

func argmin(xs []float64) int {
	idx := 0
	for i, x := range xs {
		if x < xs[idx] {
			idx = i
		}
	}
	return idx
}

func intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for h := range a {
		if _, ok := b[h]; ok {
			return true
		}
	}
	return false
}
