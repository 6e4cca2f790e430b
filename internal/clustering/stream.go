package clustering

import (
	"fmt"

	"github.com/abelbrown/storyline/internal/model"
)

// StreamClusterer clusters an arbitrarily long, time-ordered document stream
// in overlapping chunks and stitches the chunk labels together.
//
// Memory is bounded by the chunk size: each chunk gets its own dense
// distance matrix. A story that straddles a chunk boundary is kept whole as
// long as its documents fall inside the overlap.
type StreamClusterer struct {
	cfg   Config
	batch *BatchClusterer
}

// NewStreamClusterer validates cfg and returns a stream clusterer.
func NewStreamClusterer(cfg Config, observer MergeObserver) (*StreamClusterer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StreamClusterer{cfg: cfg, batch: NewBatchClusterer(cfg, observer)}, nil
}

// Labels returns one stitched label per document. docs must be sorted by
// fetch time.
//
// An overlap document links its previous cluster to its current one. With
// BanSameHosts set, the link is skipped when the two clusters share a host;
// the document then stays in the newer cluster only.
func (s *StreamClusterer) Labels(docs []*model.Document) []int {
	n := len(docs)
	if n == 0 {
		return nil
	}
	chunk, overlap := s.cfg.ChunkSize, s.cfg.IntersectionSize

	labels := make([]int, n)
	remap := newRemapTable()
	var hosts hostGroups
	if s.cfg.BanSameHosts {
		hosts = make(hostGroups)
	}
	maxLabel := -1

	for start, done := 0, 0; done < n; {
		end := min(start+chunk, n)
		curr := s.batch.Cluster(docs[start:end])

		// Offset past every label handed out so far, so that each remap
		// target is strictly newer than its source.
		offset := maxLabel + 1
		for i := range curr {
			curr[i] += offset
			maxLabel = max(maxLabel, curr[i])
		}

		prev := make([]int, max(done-start, 0))
		for i := range prev {
			g := start + i
			prev[i] = remap.resolve(labels[g])
			hosts.remove(prev[i], docs[g].SourceHost())
		}
		for i, label := range curr {
			g := start + i
			hosts.add(label, docs[g].SourceHost())
			labels[g] = label
		}

		for i, from := range prev {
			from, to := remap.resolve(from), remap.resolve(curr[i])
			if from == to || hosts.share(from, to) {
				continue
			}
			lo, hi := min(from, to), max(from, to)
			remap.set(lo, hi)
			hosts.absorb(hi, lo)
		}

		done = end
		if done < n {
			start = end - overlap
		}
	}

	for i, l := range labels {
		labels[i] = remap.resolve(l)
	}
	return labels
}

// hostGroups counts the documents of each source host under a root label.
// A nil hostGroups tracks nothing and never reports a shared host.
type hostGroups map[int]map[string]int

func (h hostGroups) add(label int, host string) {
	if h == nil {
		return
	}
	g, ok := h[label]
	if !ok {
		g = make(map[string]int)
		h[label] = g
	}
	g[host]++
}

func (h hostGroups) remove(label int, host string) {
	g := h[label]
	if g == nil {
		return
	}
	if g[host]--; g[host] <= 0 {
		delete(g, host)
	}
}

func (h hostGroups) share(a, b int) bool {
	ga, gb := h[a], h[b]
	if len(ga) > len(gb) {
		ga, gb = gb, ga
	}
	for host := range ga {
		if gb[host] > 0 {
			return true
		}
	}
	return false
}

// absorb moves the hosts of label from into label into.
func (h hostGroups) absorb(into, from int) {
	if h == nil || h[from] == nil {
		return
	}
	g, ok := h[into]
	if !ok {
		g = make(map[string]int)
		h[into] = g
	}
	for host, n := range h[from] {
		g[host] += n
	}
	delete(h, from)
}

// Cluster groups docs into clusters with ids assigned in first-seen order.
func (s *StreamClusterer) Cluster(docs []*model.Document) []*model.Cluster {
	return groupByLabel(docs, s.Labels(docs))
}

func groupByLabel(docs []*model.Document, labels []int) []*model.Cluster {
	var clusters []*model.Cluster
	byLabel := make(map[int]*model.Cluster)
	for i, d := range docs {
		c, ok := byLabel[labels[i]]
		if !ok {
			c = model.NewCluster(uint64(len(clusters)))
			byLabel[labels[i]] = c
			clusters = append(clusters, c)
		}
		c.AddDocument(d)
	}
	return clusters
}

// remapTable records which label a label was absorbed into across chunk
// boundaries. Targets are always larger than their sources, so following a
// chain always terminates.
type remapTable struct {
	next map[int]int
}

func newRemapTable() *remapTable {
	return &remapTable{next: make(map[int]int)}
}

func (r *remapTable) set(from, to int) {
	if to <= from {
		panic(fmt.Sprintf("clustering: remap target %d is not newer than source %d", to, from))
	}
	r.next[from] = to
}

// resolve follows the chain from label to its final label.
func (r *remapTable) resolve(label int) int {
	for {
		to, ok := r.next[label]
		if !ok {
			return label
		}
		if to <= label {
			panic(fmt.Sprintf("clustering: remap cycle through label %d", label))
		}
		label = to
	}
}
