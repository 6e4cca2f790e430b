package model

import (
	"math"
	"slices"
	"sort"
)

// weightEpsilon is the tolerance under which two document weights tie.
const weightEpsilon = 1e-6

// Cluster is a group of documents about the same story.
//
// Clusters are created by the clusterer, filled with AddDocument, and then
// scored in place by the summarizer. After scoring they are read-only and are
// shared by pointer between index snapshots and ranking results.
type Cluster struct {
	ID           uint64
	MaxTimestamp uint64

	Category      Category
	BestTimestamp uint64
	Importance    float64

	// Features holds importance values computed under a fixed grid of
	// decay and shift parameters.
	Features   []float64
	DocWeights []float64

	CountryShare         map[string]float64
	WeightedCountryShare map[string]float64

	Documents []*Document
}

// NewCluster returns an empty cluster.
func NewCluster(id uint64) *Cluster {
	return &Cluster{ID: id}
}

// AddDocument appends doc and maintains MaxTimestamp.
func (c *Cluster) AddDocument(doc *Document) {
	c.Documents = append(c.Documents, doc)
	c.MaxTimestamp = max(c.MaxTimestamp, doc.FetchTime)
}

func (c *Cluster) Size() int { return len(c.Documents) }

// Title is the title of the leading document. After summarization that is
// the highest weighted one.
func (c *Cluster) Title() string {
	if len(c.Documents) == 0 {
		return ""
	}
	return c.Documents[0].Title
}

func (c *Cluster) Language() Language {
	if len(c.Documents) == 0 {
		return LanguageUndefined
	}
	return c.Documents[0].Language
}

// Timestamp returns the fetch time at the given percentile of the members.
func (c *Cluster) Timestamp(percentile float64) uint64 {
	n := len(c.Documents)
	if n == 0 {
		return 0
	}
	ts := make([]uint64, n)
	for i, d := range c.Documents {
		ts[i] = d.FetchTime
	}
	slices.Sort(ts)
	idx := int(math.Floor(percentile * float64(n-1)))
	idx = min(max(idx, 0), n-1)
	return ts[idx]
}

// SortByWeights reorders members by descending weight. Weights closer than
// 1e-6 are ordered by ascending title.
func (c *Cluster) SortByWeights(weights []float64) {
	if len(weights) != len(c.Documents) {
		panic("model: weights and documents differ in length")
	}
	type weighted struct {
		doc    *Document
		weight float64
	}
	ws := make([]weighted, len(c.Documents))
	for i, d := range c.Documents {
		ws[i] = weighted{doc: d, weight: weights[i]}
	}
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if math.Abs(a.weight-b.weight) < weightEpsilon {
			return a.doc.Title < b.doc.Title
		}
		return a.weight > b.weight
	})

	c.Documents = c.Documents[:0]
	c.MaxTimestamp = 0
	for _, w := range ws {
		c.AddDocument(w.doc)
	}
}

// Less orders clusters by MaxTimestamp, then by ID.
func (c *Cluster) Less(other *Cluster) bool {
	if c.MaxTimestamp == other.MaxTimestamp {
		return c.ID < other.ID
	}
	return c.MaxTimestamp < other.MaxTimestamp
}

// Filenames returns member filenames in member order.
func (c *Cluster) Filenames() []string {
	out := make([]string, len(c.Documents))
	for i, d := range c.Documents {
		out[i] = d.Filename
	}
	return out
}
