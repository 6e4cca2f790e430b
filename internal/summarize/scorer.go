// Package summarize scores clusters: it orders members by representativeness,
// estimates how important the story is, and resolves its category.
package summarize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/rating"
)

var (
	// ErrEmptyCluster is the panic value (wrapped) when a cluster without
	// members reaches the scorer.
	ErrEmptyCluster = errors.New("empty cluster")
	// ErrNotNews is the panic value (wrapped) when a cluster member has no
	// news category at category resolution.
	ErrNotNews = errors.New("cluster member is not news")
)

// CountryCodes are the countries tracked in audience shares, in feature
// order.
var CountryCodes = []string{"US", "GB", "IN", "RU", "CA", "AU"}

var (
	featureDecays = []float64{1800, 3600, 7200, 86400}
	featureShifts = []float64{1, 1.3, 1.6}
)

const (
	// longestDecay is the decay at which country shares join the features.
	longestDecay = 86400

	// NumFeatures is the length of Cluster.Features: three log regimes and
	// the raw and one regimes, each contributing four importances and six
	// country shares.
	NumFeatures = 50
)

const (
	defaultShift = 1.0
	defaultDecay = 3600.0
	// startWindowFloor bounds the decay argument so old documents do not
	// underflow the sigmoid.
	startWindowFloor = -15.0
	// freshnessOffset keeps a document at full weight for roughly twelve
	// hours behind the cluster's newest one.
	freshnessOffset = 12.0
	nastyPenalty    = 0.5
)

// Features is one importance computation.
type Features struct {
	BestTimestamp        uint64
	Importance           float64
	DocWeights           []float64
	CountryShare         map[string]float64
	WeightedCountryShare map[string]float64
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// embeddingKeyFor picks the vector that represents a document of lang.
func embeddingKeyFor(lang model.Language) model.EmbeddingKey {
	if lang == model.LanguageRU {
		return model.EmbeddingFastTextTitle
	}
	return model.EmbeddingFastTextClassic
}

// Summarize orders the members of c by weight, highest first.
//
// A member's weight is its source authority plus its mean cosine similarity
// to the rest of the cluster, scaled down for documents well behind the
// cluster's newest one and halved for nasty documents.
func Summarize(c *model.Cluster, agency *rating.Agency) {
	n := c.Size()
	if n == 0 {
		panic(fmt.Errorf("summarize cluster %d: %w", c.ID, ErrEmptyCluster))
	}

	key := embeddingKeyFor(c.Language())
	dim := 0
	for _, d := range c.Documents {
		dim = max(dim, len(d.Embeddings[key]))
	}

	cohesion := make([]float64, n)
	if dim > 0 {
		points := mat.NewDense(n, dim, nil)
		row := make([]float64, dim)
		for i, d := range c.Documents {
			vec := d.Embeddings[key]
			for j := range row {
				row[j] = 0
				if j < len(vec) {
					row[j] = float64(vec[j])
				}
			}
			if norm := floats.Norm(row, 2); norm > 0 {
				floats.Scale(1/norm, row)
			}
			points.SetRow(i, row)
		}
		var cos mat.Dense
		cos.Mul(points, points.T())
		for i := 0; i < n; i++ {
			cohesion[i] = floats.Sum(cos.RawRowView(i)) / float64(n)
		}
	}

	weights := make([]float64, n)
	freshest := c.MaxTimestamp
	for i, d := range c.Documents {
		diff := float64(int64(d.FetchTime) - int64(freshest))
		w := (agency.ScoreURL(d.URL) + cohesion[i]) * sigmoid(diff/3600+freshnessOffset)
		if d.Nasty {
			w *= nastyPenalty
		}
		weights[i] = w
	}
	c.SortByWeights(weights)
}

// Importance scores c under one rating regime.
//
// docs must be the members of c ordered by (fetch time, url). Every member
// is tried as the start of a window; a window's score sums, once per host,
// the host authority damped by how long after the start the host reported.
// The best window wins.
func Importance(c *model.Cluster, geo *rating.Geo, docs []*model.Document, lang model.Language, typ rating.Type, shift, decay float64) Features {
	f := Features{
		DocWeights:           make([]float64, 0, c.Size()),
		CountryShare:         make(map[string]float64, len(CountryCodes)),
		WeightedCountryShare: make(map[string]float64, len(CountryCodes)),
	}
	for _, code := range CountryCodes {
		f.CountryShare[code] = 0
		f.WeightedCountryShare[code] = 0
	}

	var count, wCount float64
	for _, d := range c.Documents {
		host := d.SourceHost()
		w := geo.ScoreHost(host, lang, typ, shift)
		f.DocWeights = append(f.DocWeights, w)
		for _, code := range CountryCodes {
			share := geo.CountryShare(host, code)
			f.CountryShare[code] += share
			f.WeightedCountryShare[code] += share * w
		}
		count++
		wCount += w
	}
	for _, code := range CountryCodes {
		if count > 0 {
			f.CountryShare[code] /= count
		}
		if wCount > 0 {
			f.WeightedCountryShare[code] /= wCount
		}
	}

	for i, start := range docs {
		startTime := int64(start.FetchTime)
		var rank float64
		seen := make(map[string]struct{})
		for _, d := range docs[i:] {
			host := d.SourceHost()
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			w := geo.ScoreHost(host, lang, typ, shift)
			remapped := float64(startTime-int64(d.FetchTime)) / decay
			rank += w * sigmoid(math.Max(remapped, startWindowFloor))
		}
		if rank > f.Importance {
			f.Importance = rank
			f.BestTimestamp = start.FetchTime
		}
	}
	return f
}

// SortedByTime returns the members of c ordered by (fetch time, url).
func SortedByTime(c *model.Cluster) []*model.Document {
	docs := make([]*model.Document, len(c.Documents))
	copy(docs, c.Documents)
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].FetchTime != docs[j].FetchTime {
			return docs[i].FetchTime < docs[j].FetchTime
		}
		return docs[i].URL < docs[j].URL
	})
	return docs
}

// ComputeFeatures evaluates Importance over the fixed parameter grid.
func ComputeFeatures(c *model.Cluster, geo *rating.Geo, docs []*model.Document) []float64 {
	out := make([]float64, 0, NumFeatures)
	appendRun := func(f Features, decay float64) {
		out = append(out, f.Importance)
		if decay != longestDecay {
			return
		}
		for _, code := range CountryCodes {
			out = append(out, f.WeightedCountryShare[code])
		}
	}

	for _, shift := range featureShifts {
		for _, decay := range featureDecays {
			appendRun(Importance(c, geo, docs, model.LanguageEN, rating.Log, shift, decay), decay)
		}
	}
	for _, typ := range []rating.Type{rating.Raw, rating.One} {
		for _, decay := range featureDecays {
			appendRun(Importance(c, geo, docs, model.LanguageEN, typ, 0, decay), decay)
		}
	}
	return out
}

// ComputeImportance fills the importance fields and features of c.
func ComputeImportance(c *model.Cluster, geo *rating.Geo) {
	if c.Size() == 0 {
		panic(fmt.Errorf("importance of cluster %d: %w", c.ID, ErrEmptyCluster))
	}
	docs := SortedByTime(c)

	c.Features = ComputeFeatures(c, geo, docs)
	f := Importance(c, geo, docs, model.LanguageEN, rating.Log, defaultShift, defaultDecay)
	c.BestTimestamp = f.BestTimestamp
	c.Importance = f.Importance
	c.DocWeights = f.DocWeights
	c.CountryShare = f.CountryShare
	c.WeightedCountryShare = f.WeightedCountryShare
}

// ResolveCategory sets c.Category to the most common member category.
// Ties go to the category declared first.
func ResolveCategory(c *model.Cluster) {
	var counts [model.NumCategories]int
	for _, d := range c.Documents {
		if !d.IsNews() {
			panic(fmt.Errorf("category of cluster %d: %s: %w", c.ID, d.Filename, ErrNotNews))
		}
		counts[d.Category]++
	}
	best := 0
	for i, n := range counts {
		if n > counts[best] {
			best = i
		}
	}
	c.Category = model.Category(best)
}
