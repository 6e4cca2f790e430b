package clustering

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/abelbrown/storyline/internal/model"
)

const hour = 3600

func newDoc(name, host string, fetch uint64, vec ...float32) *model.Document {
	return &model.Document{
		Filename:  name,
		URL:       "https://" + host + "/" + name,
		Host:      host,
		Title:     "title " + name,
		Language:  model.LanguageEN,
		Category:  model.CategorySociety,
		FetchTime: fetch,
		TTL:       7 * 24 * hour,
		Embeddings: map[model.EmbeddingKey][]float32{
			model.EmbeddingFastTextClassic: vec,
		},
	}
}

// spoke returns a 6-dimensional vector (1, 0, .., alpha at i, ..). Two
// different spokes have cosine 1/(1+alpha^2).
func spoke(i int, alpha float32) []float32 {
	v := make([]float32, 6)
	v[0] = 1
	v[1+i] = alpha
	return v
}

func testConfig() Config {
	return Config{
		Language:          model.LanguageEN,
		EmbeddingWeights:  map[model.EmbeddingKey]float64{model.EmbeddingFastTextClassic: 1},
		SmallThreshold:    0.05,
		SmallClusterSize:  100,
		MediumClusterSize: 200,
		MediumThreshold:   0.05,
		LargeClusterSize:  300,
		LargeThreshold:    0.05,
		BanSameHosts:      true,
		ChunkSize:         100,
		IntersectionSize:  10,
	}
}

func groups(docs []*model.Document, labels []int) [][]string {
	var out [][]string
	for _, c := range groupByLabel(docs, labels) {
		out = append(out, c.Filenames())
	}
	return out
}

func TestDistances(t *testing.T) {
	cfg := testConfig()
	docs := []*model.Document{
		newDoc("a", "a.com", 0, 1, 0),
		newDoc("b", "b.com", 0, 2, 0),
		newDoc("c", "c.com", 0, 0, 1),
		newDoc("d", "d.com", 0, -1, 0),
		newDoc("z", "z.com", 0, 0, 0),
	}
	d := distances(docs, cfg)

	assert.InDelta(t, 1.0, d.At(0, 0), 1e-9, "self distance is the weight")
	assert.InDelta(t, 0.0, d.At(0, 1), 1e-9, "same direction")
	assert.InDelta(t, 0.5, d.At(0, 2), 1e-9, "orthogonal")
	assert.InDelta(t, 1.0, d.At(0, 3), 1e-9, "opposite")
	for i := 0; i < 5; i++ {
		assert.Equal(t, 1.0, d.At(4, i), "zero vector row")
		assert.Equal(t, 1.0, d.At(i, 4), "zero vector column")
	}
	assert.True(t, mat.EqualApprox(d, d.T(), 1e-12), "symmetric")
}

func TestDistancesSumWeightedKeys(t *testing.T) {
	cfg := testConfig()
	cfg.EmbeddingWeights = map[model.EmbeddingKey]float64{
		model.EmbeddingFastTextClassic: 0.25,
		model.EmbeddingFastTextTitle:   0.75,
	}
	a := newDoc("a", "a.com", 0, 1, 0)
	b := newDoc("b", "b.com", 0, 0, 1)
	a.Embeddings[model.EmbeddingFastTextTitle] = []float32{1, 0}
	b.Embeddings[model.EmbeddingFastTextTitle] = []float32{1, 0}

	d := distances([]*model.Document{a, b}, cfg)
	assert.InDelta(t, 0.125, d.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, d.At(0, 0), 1e-9)
}

func TestApplyTimePenalty(t *testing.T) {
	tests := []struct {
		name string
		gap  uint64
		base float64
		want float64
	}{
		{"under a day", 23 * hour, 0.3, 0.3},
		{"two days doubles", 48 * hour, 0.3, 0.6},
		{"capped at one", 72 * hour, 0.8, 1.0},
		{"never shrinks", 48 * hour, 1.5, 1.5},
		{"zero stays zero", 96 * hour, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := []*model.Document{newDoc("a", "a", 0), newDoc("b", "b", tt.gap)}
			d := mat.NewDense(2, 2, []float64{1, tt.base, tt.base, 1})
			applyTimePenalty(docs, d)
			assert.InDelta(t, tt.want, d.At(0, 1), 1e-12)
			assert.InDelta(t, tt.want, d.At(1, 0), 1e-12)
			assert.Equal(t, 1.0, d.At(0, 0))
		})
	}
}

func randomDocs(r *rand.Rand, n, dim, topics int) []*model.Document {
	centers := make([][]float32, topics)
	for i := range centers {
		centers[i] = make([]float32, dim)
		for j := range centers[i] {
			centers[i][j] = float32(r.NormFloat64())
		}
	}
	docs := make([]*model.Document, n)
	for i := range docs {
		c := centers[r.IntN(topics)]
		v := make([]float32, dim)
		for j := range v {
			v[j] = c[j] + float32(0.15*r.NormFloat64())
		}
		host := fmt.Sprintf("h%d.com", r.IntN(n/2+1))
		docs[i] = newDoc(fmt.Sprintf("d%03d", i), host, uint64(i)*600, v...)
	}
	return docs
}

func TestMergeDistancesNonDecreasing(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 5; run++ {
		docs := randomDocs(r, 80, 16, 6)
		cfg := testConfig()
		cfg.SmallThreshold = 0.2
		cfg.SmallClusterSize = 4
		cfg.MediumClusterSize = 8
		cfg.MediumThreshold = 0.1
		cfg.LargeClusterSize = 12
		cfg.LargeThreshold = 0.05
		cfg.UseTimestampMoving = run%2 == 0

		var seen []float64
		b := NewBatchClusterer(cfg, func(_ MergeOutcome, dist float64, _ int) {
			seen = append(seen, dist)
		})
		require.NotPanics(t, func() { b.Cluster(docs) })
		require.NotEmpty(t, seen)
		for i := 1; i < len(seen); i++ {
			assert.LessOrEqual(t, seen[i-1], seen[i], "run %d step %d", run, i)
		}
	}
}

func TestMonotonicityViolationPanics(t *testing.T) {
	b := NewBatchClusterer(testConfig(), nil)
	d := mat.NewDense(3, 3, []float64{
		1, 0.01, 0.04,
		0.01, 1, 0.04,
		0.04, 0.04, 1,
	})
	labels := b.link(d, nil)
	assert.Equal(t, []int{0, 0, 0}, labels)

	corrupt := mat.NewDense(3, 3, []float64{
		1, 0.02, 0.03,
		0.02, 1, 0.03,
		0.03, 0.03, 1,
	})
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err, _ = r.(error)
			}
		}()
		// Pull the third point closer than the merge already accepted.
		b.observer = func(_ MergeOutcome, _ float64, _ int) {
			corrupt.Set(0, 2, 0.001)
			corrupt.Set(2, 0, 0.001)
		}
		b.link(corrupt, nil)
	}()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMonotonicity)
}

func TestSizeVeto(t *testing.T) {
	docs := make([]*model.Document, 8)
	for i := range docs {
		docs[i] = newDoc(fmt.Sprintf("d%d", i), fmt.Sprintf("h%d", i), 0, 1, 1, 1)
	}

	cfg := testConfig()
	cfg.SmallClusterSize = 2
	cfg.MediumClusterSize = 3
	cfg.MediumThreshold = 0
	cfg.LargeClusterSize = 4
	cfg.LargeThreshold = 0

	var vetoes int
	b := NewBatchClusterer(cfg, func(o MergeOutcome, _ float64, size int) {
		if o == MergeVetoedSize {
			vetoes++
			assert.Greater(t, size, cfg.LargeClusterSize)
		}
	})
	for _, c := range groupByLabel(docs, b.Cluster(docs)) {
		assert.LessOrEqual(t, c.Size(), cfg.LargeClusterSize)
	}
	assert.Positive(t, vetoes)

	// A threshold below every distance stops growth at the small tier.
	cfg.MediumThreshold = -1
	cfg.LargeThreshold = -1
	b = NewBatchClusterer(cfg, nil)
	for _, c := range groupByLabel(docs, b.Cluster(docs)) {
		assert.LessOrEqual(t, c.Size(), cfg.SmallClusterSize)
	}
}

func TestHostExclusivity(t *testing.T) {
	docs := []*model.Document{
		newDoc("a1", "a.com", 0, 1, 0),
		newDoc("a2", "a.com", 0, 1, 0),
		newDoc("b1", "b.com", 0, 1, 0),
		newDoc("b2", "b.com", 0, 1, 0),
		newDoc("c1", "c.com", 0, 1, 0),
	}
	b := NewBatchClusterer(testConfig(), nil)
	clusters := groupByLabel(docs, b.Cluster(docs))
	for _, c := range clusters {
		hosts := map[string]bool{}
		for _, d := range c.Documents {
			assert.False(t, hosts[d.Host], "host %s repeated in cluster %d", d.Host, c.ID)
			hosts[d.Host] = true
		}
	}
	// Vetoes use up merge levels, so not every compatible pair is joined.
	assert.Greater(t, len(clusters), 1)

	cfg := testConfig()
	cfg.BanSameHosts = false
	b = NewBatchClusterer(cfg, nil)
	assert.Len(t, groupByLabel(docs, b.Cluster(docs)), 1)
}

func TestStopThreshold(t *testing.T) {
	docs := []*model.Document{
		newDoc("a", "a", 0, spoke(0, 0.25)...),
		newDoc("b", "b", 0, spoke(1, 0.25)...),
		newDoc("c", "c", 0, 0, 0, 0, 0, 0, 1),
	}
	b := NewBatchClusterer(testConfig(), nil)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, groups(docs, b.Cluster(docs)))
}

func TestZeroNormNeverMerges(t *testing.T) {
	docs := []*model.Document{
		newDoc("a", "a", 0, 0, 0),
		newDoc("b", "b", 0, 0, 0),
		newDoc("c", "c", 0, 1, 0),
	}
	b := NewBatchClusterer(testConfig(), nil)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, groups(docs, b.Cluster(docs)))
}

func TestDistancesMissingVectors(t *testing.T) {
	docs := []*model.Document{
		newDoc("a", "a.com", 0),
		newDoc("b", "b.com", 0, 1, 0),
		newDoc("c", "c.com", 0, 2, 0, 0),
	}
	d := distances(docs, testConfig())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, d.At(0, i), "missing vector row")
	}
	assert.InDelta(t, 0.0, d.At(1, 2), 1e-9, "shorter vector is zero padded")

	b := NewBatchClusterer(testConfig(), nil)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, groups(docs, b.Cluster(docs)))

	bare := []*model.Document{newDoc("x", "x.com", 0), newDoc("y", "y.com", 0)}
	assert.Equal(t, [][]string{{"x"}, {"y"}}, groups(bare, b.Cluster(bare)))
}

func TestTimePenaltyScenario(t *testing.T) {
	// Pairwise base distance is alpha^2 / (2(1+alpha^2)) ~= 0.0294.
	build := func(hours ...uint64) []*model.Document {
		var docs []*model.Document
		for i, h := range hours {
			docs = append(docs, newDoc(fmt.Sprintf("d%d", i), fmt.Sprintf("h%d.com", i), h*hour, spoke(i, 0.25)...))
		}
		return docs
	}
	cfg := testConfig()
	cfg.UseTimestampMoving = true
	b := NewBatchClusterer(cfg, nil)

	base := distances(build(0, 0), cfg).At(0, 1)
	require.InDelta(t, 0.0625/2.125, base, 1e-6)

	// 2h to 25h is under a day, so the chain holds everything together.
	docs := build(0, 1, 2, 25, 26)
	assert.Equal(t, [][]string{{"d0", "d1", "d2", "d3", "d4"}}, groups(docs, b.Cluster(docs)))

	// A 48h gap doubles the distance past the stop threshold.
	docs = build(0, 1, 2, 50, 51)
	assert.Equal(t, [][]string{{"d0", "d1", "d2"}, {"d3", "d4"}}, groups(docs, b.Cluster(docs)))

	// Without the penalty the gap does not matter.
	cfg.UseTimestampMoving = false
	b = NewBatchClusterer(cfg, nil)
	assert.Len(t, groups(docs, b.Cluster(docs)), 1)
}

func TestBatchEmpty(t *testing.T) {
	assert.Nil(t, NewBatchClusterer(testConfig(), nil).Cluster(nil))
}

func TestBatchSingleton(t *testing.T) {
	docs := []*model.Document{newDoc("a", "a", 0, 1)}
	assert.Equal(t, []int{0}, NewBatchClusterer(testConfig(), nil).Cluster(docs))
}

func TestNearestSkipsSelfAndInfinity(t *testing.T) {
	d := mat.NewDense(3, 3, []float64{
		0, math.Inf(1), 0.5,
		math.Inf(1), 0, math.Inf(1),
		0.5, math.Inf(1), 0,
	})
	k, dist := nearest(d, 0, -1)
	assert.Equal(t, 2, k)
	assert.Equal(t, 0.5, dist)

	k, dist = nearest(d, 1, -1)
	assert.Equal(t, -1, k)
	assert.True(t, math.IsInf(dist, 1))

	k, _ = nearest(d, 0, 2)
	assert.Equal(t, -1, k)
}
