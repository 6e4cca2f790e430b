package clustering

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/abelbrown/storyline/internal/model"
)

const (
	// zeroNorm is the norm under which a vector counts as empty.
	zeroNorm = 1e-8
	// penaltyCap bounds time-penalized distances unless the raw distance
	// is already larger.
	penaltyCap = 1.0
	// penaltyGrace is the separation below which no time penalty applies.
	penaltyGrace = 24 * 3600
)

// distances builds the symmetric pairwise distance matrix for docs.
//
// Each embedding space with weight w contributes ((1-cos)/2)*w between
// distinct documents and w on the diagonal. A document whose vector is
// missing or has no norm is at distance w from everything.
func distances(docs []*model.Document, cfg Config) *mat.Dense {
	n := len(docs)
	res := mat.NewDense(n, n, nil)

	for _, key := range cfg.embeddingKeys() {
		w := cfg.EmbeddingWeights[key]
		// Shorter vectors are zero padded. A key no document carries still
		// gets one column so that every row counts as empty.
		dim := 1
		for _, d := range docs {
			dim = max(dim, len(d.Embeddings[key]))
		}

		points := mat.NewDense(n, dim, nil)
		bad := make([]bool, n)
		row := make([]float64, dim)
		for i, d := range docs {
			vec := d.Embeddings[key]
			for j := range row {
				row[j] = 0
				if j < len(vec) {
					row[j] = float64(vec[j])
				}
			}
			norm := floats.Norm(row, 2)
			if norm <= zeroNorm {
				bad[i] = true
				continue
			}
			floats.Scale(1/norm, row)
			points.SetRow(i, row)
		}

		var sim mat.Dense
		sim.Mul(points, points.T())

		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				var d float64
				switch {
				case bad[i] || bad[j]:
					d = w
				case i == j:
					d = (1-sim.At(i, j))/2*w + w
				default:
					d = (1 - sim.At(i, j)) / 2 * w
				}
				if d < 0 {
					d = 0
				}
				res.Set(i, j, res.At(i, j)+d)
			}
		}
	}
	return res
}

// applyTimePenalty stretches the distance between documents fetched a day or
// more apart by their separation in days. The result never drops below the
// unpenalized distance.
func applyTimePenalty(docs []*model.Document, dist *mat.Dense) {
	n := len(docs)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := docs[i].FetchTime, docs[j].FetchTime
			diff := a - b
			if b > a {
				diff = b - a
			}
			d := dist.At(i, j)
			if diff >= penaltyGrace {
				penalty := float64(diff) / penaltyGrace
				d = math.Min(penalty*d, math.Max(d, penaltyCap))
			}
			dist.Set(i, j, d)
			dist.Set(j, i, d)
		}
	}
}
