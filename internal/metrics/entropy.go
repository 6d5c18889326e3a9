package metrics

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/geostat/internal/feature"
)

// ColShannonEntropy is the entropy output column.
const ColShannonEntropy = "shannon_entropy"

// ShannonEntropy adds -Σ p·log_base(p) over the listed count columns,
// with p = count / row total. Zero probabilities are skipped and an
// all-zero row yields 0. Nulls count as zero.
func ShannonEntropy(t *feature.Table, cols []string, base float64, opts ...Option) (*feature.Table, error) {
	return entropy(t, cols, base, false, opts)
}

// ShannonEntropyLocalWeighted is ShannonEntropy multiplied by
// (categories with a nonzero count) / len(cols), down-weighting rows that
// observe few categories.
func ShannonEntropyLocalWeighted(t *feature.Table, cols []string, base float64, opts ...Option) (*feature.Table, error) {
	return entropy(t, cols, base, true, opts)
}

func entropy(t *feature.Table, cols []string, base float64, weighted bool, opts []Option) (*feature.Table, error) {
	if len(cols) == 0 {
		return nil, eris.New("metrics: entropy needs at least one count column")
	}
	if base <= 0 || base == 1 || math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, eris.Errorf("metrics: invalid logarithm base %v", base)
	}
	if err := t.RequireColumns(cols...); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	n := t.Len()

	vectors := columnVectors(t, cols)
	totals := rowTotals(vectors, n)
	h := make([]float64, n)
	nonzero := make([]float64, n)
	logBase := math.Log(base)

	p := make([]float64, n)
	for _, counts := range vectors {
		copy(p, counts)
		floats.Div(p, totals)
		for i, pi := range p {
			// 0/0 is NaN and fails the comparison too.
			if !(pi > 0) {
				continue
			}
			h[i] -= pi * math.Log(pi) / logBase
			nonzero[i]++
		}
	}
	if weighted {
		floats.Scale(1/float64(len(cols)), nonzero)
		floats.Mul(h, nonzero)
	}

	name := ColShannonEntropy + o.suffix
	out := t.Clone()
	out.AddColumn(name)
	for i := 0; i < n; i++ {
		v := h[i]
		if math.IsNaN(v) {
			v = 0
		}
		// Normalise -0 from single-category rows.
		out.Set(i, name, v+0)
	}
	return out, nil
}

// columnVectors reads each column as a float vector, nulls as zero.
func columnVectors(t *feature.Table, cols []string) [][]float64 {
	out := make([][]float64, len(cols))
	for j, c := range cols {
		v := make([]float64, t.Len())
		for i := range v {
			if f, ok := t.Float(i, c); ok && !math.IsNaN(f) {
				v[i] = f
			}
		}
		out[j] = v
	}
	return out
}

func rowTotals(vectors [][]float64, n int) []float64 {
	totals := make([]float64, n)
	for _, v := range vectors {
		floats.Add(totals, v)
	}
	return totals
}
