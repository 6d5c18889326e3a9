package metrics

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/weights"
)

// Output column names for local Moran's I.
const (
	ColMoranQuad = "local_moran_quad"
	ColMoranIs   = "local_moran_Is"
	ColMoranPSim = "local_moran_p_sim"
)

// Moran scatterplot quadrants. QuadNotSignificant replaces the quadrant of
// rows whose pseudo p-value exceeds the significance level.
const (
	QuadNotSignificant = 0
	QuadHighHigh       = 1
	QuadLowHigh        = 2
	QuadLowLow         = 3
	QuadHighLow        = 4
)

// LocalMoranResult holds the estimator output in weights-matrix order.
type LocalMoranResult struct {
	Is   []float64
	Quad []int
	PSim []float64
	Z    []float64
	Lag  []float64
}

// LocalMoranValues estimates local Moran's I for y (in w order) using row
// standardised weights and conditional permutation inference. A constant y
// yields Is = 0 and p = 1; islands always get p = 1.
func LocalMoranValues(y []float64, w *weights.Matrix, opts ...Option) (*LocalMoranResult, error) {
	n := len(y)
	if n != w.Len() {
		return nil, eris.Errorf("metrics: %d values for a %d-observation weights matrix", n, w.Len())
	}
	if n < 2 {
		return nil, eris.New("metrics: local moran needs at least two observations")
	}
	o := newOptions(opts)
	if o.permutations <= 0 {
		return nil, eris.Errorf("metrics: permutations must be positive, got %d", o.permutations)
	}
	rw := w.RowStandardize()

	mean, sd := stat.PopMeanStdDev(y, nil)
	z := make([]float64, n)
	copy(z, y)
	floats.AddConst(-mean, z)
	res := &LocalMoranResult{
		Is:   make([]float64, n),
		Quad: make([]int, n),
		PSim: make([]float64, n),
		Z:    z,
	}
	if sd == 0 || math.IsNaN(sd) {
		res.Lag = make([]float64, n)
		for i := range res.PSim {
			res.PSim[i] = 1
		}
		return res, nil
	}
	floats.Scale(1/sd, z)
	den := floats.Dot(z, z)
	res.Lag = rw.Lag(z)
	scale := float64(n-1) / den

	for i := 0; i < n; i++ {
		res.Is[i] = scale * z[i] * res.Lag[i]
		res.Quad[i] = quadrant(z[i], res.Lag[i])
	}

	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	pool := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		k := len(rw.Neighbors[i])
		if k == 0 {
			res.PSim[i] = 1
			continue
		}
		pool = pool[:0]
		for j := 0; j < n; j++ {
			if j != i {
				pool = append(pool, j)
			}
		}
		larger := 0
		for p := 0; p < o.permutations; p++ {
			// Partial Fisher-Yates: the first k entries become a uniform sample.
			lag := 0.0
			for s := 0; s < k; s++ {
				r := s + rng.IntN(len(pool)-s)
				pool[s], pool[r] = pool[r], pool[s]
				lag += rw.Weights[i][s] * z[pool[s]]
			}
			if scale*z[i]*lag >= res.Is[i] {
				larger++
			}
		}
		if low := o.permutations - larger; low < larger {
			larger = low
		}
		res.PSim[i] = float64(larger+1) / float64(o.permutations+1)
	}

	for i := range res.Quad {
		if res.PSim[i] > o.significance {
			res.Quad[i] = QuadNotSignificant
		}
	}
	return res, nil
}

func quadrant(z, lag float64) int {
	switch {
	case z > 0 && lag > 0:
		return QuadHighHigh
	case z <= 0 && lag > 0:
		return QuadLowHigh
	case z <= 0:
		return QuadLowLow
	default:
		return QuadHighLow
	}
}

// LocalMoran adds local_moran_quad, local_moran_Is and local_moran_p_sim
// for col. Table rows are matched to the weights matrix through w.IDCol;
// every matrix identifier must appear exactly once in the table.
func LocalMoran(t *feature.Table, col string, w *weights.Matrix, opts ...Option) (*feature.Table, error) {
	if err := t.RequireColumns(col, w.IDCol); err != nil {
		return nil, err
	}
	if t.Len() != w.Len() {
		return nil, eris.Errorf("metrics: table has %d rows, weights matrix %d", t.Len(), w.Len())
	}

	rowOf := make([]int, w.Len())
	for i := range rowOf {
		rowOf[i] = -1
	}
	y := make([]float64, w.Len())
	for i := 0; i < t.Len(); i++ {
		id := t.Value(i, w.IDCol)
		wi, ok := w.Index(id)
		if !ok {
			return nil, eris.Wrapf(feature.ErrRowNotFound, "metrics: %s=%v not in weights matrix", w.IDCol, id)
		}
		if rowOf[wi] >= 0 {
			return nil, eris.Errorf("metrics: duplicate %s %v", w.IDCol, id)
		}
		v, ok := t.Float(i, col)
		if !ok || math.IsNaN(v) {
			return nil, eris.Errorf("metrics: row %d has no numeric %s", i, col)
		}
		rowOf[wi] = i
		y[wi] = v
	}

	res, err := LocalMoranValues(y, w, opts...)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	quadCol, isCol, pCol := ColMoranQuad+o.suffix, ColMoranIs+o.suffix, ColMoranPSim+o.suffix
	out := t.Clone()
	out.AddColumn(quadCol)
	out.AddColumn(isCol)
	out.AddColumn(pCol)
	significant := 0
	for wi, row := range rowOf {
		out.Set(row, quadCol, res.Quad[wi])
		out.Set(row, isCol, res.Is[wi])
		out.Set(row, pCol, res.PSim[wi])
		if res.Quad[wi] != QuadNotSignificant {
			significant++
		}
	}

	zap.L().Debug("metrics: local moran",
		zap.String("column", col),
		zap.String("weights", string(w.Kind)),
		zap.Int("observations", w.Len()),
		zap.Int("significant", significant),
	)
	return out, nil
}
