// Package weights builds spatial weights matrices (rook, queen, k-nearest
// neighbours) over a polygon table keyed by an identifier column.
package weights

import (
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/sindex"
	"github.com/sells-group/geostat/internal/spatial"
)

// Kind selects the neighbour definition.
type Kind string

// Supported kinds.
const (
	Rook  Kind = "rook"
	Queen Kind = "queen"
	KNN   Kind = "knn"
)

// Matrix is a sparse weights matrix. Row i lists the neighbours of the
// observation whose identifier is IDs[i].
type Matrix struct {
	Kind      Kind
	IDCol     string
	IDs       []any
	Neighbors [][]int
	Weights   [][]float64
	index     map[string]int
}

// Build dispatches on kind. k is only used by KNN.
func Build(t *feature.Table, kind Kind, idCol string, k int) (*Matrix, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case Rook:
		return NewRook(t, idCol)
	case Queen:
		return NewQueen(t, idCol)
	case KNN:
		return NewKNN(t, idCol, k)
	default:
		return nil, eris.Errorf("weights: unknown kind %q", kind)
	}
}

// NewQueen links polygons that share at least one vertex.
func NewQueen(t *feature.Table, idCol string) (*Matrix, error) {
	return contiguity(t, idCol, Queen)
}

// NewRook links polygons that share at least one edge.
func NewRook(t *feature.Table, idCol string) (*Matrix, error) {
	return contiguity(t, idCol, Rook)
}

// NewKNN links every observation to its k nearest neighbours by centroid
// distance. Equal distances are broken by row order.
func NewKNN(t *feature.Table, idCol string, k int) (*Matrix, error) {
	if k <= 0 {
		return nil, eris.Errorf("weights: knn requires k > 0, got %d", k)
	}
	m, err := newMatrix(t, idCol, KNN)
	if err != nil {
		return nil, err
	}
	n := t.Len()
	if k >= n {
		return nil, eris.Errorf("weights: knn requires k < %d observations, got %d", n, k)
	}

	cents := make([]geom.T, n)
	for i := range cents {
		c, err := spatial.Centroid(t.Geometry(i))
		if err != nil {
			return nil, eris.Wrapf(err, "weights: centroid of row %d", i)
		}
		cents[i] = c
	}

	index := sindex.New(cents)
	for i, c := range cents {
		xy := c.FlatCoords()
		m.Neighbors[i] = index.Nearest(xy[0], xy[1], k, i)
		sort.Ints(m.Neighbors[i])
	}
	m.binary()
	return m, nil
}

func newMatrix(t *feature.Table, idCol string, kind Kind) (*Matrix, error) {
	if err := t.RequireColumns(idCol); err != nil {
		return nil, err
	}
	n := t.Len()
	m := &Matrix{
		Kind:      kind,
		IDCol:     idCol,
		IDs:       make([]any, n),
		Neighbors: make([][]int, n),
		Weights:   make([][]float64, n),
		index:     make(map[string]int, n),
	}
	for i := 0; i < n; i++ {
		id := t.Value(i, idCol)
		key := feature.Key(id)
		if key == "" {
			return nil, eris.Errorf("weights: row %d has a null %s", i, idCol)
		}
		if _, dup := m.index[key]; dup {
			return nil, eris.Errorf("weights: duplicate %s %v", idCol, id)
		}
		m.IDs[i] = id
		m.index[key] = i
	}
	return m, nil
}

// contiguity links rows through shared vertices (queen) or shared edges (rook).
// Coordinates must match exactly.
func contiguity(t *feature.Table, idCol string, kind Kind) (*Matrix, error) {
	m, err := newMatrix(t, idCol, kind)
	if err != nil {
		return nil, err
	}

	shared := make(map[string][]int)
	for i := 0; i < t.Len(); i++ {
		seen := make(map[string]bool)
		for _, ring := range rings(t.Geometry(i)) {
			for _, k := range ringKeys(ring, kind) {
				if seen[k] {
					continue
				}
				seen[k] = true
				shared[k] = append(shared[k], i)
			}
		}
	}

	links := make([]map[int]bool, t.Len())
	for i := range links {
		links[i] = make(map[int]bool)
	}
	for _, rows := range shared {
		for a := 0; a < len(rows); a++ {
			for b := a + 1; b < len(rows); b++ {
				links[rows[a]][rows[b]] = true
				links[rows[b]][rows[a]] = true
			}
		}
	}
	for i, l := range links {
		for j := range l {
			m.Neighbors[i] = append(m.Neighbors[i], j)
		}
		sort.Ints(m.Neighbors[i])
	}
	m.binary()

	if islands := m.Islands(); len(islands) > 0 {
		zap.L().Debug("weights: observations without neighbours",
			zap.String("kind", string(kind)),
			zap.Int("islands", len(islands)),
		)
	}
	return m, nil
}

// rings returns the flat coordinates of every ring of a polygonal geometry.
func rings(g geom.T) [][]float64 {
	var out [][]float64
	switch v := g.(type) {
	case *geom.Polygon:
		for i := 0; i < v.NumLinearRings(); i++ {
			out = append(out, xyOnly(v.LinearRing(i).FlatCoords(), v.Stride()))
		}
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			out = append(out, rings(v.Polygon(i))...)
		}
	}
	return out
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func vertexKey(x, y float64) string {
	// +0 folds negative zero.
	return strconv.FormatFloat(x+0, 'g', -1, 64) + "," + strconv.FormatFloat(y+0, 'g', -1, 64)
}

// ringKeys returns vertex keys (queen) or undirected edge keys (rook).
func ringKeys(ring []float64, kind Kind) []string {
	var keys []string
	n := len(ring) / 2
	for i := 0; i < n; i++ {
		a := vertexKey(ring[2*i], ring[2*i+1])
		if kind == Queen {
			keys = append(keys, a)
			continue
		}
		if i+1 >= n {
			break
		}
		b := vertexKey(ring[2*i+2], ring[2*i+3])
		if a == b {
			continue
		}
		if b < a {
			a, b = b, a
		}
		keys = append(keys, a+"|"+b)
	}
	return keys
}

// binary assigns weight 1 to every link.
func (m *Matrix) binary() {
	for i, ns := range m.Neighbors {
		m.Weights[i] = make([]float64, len(ns))
		for j := range ns {
			m.Weights[i][j] = 1
		}
	}
}

// Len returns the number of observations.
func (m *Matrix) Len() int { return len(m.IDs) }

// Index returns the row of an identifier.
func (m *Matrix) Index(id any) (int, bool) {
	i, ok := m.index[feature.Key(id)]
	return i, ok
}

// Islands returns the rows without neighbours.
func (m *Matrix) Islands() []int {
	var out []int
	for i, ns := range m.Neighbors {
		if len(ns) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// RowStandardize returns a copy whose row weights sum to one. Islands keep
// an empty row.
func (m *Matrix) RowStandardize() *Matrix {
	out := &Matrix{
		Kind:      m.Kind,
		IDCol:     m.IDCol,
		IDs:       m.IDs,
		Neighbors: m.Neighbors,
		Weights:   make([][]float64, len(m.Weights)),
		index:     m.index,
	}
	for i, ws := range m.Weights {
		total := 0.0
		for _, w := range ws {
			total += w
		}
		out.Weights[i] = make([]float64, len(ws))
		for j, w := range ws {
			if total != 0 {
				out.Weights[i][j] = w / total
			}
		}
	}
	return out
}

// Lag returns the spatial lag Σ_j w_ij·z_j for every row.
func (m *Matrix) Lag(z []float64) []float64 {
	out := make([]float64, len(m.Neighbors))
	for i, ns := range m.Neighbors {
		for j, n := range ns {
			out[i] += m.Weights[i][j] * z[n]
		}
	}
	return out
}
