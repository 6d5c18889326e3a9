// Package aggregate groups points by enclosing polygon and category and
// pivots the aggregated values into wide polygon columns.
package aggregate

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/spatial"
)

// DefaultSeparator joins the parts of generated column names.
const DefaultSeparator = "_"

// Options configures ByCategoryToPolygon.
type Options struct {
	PolyIDCol   string
	CategoryCol string
	ValueCols   []string
	Funcs       []Func // default: sum
	Separator   string // default: "_"
	Policy      spatial.Policy
}

// Result is the aggregated polygon table plus the column mapping used to
// build it.
type Result struct {
	Table      *feature.Table
	Naming     *Naming
	Categories []string
	// Unmatched counts points that fell outside every polygon.
	Unmatched int
}

type accumulator struct {
	sum      float64
	n        int
	min, max float64
}

func (a *accumulator) add(v float64) {
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.n++
}

func (a *accumulator) result(f Func) float64 {
	switch f {
	case Sum:
		return a.sum
	case Count:
		return float64(a.n)
	case Mean:
		if a.n == 0 {
			return math.NaN()
		}
		return a.sum / float64(a.n)
	case Max:
		if a.n == 0 {
			return math.NaN()
		}
		return a.max
	case Min:
		if a.n == 0 {
			return math.NaN()
		}
		return a.min
	default:
		return math.NaN()
	}
}

// groupKey is (polygon id key, category label).
type groupKey struct {
	poly     string
	category string
}

// ByCategoryToPolygon aggregates point values per (polygon, category),
// pivots them into wide columns, adds per-polygon totals for additive
// functions and left-merges everything onto a copy of polys. Every polygon
// row is kept; polygons or combinations without points get zero.
func ByCategoryToPolygon(points, polys *feature.Table, opts Options) (*Result, error) {
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	if len(opts.Funcs) == 0 {
		opts.Funcs = []Func{Sum}
	}
	if len(opts.ValueCols) == 0 {
		return nil, eris.New("aggregate: at least one value column is required")
	}
	if err := polys.RequireColumns(opts.PolyIDCol); err != nil {
		return nil, err
	}
	if err := points.RequireColumns(append([]string{opts.CategoryCol}, opts.ValueCols...)...); err != nil {
		return nil, err
	}

	assigned, err := spatial.AssignPoints(points, polys, opts.PolyIDCol, spatial.WithPolicy(opts.Policy))
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: assign points")
	}

	groups := make(map[groupKey]map[string]*accumulator)
	catSet := make(map[string]bool)
	unmatched, skipped := 0, 0
	for i := 0; i < assigned.Len(); i++ {
		polyKey := feature.Key(assigned.Value(i, opts.PolyIDCol))
		if polyKey == "" {
			unmatched++
			continue
		}
		rawCat := assigned.Value(i, opts.CategoryCol)
		if rawCat == nil {
			continue
		}
		cat := norm.NFC.String(feature.Label(rawCat))
		catSet[cat] = true

		gk := groupKey{poly: polyKey, category: cat}
		accs, ok := groups[gk]
		if !ok {
			accs = make(map[string]*accumulator, len(opts.ValueCols))
			for _, v := range opts.ValueCols {
				accs[v] = &accumulator{}
			}
			groups[gk] = accs
		}
		for _, v := range opts.ValueCols {
			raw := assigned.Value(i, v)
			if raw == nil {
				continue
			}
			f, ok := feature.ToFloat(raw)
			if !ok || math.IsNaN(f) {
				skipped++
				continue
			}
			accs[v].add(f)
		}
	}

	categories := make([]string, 0, len(catSet))
	for c := range catSet {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	naming, err := NewNaming(opts.ValueCols, opts.Funcs, categories, opts.Separator)
	if err != nil {
		return nil, err
	}
	for _, name := range naming.Names() {
		if polys.HasColumn(name) {
			return nil, eris.Errorf("aggregate: generated column %q collides with a polygon column", name)
		}
	}

	out := polys.Clone()
	for _, name := range naming.Names() {
		out.AddColumn(name)
	}
	for i := 0; i < out.Len(); i++ {
		polyKey := feature.Key(out.Value(i, opts.PolyIDCol))
		totals := make(map[Triple]float64, len(naming.Totals))
		for _, col := range naming.Wide {
			v := 0.0
			if accs, ok := groups[groupKey{poly: polyKey, category: col.Category}]; ok && polyKey != "" {
				v = accs[col.Value].result(col.Func)
			}
			if math.IsNaN(v) {
				v = 0
			}
			out.Set(i, col.Name, v)
			if col.Func.Additive() {
				totals[Triple{Value: col.Value, Func: col.Func}] += v
			}
		}
		for _, col := range naming.Totals {
			out.Set(i, col.Name, totals[col.Triple])
		}
	}

	if skipped > 0 {
		zap.L().Warn("aggregate: skipped non-numeric values", zap.Int("count", skipped))
	}
	zap.L().Debug("aggregate: aggregated points by category",
		zap.Int("points", points.Len()),
		zap.Int("polygons", out.Len()),
		zap.Int("groups", len(groups)),
		zap.Int("categories", len(categories)),
		zap.Int("unmatched", unmatched),
	)

	return &Result{
		Table:      out,
		Naming:     naming,
		Categories: categories,
		Unmatched:  unmatched,
	}, nil
}
