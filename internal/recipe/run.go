package recipe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/geostat/internal/aggregate"
	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/geoio"
	"github.com/sells-group/geostat/internal/hexgrid"
	"github.com/sells-group/geostat/internal/metrics"
	"github.com/sells-group/geostat/internal/spatial"
	"github.com/sells-group/geostat/internal/weights"
)

// Result is the outcome of a recipe run.
type Result struct {
	RunID     string
	Table     *feature.Table
	Aggregate *aggregate.Result
	Weights   *weights.Matrix
}

type runOptions struct {
	pool     geoio.Pool
	skipSave bool
}

// Option configures Run.
type Option func(*runOptions)

// WithPool supplies the PostGIS pool for query inputs.
func WithPool(p geoio.Pool) Option {
	return func(o *runOptions) { o.pool = p }
}

// WithoutOutput skips writing r.Output.
func WithoutOutput() Option {
	return func(o *runOptions) { o.skipSave = true }
}

// Run loads both inputs concurrently, aggregates, applies the metric steps
// in order and writes the output.
func Run(ctx context.Context, r *Recipe, opts ...Option) (*Result, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if r.UsesPostGIS() && o.pool == nil {
		return nil, eris.New("recipe: PostGIS inputs and outputs need a database pool")
	}

	res := &Result{RunID: uuid.New().String()}
	log := zap.L().With(zap.String("run_id", res.RunID), zap.String("recipe", r.Name))
	start := time.Now()

	var points, polys *feature.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := load(gctx, r.Points, o.pool)
		if err != nil {
			return eris.Wrap(err, "recipe: load points")
		}
		points = t
		return nil
	})
	g.Go(func() error {
		t, err := load(gctx, r.Polygons, o.pool)
		if err != nil {
			return eris.Wrap(err, "recipe: load polygons")
		}
		polys = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("recipe: inputs loaded",
		zap.Int("points", points.Len()),
		zap.Int("polygons", polys.Len()),
	)

	if r.Hexgrid != nil {
		hex, err := hexgrid.Generate(polys, r.Hexgrid.Resolution)
		if err != nil {
			return nil, eris.Wrap(err, "recipe: hexgrid")
		}
		polys = hex
	}

	agg, err := r.aggregate(points, polys)
	if err != nil {
		return nil, err
	}
	res.Aggregate = agg
	out := agg.Table

	if r.NeedsWeights() {
		w, err := weights.Build(out, weights.Kind(r.Weights.Kind), r.Aggregate.PolyID, r.Weights.K)
		if err != nil {
			return nil, eris.Wrap(err, "recipe: weights")
		}
		res.Weights = w
	}

	for i, m := range r.Metrics {
		out, err = r.applyMetric(out, m, agg.Naming, res.Weights)
		if err != nil {
			return nil, eris.Wrapf(err, "recipe: metrics[%d] %s", i, m.Type)
		}
	}
	res.Table = out

	if !o.skipSave {
		if err := r.save(ctx, out, o.pool, log); err != nil {
			return nil, err
		}
	}

	log.Info("recipe: run complete",
		zap.Int("rows", out.Len()),
		zap.Int("columns", len(out.Columns())),
		zap.Int("unmatched_points", agg.Unmatched),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Recipe) save(ctx context.Context, out *feature.Table, pool geoio.Pool, log *zap.Logger) error {
	if r.Output != "" {
		if err := geoio.Write(ctx, r.Output, out); err != nil {
			return eris.Wrap(err, "recipe: write output")
		}
	}
	if o := r.OutputTable; o != nil {
		n, err := geoio.WritePostGIS(ctx, pool, o.Table, o.GeomCol, out, o.BatchSize)
		if err != nil {
			return eris.Wrap(err, "recipe: write output_table")
		}
		log.Info("recipe: loaded output table", zap.String("table", o.Table), zap.Int64("rows", n))
	}
	return nil
}

func load(ctx context.Context, in Input, pool geoio.Pool) (*feature.Table, error) {
	if in.Query == "" {
		return geoio.Read(ctx, in.Source)
	}
	t, err := geoio.ReadPostGIS(ctx, pool, in.Query, in.GeomCol)
	if err != nil {
		return nil, err
	}
	if in.CRS != "" {
		t.CRS = in.CRS
	}
	return t, nil
}

func (r *Recipe) aggregate(points, polys *feature.Table) (*aggregate.Result, error) {
	a := r.Aggregate
	funcs, err := aggregate.ParseFuncs(a.Funcs)
	if err != nil {
		return nil, eris.Wrap(err, "recipe: aggregate.funcs")
	}
	policy := spatial.PolicyBounds
	if a.Policy != "" {
		if policy, err = spatial.ParsePolicy(a.Policy); err != nil {
			return nil, eris.Wrap(err, "recipe: aggregate.policy")
		}
	}
	res, err := aggregate.ByCategoryToPolygon(points, polys, aggregate.Options{
		PolyIDCol:   a.PolyID,
		CategoryCol: a.Category,
		ValueCols:   a.Values,
		Funcs:       funcs,
		Separator:   a.Separator,
		Policy:      policy,
	})
	if err != nil {
		return nil, eris.Wrap(err, "recipe: aggregate")
	}
	return res, nil
}

func (r *Recipe) applyMetric(t *feature.Table, m MetricStep, naming *aggregate.Naming, w *weights.Matrix) (*feature.Table, error) {
	opts := []metrics.Option{metrics.WithSuffix(m.Suffix)}
	switch m.Type {
	case MetricCommunality:
		return metrics.Communality(t, r.column(m.Users, m, naming), r.column(m.Visits, m, naming), opts...)
	case MetricRelFreq:
		cols, err := r.columns(m, naming)
		if err != nil {
			return nil, err
		}
		return metrics.RelativeFrequency(t, cols)
	case MetricEntropy:
		cols, err := r.columns(m, naming)
		if err != nil {
			return nil, err
		}
		if m.Weighted {
			return metrics.ShannonEntropyLocalWeighted(t, cols, m.Base, opts...)
		}
		return metrics.ShannonEntropy(t, cols, m.Base, opts...)
	case MetricMoran:
		opts = append(opts, metrics.WithPermutations(m.Permutations))
		if m.Seed != nil {
			opts = append(opts, metrics.WithSeed(*m.Seed))
		}
		if m.Significance != nil {
			opts = append(opts, metrics.WithSignificance(*m.Significance))
		}
		return metrics.LocalMoran(t, r.column(m.Column, m, naming), w, opts...)
	}
	return nil, eris.Errorf("unknown metric type %q", m.Type)
}

// column resolves an aggregated value name to its total column, e.g.
// "visits" to "visits_sum". Other names pass through.
func (r *Recipe) column(name string, m MetricStep, naming *aggregate.Naming) string {
	f, err := aggregate.ParseFunc(m.Func)
	if err != nil {
		return name
	}
	if total, ok := naming.Total(name, f); ok {
		return total
	}
	return name
}

// columns returns the explicit column list or the per-category columns of
// m.Value/m.Func.
func (r *Recipe) columns(m MetricStep, naming *aggregate.Naming) ([]string, error) {
	if len(m.Columns) > 0 {
		return m.Columns, nil
	}
	f, err := aggregate.ParseFunc(m.Func)
	if err != nil {
		return nil, err
	}
	cols := naming.CategoryColumns(m.Value, f)
	if len(cols) == 0 {
		return nil, eris.Errorf("no %s columns aggregated for %q", f, m.Value)
	}
	return cols, nil
}
