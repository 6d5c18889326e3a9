// Package recipe describes a full aggregation run in YAML: which point and
// polygon sources to load, how to aggregate them, which metrics to derive
// and where to write the result.
package recipe

import (
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geostat/internal/config"
	"github.com/sells-group/geostat/internal/geoio"
	"github.com/sells-group/geostat/internal/weights"
)

// Metric step types.
const (
	MetricCommunality = "communality"
	MetricRelFreq     = "relfreq"
	MetricEntropy     = "entropy"
	MetricMoran       = "moran"
)

// Recipe is the top-level run description.
type Recipe struct {
	Name      string        `yaml:"name"`
	Points    Input         `yaml:"points"`
	Polygons  Input         `yaml:"polygons"`
	Hexgrid   *HexgridStep  `yaml:"hexgrid,omitempty"`
	Aggregate AggregateStep `yaml:"aggregate"`
	Weights   WeightsStep   `yaml:"weights"`
	Metrics   []MetricStep  `yaml:"metrics"`
	Output    string        `yaml:"output"`
	// OutputTable, when set, also loads the result into an existing
	// PostGIS table.
	OutputTable *TableOutput `yaml:"output_table,omitempty"`
}

// TableOutput names a PostGIS destination.
type TableOutput struct {
	Table     string `yaml:"table"`
	GeomCol   string `yaml:"geom_col"`
	BatchSize int    `yaml:"batch_size"`
}

// Input is a file source or, when Query is set, a PostGIS query.
type Input struct {
	geoio.Source `yaml:",inline"`
	Query        string `yaml:"query"`
	GeomCol      string `yaml:"geom_col"`
}

// HexgridStep replaces the polygon input with its H3 tessellation.
type HexgridStep struct {
	Resolution int `yaml:"resolution"`
}

// AggregateStep configures the point-to-polygon aggregation.
type AggregateStep struct {
	PolyID    string   `yaml:"poly_id"`
	Category  string   `yaml:"category"`
	Values    []string `yaml:"values"`
	Funcs     []string `yaml:"funcs"`
	Separator string   `yaml:"separator"`
	Policy    string   `yaml:"policy"`
}

// WeightsStep configures the spatial weights used by Moran steps.
type WeightsStep struct {
	Kind string `yaml:"kind"`
	K    int    `yaml:"k"`
}

// MetricStep is one derived statistic. Column lists may be given directly
// or selected from the aggregated output by Value and Func.
type MetricStep struct {
	Type    string   `yaml:"type"`
	Suffix  string   `yaml:"suffix"`
	Columns []string `yaml:"columns"`
	Value   string   `yaml:"value"`
	Func    string   `yaml:"func"`

	// communality
	Users  string `yaml:"users"`
	Visits string `yaml:"visits"`

	// entropy
	Base     float64 `yaml:"base"`
	Weighted bool    `yaml:"weighted"`

	// moran
	Column       string   `yaml:"column"`
	Permutations int      `yaml:"permutations"`
	Seed         *uint64  `yaml:"seed,omitempty"`
	Significance *float64 `yaml:"significance,omitempty"`
}

// Load reads a recipe from a YAML file with a top-level "recipe" key and
// fills unset settings from cfg.
func Load(path string, cfg *config.Config) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "recipe: read %s", path)
	}

	var wrapper struct {
		Recipe Recipe `yaml:"recipe"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "recipe: parse")
	}

	r := &wrapper.Recipe
	r.applyDefaults(cfg)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recipe) applyDefaults(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a := &r.Aggregate
	if a.Separator == "" {
		a.Separator = cfg.Aggregate.Separator
	}
	if len(a.Funcs) == 0 {
		a.Funcs = append([]string(nil), cfg.Aggregate.Funcs...)
	}
	if a.Policy == "" {
		a.Policy = cfg.Aggregate.Policy
	}
	if r.Hexgrid != nil && a.PolyID == "" {
		a.PolyID = "h3_id"
	}
	if r.Weights.Kind == "" {
		r.Weights.Kind = cfg.Weights.Kind
	}
	if r.Weights.K == 0 {
		r.Weights.K = cfg.Weights.K
	}
	for i := range r.Metrics {
		m := &r.Metrics[i]
		m.Type = strings.ToLower(m.Type)
		if m.Func == "" && len(a.Funcs) > 0 {
			m.Func = a.Funcs[0]
		}
		switch m.Type {
		case MetricEntropy:
			if m.Base == 0 {
				m.Base = cfg.Metrics.EntropyBase
			}
		case MetricMoran:
			if m.Permutations == 0 {
				m.Permutations = cfg.Metrics.Moran.Permutations
			}
			if m.Seed == nil {
				seed := cfg.Metrics.Moran.Seed
				m.Seed = &seed
			}
			if m.Significance == nil {
				alpha := cfg.Metrics.Moran.Significance
				m.Significance = &alpha
			}
		}
	}
}

// Validate reports the first structural problem in the recipe.
func (r *Recipe) Validate() error {
	if err := r.Points.validate("points"); err != nil {
		return err
	}
	if err := r.Polygons.validate("polygons"); err != nil {
		return err
	}
	a := r.Aggregate
	switch {
	case a.PolyID == "":
		return eris.New("recipe: aggregate.poly_id is required")
	case a.Category == "":
		return eris.New("recipe: aggregate.category is required")
	case len(a.Values) == 0:
		return eris.New("recipe: aggregate.values needs at least one column")
	case r.Output == "" && r.OutputTable == nil:
		return eris.New("recipe: output is required")
	}
	if o := r.OutputTable; o != nil && (o.Table == "" || o.GeomCol == "") {
		return eris.New("recipe: output_table needs table and geom_col")
	}
	if r.Hexgrid != nil && (r.Hexgrid.Resolution < 0 || r.Hexgrid.Resolution > 15) {
		return eris.Errorf("recipe: hexgrid.resolution %d outside 0..15", r.Hexgrid.Resolution)
	}
	for i, m := range r.Metrics {
		switch m.Type {
		case MetricCommunality:
			if m.Users == "" || m.Visits == "" {
				return eris.Errorf("recipe: metrics[%d] communality needs users and visits", i)
			}
		case MetricRelFreq, MetricEntropy:
			if len(m.Columns) == 0 && m.Value == "" {
				return eris.Errorf("recipe: metrics[%d] %s needs columns or value", i, m.Type)
			}
			if m.Type == MetricEntropy && (m.Base <= 0 || m.Base == 1 || math.IsNaN(m.Base) || math.IsInf(m.Base, 0)) {
				return eris.Errorf("recipe: metrics[%d] entropy base must be positive and not 1", i)
			}
		case MetricMoran:
			if m.Column == "" {
				return eris.Errorf("recipe: metrics[%d] moran needs column", i)
			}
			if m.Permutations < 1 {
				return eris.Errorf("recipe: metrics[%d] moran permutations must be >= 1", i)
			}
			if s := m.Significance; s != nil && (*s < 0 || *s > 1) {
				return eris.Errorf("recipe: metrics[%d] moran significance %g outside 0..1", i, *s)
			}
		default:
			return eris.Errorf("recipe: metrics[%d] unknown type %q", i, m.Type)
		}
	}
	if r.NeedsWeights() {
		return r.Weights.validate()
	}
	return nil
}

func (w WeightsStep) validate() error {
	switch weights.Kind(strings.ToLower(w.Kind)) {
	case weights.Rook, weights.Queen:
		return nil
	case weights.KNN:
		if w.K < 1 {
			return eris.Errorf("recipe: weights.k must be >= 1, got %d", w.K)
		}
		return nil
	default:
		return eris.Errorf("recipe: weights.kind %q must be rook, queen or knn", w.Kind)
	}
}

func (in Input) validate(name string) error {
	if in.Query != "" {
		if in.GeomCol == "" {
			return eris.Errorf("recipe: %s.geom_col is required with a query", name)
		}
		return nil
	}
	if in.Path == "" {
		return eris.Errorf("recipe: %s needs a path or a query", name)
	}
	return nil
}

// UsesPostGIS reports whether any input is a PostGIS query or the result
// goes to a PostGIS table.
func (r *Recipe) UsesPostGIS() bool {
	return r.Points.Query != "" || r.Polygons.Query != "" || r.OutputTable != nil
}

// NeedsWeights reports whether any step needs a spatial weights matrix.
func (r *Recipe) NeedsWeights() bool {
	for _, m := range r.Metrics {
		if m.Type == MetricMoran {
			return true
		}
	}
	return false
}
