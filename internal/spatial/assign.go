// Package spatial attaches polygon identifiers and attributes to points and
// selects polygons by centroid location.
package spatial

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/sindex"
)

// Policy decides which index candidate a point is assigned to.
type Policy int

const (
	// PolicyBounds assigns the first candidate whose bounding box contains
	// the point. Containment is not verified.
	PolicyBounds Policy = iota
	// PolicyPrecise assigns the first candidate whose geometry contains the
	// point (or the centroid of a non-point input geometry).
	PolicyPrecise
)

// String returns the config name of the policy.
func (p Policy) String() string {
	if p == PolicyPrecise {
		return "precise"
	}
	return "bounds"
}

// ParsePolicy converts a config value ("bounds" or "precise") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bounds":
		return PolicyBounds, nil
	case "precise":
		return PolicyPrecise, nil
	default:
		return PolicyBounds, eris.Errorf("spatial: unknown assignment policy %q", s)
	}
}

type options struct {
	policy Policy
}

// Option configures assignment.
type Option func(*options)

// WithPolicy sets the candidate selection policy. Default is PolicyBounds.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// Assigner locates the polygon row for arbitrary geometries.
type Assigner struct {
	polys  *feature.Table
	idCol  string
	index  *sindex.Index
	policy Policy
}

// NewAssigner indexes the polygon table. idCol must exist.
func NewAssigner(polys *feature.Table, idCol string, opts ...Option) (*Assigner, error) {
	if err := polys.RequireColumns(idCol); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	geoms := make([]geom.T, polys.Len())
	for i := range geoms {
		geoms[i] = polys.Geometry(i)
	}
	return &Assigner{
		polys:  polys,
		idCol:  idCol,
		index:  sindex.New(geoms),
		policy: o.policy,
	}, nil
}

// Locate returns the polygon row assigned to g, or -1. Ties go to the
// candidate with the lowest row position.
func (a *Assigner) Locate(g geom.T) int {
	candidates := a.index.Candidates(g)
	if len(candidates) == 0 {
		return -1
	}
	if a.policy == PolicyBounds {
		return candidates[0]
	}
	c, err := Centroid(g)
	if err != nil {
		return -1
	}
	for _, row := range candidates {
		if Intersects(a.polys.Geometry(row), c) {
			return row
		}
	}
	return -1
}

// ID returns the identifier of the polygon assigned to g, or nil.
func (a *Assigner) ID(g geom.T) any {
	row := a.Locate(g)
	if row < 0 {
		return nil
	}
	return a.polys.Value(row, a.idCol)
}

// AssignPoints returns a copy of points, reprojected to the polygon CRS,
// with the assigned polygon identifier stored under idCol. Points without
// a candidate get a null identifier and are kept.
func AssignPoints(points, polys *feature.Table, idCol string, opts ...Option) (*feature.Table, error) {
	a, err := NewAssigner(polys, idCol, opts...)
	if err != nil {
		return nil, err
	}
	aligned, err := crs.Align(points, polys)
	if err != nil {
		return nil, err
	}

	out := aligned.Clone()
	out.AddColumn(idCol)
	unmatched := 0
	for i := 0; i < out.Len(); i++ {
		id := a.ID(out.Geometry(i))
		if id == nil {
			unmatched++
		}
		out.Set(i, idCol, id)
	}

	zap.L().Debug("spatial: assigned points",
		zap.Int("points", out.Len()),
		zap.Int("polygons", polys.Len()),
		zap.Int("unmatched", unmatched),
		zap.String("policy", a.policy.String()),
	)
	return out, nil
}

// GiveAttributesToPoints assigns points to polygons and copies attrCols from
// the assigned polygon onto each point. Unmatched points get nulls.
func GiveAttributesToPoints(points, polys *feature.Table, idCol string, attrCols []string, opts ...Option) (*feature.Table, error) {
	if err := polys.RequireColumns(attrCols...); err != nil {
		return nil, err
	}
	out, err := AssignPoints(points, polys, idCol, opts...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]int, polys.Len())
	for i := 0; i < polys.Len(); i++ {
		k := feature.Key(polys.Value(i, idCol))
		if _, seen := byID[k]; !seen && k != "" {
			byID[k] = i
		}
	}

	for _, c := range attrCols {
		out.AddColumn(c)
	}
	for i := 0; i < out.Len(); i++ {
		row, ok := byID[feature.Key(out.Value(i, idCol))]
		for _, c := range attrCols {
			if !ok {
				out.Set(i, c, nil)
				continue
			}
			out.Set(i, c, polys.Value(row, c))
		}
	}
	return out, nil
}
