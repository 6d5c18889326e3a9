// Package feature provides the in-memory feature table shared by the
// spatial aggregation and metrics pipeline.
package feature

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Table is an ordered set of features: one geometry plus one attribute map
// per row, all expressed in a single coordinate reference system.
// A nil attribute value is a null.
type Table struct {
	CRS     string
	columns []string
	colIdx  map[string]int
	geoms   []geom.T
	attrs   []map[string]any
}

// New creates an empty table in the given CRS with the given columns.
func New(crs string, columns ...string) *Table {
	t := &Table{CRS: crs, colIdx: make(map[string]int)}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.geoms) }

// Columns returns the attribute column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.colIdx[name]
	return ok
}

// RequireColumns returns ErrColumnNotFound for the first missing column.
func (t *Table) RequireColumns(names ...string) error {
	for _, n := range names {
		if !t.HasColumn(n) {
			return eris.Wrapf(ErrColumnNotFound, "feature: column %q", n)
		}
	}
	return nil
}

// AddColumn appends a column if it does not exist yet. Existing rows get null.
func (t *Table) AddColumn(name string) {
	if t.HasColumn(name) {
		return
	}
	t.colIdx[name] = len(t.columns)
	t.columns = append(t.columns, name)
}

// Append adds a row. Attributes for unknown columns add the column.
func (t *Table) Append(g geom.T, attrs map[string]any) {
	row := make(map[string]any, len(attrs))
	for k, v := range attrs {
		t.AddColumn(k)
		row[k] = v
	}
	t.geoms = append(t.geoms, g)
	t.attrs = append(t.attrs, row)
}

// Geometry returns the geometry of row i.
func (t *Table) Geometry(i int) geom.T { return t.geoms[i] }

// SetGeometry replaces the geometry of row i.
func (t *Table) SetGeometry(i int, g geom.T) { t.geoms[i] = g }

// Value returns the attribute of row i in column col, or nil.
func (t *Table) Value(i int, col string) any { return t.attrs[i][col] }

// Float returns the attribute as float64. ok is false for nulls and
// non-numeric values.
func (t *Table) Float(i int, col string) (float64, bool) {
	return ToFloat(t.attrs[i][col])
}

// Set assigns an attribute, adding the column when needed.
func (t *Table) Set(i int, col string, v any) {
	t.AddColumn(col)
	t.attrs[i][col] = v
}

// Row returns a copy of the attributes of row i.
func (t *Table) Row(i int) map[string]any {
	out := make(map[string]any, len(t.attrs[i]))
	for k, v := range t.attrs[i] {
		out[k] = v
	}
	return out
}

// Clone returns an independent deep copy of the table.
func (t *Table) Clone() *Table {
	out := New(t.CRS, t.columns...)
	out.geoms = make([]geom.T, len(t.geoms))
	out.attrs = make([]map[string]any, len(t.attrs))
	for i := range t.geoms {
		out.geoms[i] = CloneGeometry(t.geoms[i])
		out.attrs[i] = t.Row(i)
	}
	return out
}

// Select returns a deep copy holding only the given rows, in the given order.
func (t *Table) Select(rows []int) *Table {
	out := New(t.CRS, t.columns...)
	for _, i := range rows {
		out.geoms = append(out.geoms, CloneGeometry(t.geoms[i]))
		out.attrs = append(out.attrs, t.Row(i))
	}
	return out
}

// CloneGeometry deep-copies the geometry types the pipeline produces.
// Other types are returned as-is.
func CloneGeometry(g geom.T) geom.T {
	switch v := g.(type) {
	case *geom.Point:
		return v.Clone()
	case *geom.LineString:
		return v.Clone()
	case *geom.Polygon:
		return v.Clone()
	case *geom.MultiPoint:
		return v.Clone()
	case *geom.MultiLineString:
		return v.Clone()
	case *geom.MultiPolygon:
		return v.Clone()
	default:
		return g
	}
}
