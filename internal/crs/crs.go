// Package crs normalizes the coordinate reference system of feature tables
// before any geometric comparison.
package crs

import (
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/feature"
)

// Well-known identifiers.
const (
	WGS84       = "EPSG:4326"
	WebMercator = "EPSG:3857"
)

// registry maps EPSG codes to proj4 definitions. Identifiers outside the
// registry are handed to the proj parser verbatim (proj4 or WKT).
var registry = map[string]string{
	"EPSG:4326":  "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
	"EPSG:3857":  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	"EPSG:27700": "+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +towgs84=446.448,-125.157,542.06,0.15,0.247,0.842,-20.489 +units=m +no_defs",
	"EPSG:32630": "+proj=utm +zone=30 +datum=WGS84 +units=m +no_defs",
	"EPSG:32631": "+proj=utm +zone=31 +datum=WGS84 +units=m +no_defs",
	"EPSG:2263":  "+proj=lcc +lat_1=41.03333333333333 +lat_2=40.66666666666666 +lat_0=40.16666666666666 +lon_0=-74 +x_0=300000.0000000001 +y_0=0 +ellps=GRS80 +datum=NAD83 +to_meter=0.3048006096012192 +no_defs",
	"EPSG:5070":  "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +datum=NAD83 +units=m +no_defs",
}

// Normalize canonicalizes an identifier so that "epsg:4326" and
// " EPSG:4326 " compare equal. Non-EPSG definitions are only trimmed.
func Normalize(code string) string {
	c := strings.TrimSpace(code)
	if len(c) > 5 && strings.EqualFold(c[:5], "EPSG:") {
		return "EPSG:" + strings.TrimSpace(c[5:])
	}
	return c
}

// Equal reports whether two identifiers name the same CRS.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// EPSG returns the numeric code of an "EPSG:n" identifier.
func EPSG(code string) (int, bool) {
	c := Normalize(code)
	if !strings.HasPrefix(c, "EPSG:") {
		return 0, false
	}
	n, err := strconv.Atoi(c[5:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// FromEPSG formats an EPSG code as an identifier.
func FromEPSG(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// Resolve parses a CRS identifier into a proj spatial reference.
func Resolve(code string) (*proj.SR, error) {
	c := Normalize(code)
	if c == "" {
		return nil, eris.Wrap(feature.ErrInvalidCRS, "crs: no crs assigned")
	}
	def, ok := registry[c]
	if !ok {
		if strings.HasPrefix(c, "EPSG:") {
			return nil, eris.Wrapf(feature.ErrInvalidCRS, "crs: unsupported code %s", c)
		}
		def = c
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(feature.ErrInvalidCRS, "crs: parse %s: %v", c, err)
	}
	return sr, nil
}

// Convert returns t with its geometries expressed in target. When t is
// already in target it is returned unchanged and nothing is reprojected.
func Convert(t *feature.Table, target string) (*feature.Table, error) {
	if Normalize(target) == "" {
		return nil, eris.Wrap(feature.ErrInvalidCRS, "crs: target has no crs")
	}
	if Normalize(t.CRS) == "" {
		return nil, eris.Wrap(feature.ErrInvalidCRS, "crs: table has no crs")
	}
	if Equal(t.CRS, target) {
		return t, nil
	}

	src, err := Resolve(t.CRS)
	if err != nil {
		return nil, err
	}
	dst, err := Resolve(target)
	if err != nil {
		return nil, err
	}
	tr, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrapf(feature.ErrInvalidCRS, "crs: transform %s -> %s: %v", t.CRS, target, err)
	}

	out := t.Clone()
	out.CRS = Normalize(target)
	for i := 0; i < out.Len(); i++ {
		if err := transformInPlace(out.Geometry(i), tr); err != nil {
			return nil, eris.Wrapf(feature.ErrInvalidCRS, "crs: row %d: %v", i, err)
		}
	}

	zap.L().Debug("crs: reprojected table",
		zap.String("from", t.CRS),
		zap.String("to", out.CRS),
		zap.Int("rows", out.Len()),
	)
	return out, nil
}

// Align reprojects t into the CRS of ref.
func Align(t, ref *feature.Table) (*feature.Table, error) {
	return Convert(t, ref.CRS)
}

// transformInPlace rewrites the XY ordinates of g. g must not be shared.
func transformInPlace(g geom.T, tr proj.Transformer) error {
	if g == nil {
		return nil
	}
	if _, ok := g.(*geom.GeometryCollection); ok {
		return eris.New("geometry collections are not supported")
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	if stride < 2 {
		return nil
	}
	for i := 0; i+1 < len(flat); i += stride {
		x, y, err := tr(flat[i], flat[i+1])
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = x, y
	}
	return nil
}
