package geoio

import (
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

// ReadShapefile reads a .shp with its .dbf attributes. The CRS comes from
// the sibling .prj and DBF text is decoded with the code page named in the
// .cpg (UTF-8 when absent). Records without geometry are dropped.
func ReadShapefile(path string) (*feature.Table, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	base := strings.TrimSuffix(path, ".shp")
	dec, err := codePage(base + ".cpg")
	if err != nil {
		return nil, err
	}

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	t := feature.New(prjCRS(base+".prj"), names...)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			v, err := dbfValue(raw, f, dec)
			if err != nil {
				return nil, eris.Wrapf(err, "geoio: field %s", names[i])
			}
			attrs[names[i]] = v
		}
		t.Append(g, attrs)
	}

	if skipped > 0 {
		zap.L().Warn("geoio: dropped shapefile records without geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return t, nil
}

// prjCRS maps a .prj to a CRS identifier. Plain WGS84 geographic WKT becomes
// EPSG:4326; anything else is kept as WKT for the proj parser.
func prjCRS(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	wkt := strings.TrimSpace(string(data))
	if strings.HasPrefix(wkt, "GEOGCS[") && strings.Contains(wkt, "WGS_1984") {
		return crs.WGS84
	}
	return wkt
}

var codePages = map[string]encoding.Encoding{
	"437":         charmap.CodePage437,
	"850":         charmap.CodePage850,
	"1250":        charmap.Windows1250,
	"1251":        charmap.Windows1251,
	"1252":        charmap.Windows1252,
	"88591":       charmap.ISO8859_1,
	"iso88591":    charmap.ISO8859_1,
	"latin1":      charmap.ISO8859_1,
	"iso885915":   charmap.ISO8859_15,
	"ansi1252":    charmap.Windows1252,
	"windows1252": charmap.Windows1252,
}

// codePage returns a decoder for the .cpg at path, or nil for UTF-8.
func codePage(path string) (*encoding.Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	label := strings.TrimSpace(string(data))
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(label))
	switch key {
	case "", "utf8", "65001":
		return nil, nil
	}
	if enc, ok := codePages[key]; ok {
		return enc.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: code page %q", label)
	}
	return enc.NewDecoder(), nil
}

func dbfValue(raw string, f shp.Field, dec *encoding.Decoder) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return n, nil
			}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			// Overflow markers such as "*****" read as null.
			return nil, nil
		}
		return v, nil
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true, nil
		case "F", "N":
			return false, nil
		}
		return nil, nil
	}
	if dec == nil {
		return raw, nil
	}
	s, err := dec.String(raw)
	if err != nil {
		return nil, eris.Wrap(err, "decode text")
	}
	return s, nil
}

// shapeToGeom converts a go-shp geometry. Unsupported and empty shapes
// return nil.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointM:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, flatPoints(s.Points))
	case *shp.PolyLine:
		return linesFromParts(s.Parts, s.Points)
	case *shp.Polygon:
		return polygonFromParts(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonFromParts(s.Parts, s.Points)
	case *shp.PolygonM:
		return polygonFromParts(s.Parts, s.Points)
	default:
		return nil
	}
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// splitParts slices pts at the part offsets.
func splitParts(parts []int32, pts []shp.Point) [][]float64 {
	out := make([][]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || int(end) > len(pts) {
			continue
		}
		out = append(out, flatPoints(pts[start:end]))
	}
	return out
}

func linesFromParts(parts []int32, pts []shp.Point) geom.T {
	lines := splitParts(parts, pts)
	if len(lines) == 0 {
		return nil
	}
	if len(lines) == 1 {
		return geom.NewLineStringFlat(geom.XY, lines[0])
	}
	mls := geom.NewMultiLineString(geom.XY)
	for i, l := range lines {
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, l)); err != nil {
			zap.L().Debug("geoio: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	return mls
}

// polygonFromParts rebuilds polygons from shapefile rings: clockwise rings
// are shells, counter-clockwise rings are holes of the shell containing
// their first vertex. A single shell yields a Polygon, several a
// MultiPolygon.
func polygonFromParts(parts []int32, pts []shp.Point) geom.T {
	rings := splitParts(parts, pts)
	var shells [][][]float64
	var holes [][]float64
	for _, r := range rings {
		if len(r) < 8 {
			continue
		}
		if xy.IsRingCounterClockwise(geom.XY, r) {
			holes = append(holes, r)
		} else {
			shells = append(shells, [][]float64{r})
		}
	}
	if len(shells) == 0 {
		// Wrongly wound file: treat every ring as a shell.
		for _, h := range holes {
			shells = append(shells, [][]float64{h})
		}
		holes = nil
	}
	for _, h := range holes {
		owner := len(shells) - 1
		for i, s := range shells {
			if xy.IsPointInRing(geom.XY, geom.Coord{h[0], h[1]}, s[0]) {
				owner = i
				break
			}
		}
		shells[owner] = append(shells[owner], h)
	}

	polys := make([]*geom.Polygon, 0, len(shells))
	for _, s := range shells {
		var flat []float64
		ends := make([]int, 0, len(s))
		for _, r := range s {
			flat = append(flat, r...)
			ends = append(ends, len(flat))
		}
		polys = append(polys, geom.NewPolygonFlat(geom.XY, flat, ends))
	}
	if len(polys) == 0 {
		return nil
	}
	if len(polys) == 1 {
		return polys[0]
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for i, p := range polys {
		if err := mp.Push(p); err != nil {
			zap.L().Debug("geoio: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	return mp
}
