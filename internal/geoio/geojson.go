package geoio

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

// ReadGeoJSON reads a FeatureCollection. GeoJSON coordinates are always
// EPSG:4326. Property columns are the union of all feature keys, sorted.
func ReadGeoJSON(path string) (*feature.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "geoio: decode geojson %s", path)
	}

	keys := map[string]bool{}
	for _, f := range fc.Features {
		for k := range f.Properties {
			keys[k] = true
		}
	}
	cols := make([]string, 0, len(keys))
	for k := range keys {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	t := feature.New(crs.WGS84, cols...)
	for _, f := range fc.Features {
		t.Append(f.Geometry, f.Properties)
	}
	return t, nil
}

// WriteGeoJSON writes t as a FeatureCollection in EPSG:4326. Non-finite
// numbers have no JSON form and are written as null.
func WriteGeoJSON(w io.Writer, t *feature.Table) error {
	geo, err := crs.Convert(t, crs.WGS84)
	if err != nil {
		return eris.Wrap(err, "geoio: reproject for geojson")
	}

	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, geo.Len())}
	for i := 0; i < geo.Len(); i++ {
		props := geo.Row(i)
		for k, v := range props {
			props[k] = jsonSafe(v)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   geo.Geometry(i),
			Properties: props,
		})
	}

	data, err := json.Marshal(&fc)
	if err != nil {
		return eris.Wrap(err, "geoio: encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "geoio: write geojson")
	}
	return nil
}

func jsonSafe(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return v
}
