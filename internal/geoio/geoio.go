// Package geoio loads feature tables from files and PostGIS and writes
// results back out. Readers return tables in the CRS declared by the
// source; nothing is reprojected on the way in.
package geoio

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/feature"
)

// ErrUnsupportedFormat is returned for file extensions with no reader or writer.
var ErrUnsupportedFormat = eris.New("geoio: unsupported format")

// Source describes a file-backed input.
type Source struct {
	Path string `yaml:"path"`
	// CRS overrides whatever the file declares.
	CRS string `yaml:"crs"`
	// Layer selects a GeoPackage feature table. Empty picks the first one.
	Layer string `yaml:"layer"`
	// Point columns for tabular inputs (.csv, .xlsx). GeometryCol holds WKT
	// and wins over LonCol/LatCol when present in the header.
	LonCol      string `yaml:"lon_col"`
	LatCol      string `yaml:"lat_col"`
	GeometryCol string `yaml:"geometry_col"`
}

// Format returns the lower-cased extension of the source path.
func (s Source) Format() string {
	return strings.ToLower(filepath.Ext(s.Path))
}

// Read loads src, dispatching on its extension.
func Read(ctx context.Context, src Source) (*feature.Table, error) {
	if src.Path == "" {
		return nil, eris.New("geoio: source path is required")
	}
	var (
		t   *feature.Table
		err error
	)
	switch src.Format() {
	case ".shp":
		t, err = ReadShapefile(src.Path)
	case ".geojson", ".json":
		t, err = ReadGeoJSON(src.Path)
	case ".gpkg":
		t, err = ReadGeoPackage(ctx, src.Path, src.Layer)
	case ".csv":
		t, err = ReadCSV(ctx, src)
	case ".xlsx":
		t, err = ReadXLSX(src)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "read %s", src.Path)
	}
	if err != nil {
		return nil, err
	}
	if src.CRS != "" {
		t.CRS = src.CRS
	}

	zap.L().Debug("geoio: read source",
		zap.String("path", src.Path),
		zap.String("crs", t.CRS),
		zap.Int("rows", t.Len()),
	)
	return t, nil
}

// Write stores t at path, dispatching on its extension.
func Write(ctx context.Context, path string, t *feature.Table) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		err = writeFile(path, func(f *os.File) error { return WriteGeoJSON(f, t) })
	case ".csv":
		err = writeFile(path, func(f *os.File) error { return WriteCSV(f, t) })
	case ".xlsx":
		err = WriteXLSX(path, t)
	case ".gpkg":
		layer := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		err = WriteGeoPackage(ctx, path, layer, t)
	default:
		return eris.Wrapf(ErrUnsupportedFormat, "write %s", path)
	}
	if err != nil {
		return err
	}

	zap.L().Info("geoio: wrote output",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
	)
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "geoio: create %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "geoio: close %s", path)
	}
	return nil
}
