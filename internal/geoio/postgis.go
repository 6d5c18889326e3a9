package geoio

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

const defaultBatchSize = 50000

// Pool is the subset of pgxpool.Pool used by the PostGIS adapters.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ReadPostGIS runs query and builds a table from its rows. geomCol must
// hold EWKB, e.g. "SELECT id, ST_AsEWKB(geom) AS geom FROM zones"; raw
// geometry columns, which arrive as hex EWKB text, are accepted too. The
// table CRS is taken from the first non-zero SRID.
func ReadPostGIS(ctx context.Context, pool Pool, query, geomCol string, args ...any) (*feature.Table, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "geoio: postgis query")
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	geomIdx := -1
	var attrCols []string
	for i, fd := range fds {
		names[i] = fd.Name
		if fd.Name == geomCol {
			geomIdx = i
			continue
		}
		attrCols = append(attrCols, fd.Name)
	}
	if geomIdx < 0 {
		return nil, eris.Wrapf(feature.ErrColumnNotFound, "geoio: geometry column %q not in result", geomCol)
	}

	t := feature.New("", attrCols...)
	srid := 0
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "geoio: read row values")
		}
		g, err := decodeEWKB(vals[geomIdx])
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: row %d geometry", t.Len())
		}
		if srid == 0 && g != nil {
			srid = g.SRID()
		}
		attrs := make(map[string]any, len(attrCols))
		for i, v := range vals {
			if i != geomIdx {
				attrs[names[i]] = v
			}
		}
		t.Append(g, attrs)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoio: iterate postgis rows")
	}
	if srid > 0 {
		t.CRS = crs.FromEPSG(srid)
	}

	zap.L().Debug("geoio: read postgis",
		zap.String("crs", t.CRS),
		zap.Int("rows", t.Len()),
	)
	return t, nil
}

func decodeEWKB(v any) (geom.T, error) {
	var data []byte
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = b
	case string:
		var err error
		if data, err = hex.DecodeString(b); err != nil {
			return nil, eris.Wrap(err, "decode hex ewkb")
		}
	default:
		return nil, eris.Errorf("unsupported geometry value %T", v)
	}
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "decode ewkb")
	}
	return g, nil
}

// WritePostGIS bulk-loads t into an existing table ("schema.table" or
// "table") with the COPY protocol. Geometries are sent as EWKB in geomCol
// with the table's EPSG code as SRID. Rows go in batches of batchSize
// (0 = 50,000).
func WritePostGIS(ctx context.Context, pool Pool, table, geomCol string, t *feature.Table, batchSize int) (int64, error) {
	if t.Len() == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	srid, _ := crs.EPSG(t.CRS)

	attrCols := t.Columns()
	columns := append(append(make([]string, 0, len(attrCols)+1), attrCols...), geomCol)
	ident := pgx.Identifier(strings.Split(table, "."))

	log := zap.L().With(
		zap.String("component", "geoio.postgis"),
		zap.String("table", table),
		zap.Int("total_rows", t.Len()),
	)

	var total int64
	for i := 0; i < t.Len(); i += batchSize {
		end := min(i+batchSize, t.Len())
		batch := make([][]any, 0, end-i)
		for r := i; r < end; r++ {
			row := make([]any, 0, len(columns))
			for _, c := range attrCols {
				row = append(row, t.Value(r, c))
			}
			g, err := encodeEWKB(t.Geometry(r), srid)
			if err != nil {
				return total, eris.Wrapf(err, "geoio: row %d geometry", r)
			}
			batch = append(batch, append(row, g))
		}

		n, err := pool.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(batch))
		if err != nil {
			return total, eris.Wrapf(err, "geoio: COPY into %s (batch %d-%d)", table, i, end)
		}
		total += n

		log.Debug("batch loaded",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}
	return total, nil
}

func encodeEWKB(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	g = withSRID(feature.CloneGeometry(g), srid)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode ewkb")
	}
	return data, nil
}

func withSRID(g geom.T, srid int) geom.T {
	if srid == 0 {
		return g
	}
	switch v := g.(type) {
	case *geom.Point:
		return v.SetSRID(srid)
	case *geom.LineString:
		return v.SetSRID(srid)
	case *geom.Polygon:
		return v.SetSRID(srid)
	case *geom.MultiPoint:
		return v.SetSRID(srid)
	case *geom.MultiLineString:
		return v.SetSRID(srid)
	case *geom.MultiPolygon:
		return v.SetSRID(srid)
	}
	return g
}
