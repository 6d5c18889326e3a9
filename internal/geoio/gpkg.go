package geoio

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgFID           = "fid"
)

// ReadGeoPackage reads one feature table of a GeoPackage. An empty layer
// selects the first feature table by name. A primary key named fid is the
// row handle written by WriteGeoPackage and is not carried into the
// attributes; any other primary key column is kept.
func ReadGeoPackage(ctx context.Context, path, layer string) (*feature.Table, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open geopackage %s", path)
	}
	defer func() { _ = db.Close() }()

	if layer == "" {
		err := db.QueryRowContext(ctx,
			`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name LIMIT 1`,
		).Scan(&layer)
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: no feature table in %s", path)
		}
	}

	var geomCol string
	var srsID int64
	err = db.QueryRowContext(ctx,
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, layer,
	).Scan(&geomCol, &srsID)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: geometry column of %s", layer)
	}

	crsID, err := gpkgCRS(ctx, db, srsID)
	if err != nil {
		return nil, err
	}

	pk, err := fidColumns(ctx, db, layer)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(layer))
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: query %s", layer)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "geoio: columns")
	}
	var attrCols []string
	for _, n := range names {
		if n != geomCol && !pk[n] {
			attrCols = append(attrCols, n)
		}
	}

	t := feature.New(crsID, attrCols...)
	vals := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "geoio: scan row")
		}
		var g geom.T
		attrs := make(map[string]any, len(attrCols))
		for i, n := range names {
			switch {
			case n == geomCol:
				blob, _ := vals[i].([]byte)
				if g, err = decodeGPB(blob); err != nil {
					return nil, eris.Wrapf(err, "geoio: row %d geometry", t.Len())
				}
			case pk[n]:
			default:
				attrs[n] = sqliteValue(vals[i])
			}
		}
		t.Append(g, attrs)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geoio: iterate rows")
	}
	return t, nil
}

func gpkgCRS(ctx context.Context, db *sql.DB, srsID int64) (string, error) {
	var org, def string
	var code int64
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID,
	).Scan(&org, &code, &def)
	if err != nil {
		return "", eris.Wrapf(err, "geoio: spatial ref %d", srsID)
	}
	if strings.EqualFold(org, "EPSG") && code > 0 {
		return crs.FromEPSG(int(code)), nil
	}
	if def == "undefined" {
		return "", nil
	}
	return def, nil
}

// fidColumns returns the primary key columns of table named fid.
func fidColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: table info %s", table)
	}
	defer func() { _ = rows.Close() }()

	pk := map[string]bool{}
	for rows.Next() {
		var (
			cid, notNull, isPK int
			name, typ          string
			dflt               sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &isPK); err != nil {
			return nil, eris.Wrap(err, "geoio: scan table info")
		}
		if isPK > 0 && strings.EqualFold(name, gpkgFID) {
			pk[name] = true
		}
	}
	return pk, rows.Err()
}

func sqliteValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// decodeGPB parses a GeoPackage geometry blob: the "GP" header, an optional
// envelope, then standard WKB.
func decodeGPB(b []byte) (geom.T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("not a geopackage geometry blob")
	}
	flags := b[3]
	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, eris.Errorf("invalid envelope indicator in flags %#x", flags)
	}
	start := 8 + envelope
	if len(b) < start {
		return nil, eris.New("truncated geopackage header")
	}
	g, err := wkb.Unmarshal(b[start:])
	if err != nil {
		return nil, eris.Wrap(err, "decode wkb")
	}
	return g, nil
}

// encodeGPB builds a little-endian GeoPackage blob with an XY envelope.
func encodeGPB(g geom.T, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "encode wkb")
	}
	empty := g.Empty()
	flags := byte(0x01) // little endian
	if empty {
		flags |= 0x10
	} else {
		flags |= 0x02 // xy envelope
	}

	buf := make([]byte, 8, 8+32+len(body))
	buf[0], buf[1], buf[2], buf[3] = 'G', 'P', 0, flags
	binary.LittleEndian.PutUint32(buf[4:], uint32(srsID))
	if !empty {
		b := g.Bounds()
		for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return append(buf, body...), nil
}

// WriteGeoPackage creates a GeoPackage at path holding t as a single
// feature table named layer.
func WriteGeoPackage(ctx context.Context, path, layer string, t *feature.Table) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrapf(err, "geoio: open geopackage %s", path)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "geoio: begin")
	}
	defer func() { _ = tx.Rollback() }()

	srsID, org, def := int32(99999), "NONE", t.CRS
	if code, ok := crs.EPSG(t.CRS); ok {
		srsID, org, def = int32(code), "EPSG", "undefined"
	} else if def == "" {
		srsID, def = 0, "undefined"
	}

	cols := t.Columns()
	colDefs := make([]string, 0, len(cols)+2)
	colDefs = append(colDefs, gpkgFID+" INTEGER PRIMARY KEY AUTOINCREMENT", "geom BLOB")
	for _, c := range cols {
		colDefs = append(colDefs, quoteIdent(c)+" "+sqliteType(t, c))
	}

	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		"PRAGMA user_version = 10300",
		`CREATE TABLE IF NOT EXISTS gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL, srs_id INTEGER PRIMARY KEY, organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL, definition TEXT NOT NULL, description TEXT)`,
		`CREATE TABLE IF NOT EXISTS gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY, data_type TEXT NOT NULL, identifier TEXT UNIQUE,
			description TEXT DEFAULT '', last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE, srs_id INTEGER)`,
		`CREATE TABLE IF NOT EXISTS gpkg_geometry_columns (
			table_name TEXT NOT NULL, column_name TEXT NOT NULL, geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL, z TINYINT NOT NULL, m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name))`,
		"DROP TABLE IF EXISTS " + quoteIdent(layer),
		"CREATE TABLE " + quoteIdent(layer) + " (" + strings.Join(colDefs, ", ") + ")",
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return eris.Wrap(err, "geoio: prepare geopackage schema")
		}
	}

	meta := []struct {
		query string
		args  []any
	}{
		{`INSERT OR REPLACE INTO gpkg_spatial_ref_sys VALUES (?, ?, ?, ?, ?, NULL)`,
			[]any{t.CRS, srsID, org, max(srsID, 0), def}},
		{`INSERT OR REPLACE INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
			[]any{layer, layer, srsID}},
		{`INSERT OR REPLACE INTO gpkg_geometry_columns VALUES (?, 'geom', 'GEOMETRY', ?, 0, 0)`,
			[]any{layer, srsID}},
	}
	for _, m := range meta {
		if _, err := tx.ExecContext(ctx, m.query, m.args...); err != nil {
			return eris.Wrap(err, "geoio: register layer")
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)+1), ", ")
	quoted := make([]string, 0, len(cols)+1)
	quoted = append(quoted, "geom")
	for _, c := range cols {
		quoted = append(quoted, quoteIdent(c))
	}
	insert, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(layer)+
		" ("+strings.Join(quoted, ", ")+") VALUES ("+placeholders+")")
	if err != nil {
		return eris.Wrap(err, "geoio: prepare insert")
	}
	defer func() { _ = insert.Close() }()

	args := make([]any, len(cols)+1)
	for i := 0; i < t.Len(); i++ {
		args[0] = nil
		if g := t.Geometry(i); g != nil {
			blob, err := encodeGPB(g, srsID)
			if err != nil {
				return eris.Wrapf(err, "geoio: row %d geometry", i)
			}
			args[0] = blob
		}
		for j, c := range cols {
			args[j+1] = t.Value(i, c)
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "geoio: insert row %d", i)
		}
	}

	return eris.Wrap(tx.Commit(), "geoio: commit geopackage")
}

// sqliteType picks a column affinity from the first non-null value.
func sqliteType(t *feature.Table, col string) string {
	for i := 0; i < t.Len(); i++ {
		switch t.Value(i, col).(type) {
		case nil:
			continue
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
