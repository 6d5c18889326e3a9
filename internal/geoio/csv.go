package geoio

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
)

// Default column names for tabular point inputs.
const (
	DefaultLonCol      = "lon"
	DefaultLatCol      = "lat"
	DefaultGeometryCol = "geometry"
)

// ReadCSV reads a delimited point file. The first row is the header.
// Geometry comes from the WKT column when present, otherwise from the
// lon/lat columns. CSV carries no CRS: EPSG:4326 is assumed unless
// src.CRS says otherwise.
func ReadCSV(ctx context.Context, src Source) (*feature.Table, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open %s", src.Path)
	}
	defer func() { _ = f.Close() }()

	rowCh, errCh := streamCSV(ctx, f)
	var header []string
	var records [][]string
	for row := range rowCh {
		if header == nil {
			header = row
			continue
		}
		records = append(records, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if header == nil {
		return nil, eris.Errorf("geoio: %s has no header row", src.Path)
	}
	return fromRecords(src, header, records)
}

// streamCSV sends parsed rows on the returned channel. Both channels are
// closed when the input is exhausted or ctx is cancelled.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "geoio: csv context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "geoio: csv read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "geoio: csv context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// fromRecords turns a header and string rows into a point table. Rows whose
// geometry cannot be parsed are dropped.
func fromRecords(src Source, header []string, records [][]string) (*feature.Table, error) {
	lonCol, latCol, geomCol := src.LonCol, src.LatCol, src.GeometryCol
	if lonCol == "" {
		lonCol = DefaultLonCol
	}
	if latCol == "" {
		latCol = DefaultLatCol
	}
	if geomCol == "" {
		geomCol = DefaultGeometryCol
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		idx[header[i]] = i
	}
	gi, hasWKT := idx[geomCol]
	xi, hasLon := idx[lonCol]
	yi, hasLat := idx[latCol]
	if !hasWKT && !(hasLon && hasLat) {
		return nil, eris.Wrapf(feature.ErrColumnNotFound,
			"geoio: %s needs a %q column or %q and %q columns", src.Path, geomCol, lonCol, latCol)
	}

	var attrCols []string
	for _, h := range header {
		if h == geomCol && hasWKT {
			continue
		}
		attrCols = append(attrCols, h)
	}

	t := feature.New(crs.WGS84, attrCols...)
	var skipped int
	for _, rec := range records {
		cell := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}

		var g geom.T
		if hasWKT {
			parsed, err := wkt.Unmarshal(cell(gi))
			if err != nil {
				skipped++
				continue
			}
			g = parsed
		} else {
			x, errX := strconv.ParseFloat(cell(xi), 64)
			y, errY := strconv.ParseFloat(cell(yi), 64)
			if errX != nil || errY != nil {
				skipped++
				continue
			}
			g = geom.NewPointFlat(geom.XY, []float64{x, y})
		}

		attrs := make(map[string]any, len(attrCols))
		for i, h := range header {
			if h == geomCol && hasWKT {
				continue
			}
			if v := cell(i); v != "" {
				attrs[h] = v
			} else {
				attrs[h] = nil
			}
		}
		t.Append(g, attrs)
	}

	if skipped > 0 {
		zap.L().Warn("geoio: dropped rows without a readable geometry",
			zap.String("path", src.Path),
			zap.Int("skipped", skipped),
		)
	}
	return t, nil
}

// WriteCSV writes the attribute columns followed by a WKT geometry column,
// in the table's own CRS.
func WriteCSV(w io.Writer, t *feature.Table) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(append(append([]string{}, cols...), DefaultGeometryCol)); err != nil {
		return eris.Wrap(err, "geoio: write csv header")
	}

	record := make([]string, len(cols)+1)
	for i := 0; i < t.Len(); i++ {
		for j, c := range cols {
			record[j] = formatCell(t.Value(i, c))
		}
		record[len(cols)] = ""
		if g := t.Geometry(i); g != nil {
			s, err := wkt.Marshal(g)
			if err != nil {
				return eris.Wrapf(err, "geoio: row %d geometry", i)
			}
			record[len(cols)] = s
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrapf(err, "geoio: write csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "geoio: flush csv")
}

// formatCell renders a value for text outputs. Nulls are empty.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	}
	return feature.Label(v)
}
