package geoio

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/geostat/internal/feature"
)

// SheetName is the worksheet WriteXLSX creates.
const SheetName = "features"

// ReadXLSX reads a point table from a workbook the same way ReadCSV does.
// src.Layer names the sheet; empty picks the first one.
func ReadXLSX(src Source) (*feature.Table, error) {
	f, err := xlsx.OpenFile(src.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open workbook %s", src.Path)
	}

	var sheet *xlsx.Sheet
	if src.Layer != "" {
		s, ok := f.Sheet[src.Layer]
		if !ok {
			return nil, eris.Errorf("geoio: sheet %q not found", src.Layer)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("geoio: %s has no sheets", src.Path)
		}
		sheet = f.Sheets[0]
	}

	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("geoio: sheet %q has no header row", sheet.Name)
	}
	header := rowToStrings(sheet.Rows[0])
	records := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		records = append(records, rowToStrings(row))
	}
	return fromRecords(src, header, records)
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// WriteXLSX writes t to a single-sheet workbook with a trailing WKT
// geometry column. Numbers keep their numeric cell type.
func WriteXLSX(path string, t *feature.Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "geoio: add sheet")
	}

	cols := t.Columns()
	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().SetString(c)
	}
	header.AddCell().SetString(DefaultGeometryCol)

	for i := 0; i < t.Len(); i++ {
		row := sheet.AddRow()
		for _, c := range cols {
			setCell(row.AddCell(), t.Value(i, c))
		}
		cell := row.AddCell()
		if g := t.Geometry(i); g != nil {
			s, err := wkt.Marshal(g)
			if err != nil {
				return eris.Wrapf(err, "geoio: row %d geometry", i)
			}
			cell.SetString(s)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "geoio: save workbook %s", path)
	}
	return nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
	case string:
		cell.SetString(x)
	case bool:
		cell.SetBool(x)
	case int:
		cell.SetInt(x)
	case int64:
		cell.SetInt64(x)
	case float64:
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			cell.SetFloat(x)
		}
	default:
		if f, ok := feature.ToFloat(v); ok {
			cell.SetFloat(f)
			return
		}
		cell.SetString(formatCell(v))
	}
}
