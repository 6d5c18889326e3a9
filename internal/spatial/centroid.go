package spatial

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/crs"
	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/sindex"
)

// centroids reduces every geometry of t to its centroid. Rows whose
// centroid cannot be computed get nil.
func centroids(t *feature.Table) ([]*geom.Point, []geom.T) {
	pts := make([]*geom.Point, t.Len())
	asT := make([]geom.T, t.Len())
	for i := range pts {
		c, err := Centroid(t.Geometry(i))
		if err != nil {
			zap.L().Warn("spatial: skipping row without centroid", zap.Int("row", i), zap.Error(err))
			continue
		}
		pts[i] = c
		asT[i] = c
	}
	return pts, asT
}

// IsolateByCentroid returns the input polygons whose centroid intersects the
// destination polygon identified by rowID. The bounding-box index is only a
// pre-filter; the exact intersection test decides. Output rows keep their
// original geometry, reprojected to the destination CRS, in input order.
func IsolateByCentroid(input *feature.Table, inputIDCol string, dest *feature.Table, destIDCol string, rowID any) (*feature.Table, error) {
	if err := input.RequireColumns(inputIDCol); err != nil {
		return nil, err
	}
	if err := dest.RequireColumns(destIDCol); err != nil {
		return nil, err
	}
	aligned, err := crs.Align(input, dest)
	if err != nil {
		return nil, err
	}

	var targets []int
	for i := 0; i < dest.Len(); i++ {
		if feature.Equal(dest.Value(i, destIDCol), rowID) {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return nil, eris.Wrapf(feature.ErrRowNotFound, "spatial: %s=%v not in destination layer", destIDCol, rowID)
	}

	pts, asT := centroids(aligned)
	index := sindex.New(asT)

	// Rows sharing an identifier with a matched row are kept with it.
	// Null identifiers only keep their own row.
	hits := make(map[int]bool)
	within := make(map[string]bool)
	for _, d := range targets {
		region := dest.Geometry(d)
		for _, row := range index.Candidates(region) {
			if Intersects(region, pts[row]) {
				hits[row] = true
				if key := feature.Key(aligned.Value(row, inputIDCol)); key != "" {
					within[key] = true
				}
			}
		}
	}

	var keep []int
	for i := 0; i < aligned.Len(); i++ {
		if hits[i] || within[feature.Key(aligned.Value(i, inputIDCol))] {
			keep = append(keep, i)
		}
	}

	zap.L().Debug("spatial: isolated polygons by centroid",
		zap.Any("row_id", rowID),
		zap.Int("input", aligned.Len()),
		zap.Int("kept", len(keep)),
	)
	return aligned.Select(keep), nil
}

// TransferAttributesByCentroid copies attrCols from the first destination
// polygon (lowest row) that intersects each input polygon's centroid.
// Input polygons with no such destination get null attributes.
func TransferAttributesByCentroid(input, dest *feature.Table, attrCols []string) (*feature.Table, error) {
	if err := dest.RequireColumns(attrCols...); err != nil {
		return nil, err
	}
	aligned, err := crs.Align(input, dest)
	if err != nil {
		return nil, err
	}

	destGeoms := make([]geom.T, dest.Len())
	for i := range destGeoms {
		destGeoms[i] = dest.Geometry(i)
	}
	index := sindex.New(destGeoms)
	pts, _ := centroids(aligned)

	out := aligned.Clone()
	for _, c := range attrCols {
		out.AddColumn(c)
	}
	matched := 0
	for i := 0; i < out.Len(); i++ {
		match := -1
		if pts[i] != nil {
			for _, row := range index.Candidates(pts[i]) {
				if Intersects(dest.Geometry(row), pts[i]) {
					match = row
					break
				}
			}
		}
		if match >= 0 {
			matched++
		}
		for _, c := range attrCols {
			if match < 0 {
				out.Set(i, c, nil)
				continue
			}
			out.Set(i, c, dest.Value(match, c))
		}
	}

	zap.L().Debug("spatial: transferred attributes by centroid",
		zap.Int("input", out.Len()),
		zap.Int("matched", matched),
		zap.Strings("columns", attrCols),
	)
	return out, nil
}
