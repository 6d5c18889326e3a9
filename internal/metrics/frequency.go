package metrics

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geostat/internal/feature"
)

// Output column names.
const (
	ColVisitsPerUser       = "visits_per_user"
	ColCommunality         = "communality"
	ColRelFreqPrefix       = "rel_freq_"
	ColNumCatColsWithValue = "num_cat_cols_with_value"
)

// Communality adds visits_per_user = visits / users and
// communality = visits_per_user / visits * 100. Division by zero follows
// IEEE semantics (±Inf or NaN); a null input yields null outputs.
func Communality(t *feature.Table, usersCol, visitsCol string, opts ...Option) (*feature.Table, error) {
	if err := t.RequireColumns(usersCol, visitsCol); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	vpuCol := ColVisitsPerUser + o.suffix
	comCol := ColCommunality + o.suffix

	out := t.Clone()
	out.AddColumn(vpuCol)
	out.AddColumn(comCol)
	for i := 0; i < out.Len(); i++ {
		users, okU := out.Float(i, usersCol)
		visits, okV := out.Float(i, visitsCol)
		if !okU || !okV {
			out.Set(i, vpuCol, nil)
			out.Set(i, comCol, nil)
			continue
		}
		vpu := visits / users
		out.Set(i, vpuCol, vpu)
		out.Set(i, comCol, vpu/visits*100)
	}
	return out, nil
}

// RelativeFrequency adds rel_freq_<col> = value / Σcols * 100 for every
// listed column and num_cat_cols_with_value, the number of listed columns
// holding a strictly positive value. Nulls count as zero; a row whose sum
// is zero gets zero for every relative frequency.
func RelativeFrequency(t *feature.Table, cols []string) (*feature.Table, error) {
	if len(cols) == 0 {
		return nil, eris.New("metrics: relative frequency needs at least one column")
	}
	if err := t.RequireColumns(cols...); err != nil {
		return nil, err
	}

	vectors := columnVectors(t, cols)
	totals := rowTotals(vectors, t.Len())

	out := t.Clone()
	for j, c := range cols {
		name := ColRelFreqPrefix + c
		out.AddColumn(name)
		for i := 0; i < out.Len(); i++ {
			rf := 0.0
			if totals[i] != 0 {
				rf = vectors[j][i] / totals[i] * 100
			}
			out.Set(i, name, rf)
		}
	}
	out.AddColumn(ColNumCatColsWithValue)
	for i := 0; i < out.Len(); i++ {
		n := 0
		for j := range cols {
			if vectors[j][i] > 0 {
				n++
			}
		}
		out.Set(i, ColNumCatColsWithValue, n)
	}
	return out, nil
}
