package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/aggregate"
	"github.com/sells-group/geostat/internal/spatial"
)

var (
	aggPoints    layerFlags
	aggPolygons  layerFlags
	aggLonCol    string
	aggLatCol    string
	aggPolyID    string
	aggCategory  string
	aggValues    string
	aggFuncs     string
	aggSeparator string
	aggPolicy    string
	aggOutput    string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate categorised points into polygons",
	Long: `Assigns every point to the polygon that contains it, groups by polygon and
category, and writes one row per polygon with a column per
(value, function, category) plus per-value totals for sum and count.

Example:
  geostat aggregate --points visits.csv --polygons zones.gpkg \
    --poly-id zone_id --category category --values visits,users \
    --output zones_agg.gpkg`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := cmdLog(cmd)

		if aggSeparator == "" {
			aggSeparator = cfg.Aggregate.Separator
		}
		if aggPolicy == "" {
			aggPolicy = cfg.Aggregate.Policy
		}
		funcNames := splitAndTrim(aggFuncs)
		if len(funcNames) == 0 {
			funcNames = cfg.Aggregate.Funcs
		}
		if err := cfg.Validate("aggregate"); err != nil {
			return err
		}
		if aggPolyID == "" || aggCategory == "" {
			return eris.New("aggregate: --poly-id and --category are required")
		}
		values := splitAndTrim(aggValues)
		if len(values) == 0 {
			return eris.New("aggregate: --values needs at least one column")
		}
		funcs, err := aggregate.ParseFuncs(funcNames)
		if err != nil {
			return err
		}
		policy, err := spatial.ParsePolicy(aggPolicy)
		if err != nil {
			return err
		}

		src := aggPoints.source()
		src.LonCol, src.LatCol = aggLonCol, aggLatCol
		points, err := readLayer(ctx, "points", src)
		if err != nil {
			return err
		}
		polys, err := readLayer(ctx, "polygons", aggPolygons.source())
		if err != nil {
			return err
		}

		res, err := aggregate.ByCategoryToPolygon(points, polys, aggregate.Options{
			PolyIDCol:   aggPolyID,
			CategoryCol: aggCategory,
			ValueCols:   values,
			Funcs:       funcs,
			Separator:   aggSeparator,
			Policy:      policy,
		})
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}

		log.Info("aggregated points",
			zap.Int("points", points.Len()),
			zap.Int("polygons", polys.Len()),
			zap.Strings("categories", res.Categories),
			zap.Int("unmatched", res.Unmatched),
		)
		return writeLayer(ctx, cmd.OutOrStdout(), aggOutput, res.Table)
	},
}

func init() {
	aggPoints.bind(aggregateCmd.Flags(), "points", "point layer (shp, geojson, gpkg, csv, xlsx)")
	aggPolygons.bind(aggregateCmd.Flags(), "polygons", "polygon layer (shp, geojson, gpkg)")
	aggregateCmd.Flags().StringVar(&aggLonCol, "lon-col", "", "longitude column of CSV/XLSX points (default: lon)")
	aggregateCmd.Flags().StringVar(&aggLatCol, "lat-col", "", "latitude column of CSV/XLSX points (default: lat)")
	aggregateCmd.Flags().StringVar(&aggPolyID, "poly-id", "", "polygon identifier column")
	aggregateCmd.Flags().StringVar(&aggCategory, "category", "", "point category column")
	aggregateCmd.Flags().StringVar(&aggValues, "values", "", "comma-separated numeric point columns")
	aggregateCmd.Flags().StringVar(&aggFuncs, "funcs", "", "comma-separated functions: sum,count,mean,min,max (default: from config)")
	aggregateCmd.Flags().StringVar(&aggSeparator, "separator", "", "column name separator (default: from config)")
	aggregateCmd.Flags().StringVar(&aggPolicy, "policy", "", "point-in-polygon policy: bounds or precise (default: from config)")
	aggregateCmd.Flags().StringVar(&aggOutput, "output", "", "output file (extension selects the format)")
	rootCmd.AddCommand(aggregateCmd)
}
