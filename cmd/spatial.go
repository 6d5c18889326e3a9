package main

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/spatial"
)

var (
	assignPoints   layerFlags
	assignPolygons layerFlags
	assignIDCol    string
	assignAttrs    string
	assignPolicy   string
	assignOutput   string
)

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Tag points with the polygon that contains them",
	Long: `Adds the containing polygon's identifier to every point. With --attrs the
listed polygon columns are copied onto the points as well. Points outside
every polygon are kept with null values.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if assignPolicy == "" {
			assignPolicy = cfg.Aggregate.Policy
		}
		if err := cfg.Validate("assign"); err != nil {
			return err
		}
		if assignIDCol == "" {
			return eris.New("assign: --poly-id is required")
		}
		policy, err := spatial.ParsePolicy(assignPolicy)
		if err != nil {
			return err
		}

		points, err := readLayer(ctx, "points", assignPoints.source())
		if err != nil {
			return err
		}
		polys, err := readLayer(ctx, "polygons", assignPolygons.source())
		if err != nil {
			return err
		}

		var out *feature.Table
		if attrs := splitAndTrim(assignAttrs); len(attrs) > 0 {
			out, err = spatial.GiveAttributesToPoints(points, polys, assignIDCol, attrs, spatial.WithPolicy(policy))
		} else {
			out, err = spatial.AssignPoints(points, polys, assignIDCol, spatial.WithPolicy(policy))
		}
		if err != nil {
			return eris.Wrap(err, "assign")
		}

		cmdLog(cmd).Info("assigned points", zap.Int("points", out.Len()), zap.String("policy", policy.String()))
		return writeLayer(ctx, cmd.OutOrStdout(), assignOutput, out)
	},
}

var (
	isolateInput   layerFlags
	isolateDest    layerFlags
	isolateInputID string
	isolateDestID  string
	isolateRow     string
	isolateOutput  string
)

var isolateCmd = &cobra.Command{
	Use:   "isolate",
	Short: "Select polygons whose centroid falls in one destination polygon",
	Long: `Keeps the --input polygons whose centroid intersects the --dest polygon with
--dest-id equal to --row. Output geometries are reprojected to the
destination CRS.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if isolateInputID == "" || isolateDestID == "" || isolateRow == "" {
			return eris.New("isolate: --input-id, --dest-id and --row are required")
		}

		input, err := readLayer(ctx, "input", isolateInput.source())
		if err != nil {
			return err
		}
		dest, err := readLayer(ctx, "dest", isolateDest.source())
		if err != nil {
			return err
		}

		out, err := spatial.IsolateByCentroid(input, isolateInputID, dest, isolateDestID, destRowID(dest, isolateDestID, isolateRow))
		if err != nil {
			return eris.Wrap(err, "isolate")
		}

		cmdLog(cmd).Info("isolated polygons",
			zap.String("row", isolateRow),
			zap.Int("input", input.Len()),
			zap.Int("kept", out.Len()),
		)
		return writeLayer(ctx, cmd.OutOrStdout(), isolateOutput, out)
	},
}

// destRowID returns the first value of col whose label matches raw, so a
// numeric identifier read from a file is found from its flag text. Other
// numeric text (e.g. "5.0") falls back to a float; anything else is
// returned unchanged.
func destRowID(dest *feature.Table, col, raw string) any {
	if !dest.HasColumn(col) {
		return raw
	}
	for i := 0; i < dest.Len(); i++ {
		if v := dest.Value(i, col); v != nil && feature.Label(v) == raw {
			return v
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

var (
	transferInput  layerFlags
	transferDest   layerFlags
	transferAttrs  string
	transferOutput string
)

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Copy destination attributes onto polygons by centroid",
	Long: `For every --input polygon, copies --attrs from the first --dest polygon that
contains its centroid. Polygons with no such destination get nulls.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		attrs := splitAndTrim(transferAttrs)
		if len(attrs) == 0 {
			return eris.New("transfer: --attrs needs at least one column")
		}

		input, err := readLayer(ctx, "input", transferInput.source())
		if err != nil {
			return err
		}
		dest, err := readLayer(ctx, "dest", transferDest.source())
		if err != nil {
			return err
		}

		out, err := spatial.TransferAttributesByCentroid(input, dest, attrs)
		if err != nil {
			return eris.Wrap(err, "transfer")
		}

		cmdLog(cmd).Info("transferred attributes", zap.Strings("attrs", attrs), zap.Int("rows", out.Len()))
		return writeLayer(ctx, cmd.OutOrStdout(), transferOutput, out)
	},
}

func init() {
	assignPoints.bind(assignCmd.Flags(), "points", "point layer")
	assignPolygons.bind(assignCmd.Flags(), "polygons", "polygon layer")
	assignCmd.Flags().StringVar(&assignIDCol, "poly-id", "", "polygon identifier column")
	assignCmd.Flags().StringVar(&assignAttrs, "attrs", "", "comma-separated polygon columns to copy onto points")
	assignCmd.Flags().StringVar(&assignPolicy, "policy", "", "bounds or precise (default: from config)")
	assignCmd.Flags().StringVar(&assignOutput, "output", "", "output file")

	isolateInput.bind(isolateCmd.Flags(), "input", "polygons to filter")
	isolateDest.bind(isolateCmd.Flags(), "dest", "destination polygons")
	isolateCmd.Flags().StringVar(&isolateInputID, "input-id", "", "identifier column of --input")
	isolateCmd.Flags().StringVar(&isolateDestID, "dest-id", "", "identifier column of --dest")
	isolateCmd.Flags().StringVar(&isolateRow, "row", "", "destination identifier to isolate")
	isolateCmd.Flags().StringVar(&isolateOutput, "output", "", "output file")

	transferInput.bind(transferCmd.Flags(), "input", "polygons receiving attributes")
	transferDest.bind(transferCmd.Flags(), "dest", "polygons providing attributes")
	transferCmd.Flags().StringVar(&transferAttrs, "attrs", "", "comma-separated columns of --dest to copy")
	transferCmd.Flags().StringVar(&transferOutput, "output", "", "output file")

	rootCmd.AddCommand(assignCmd, isolateCmd, transferCmd)
}
