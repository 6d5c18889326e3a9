package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/hexgrid"
)

var (
	hexInput      layerFlags
	hexResolution int
	hexOutput     string
)

var hexgridCmd = &cobra.Command{
	Use:   "hexgrid",
	Short: "Tessellate polygons into H3 hexagons",
	Long: `Fills every polygon with the H3 cells whose centres fall inside it and writes
one hexagon per (polygon, cell) in EPSG:4326, carrying the polygon's
attributes plus h3_id and h3_resolution.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("resolution") {
			cfg.Hexgrid.Resolution = hexResolution
		}
		if err := cfg.Validate("hexgrid"); err != nil {
			return err
		}

		polys, err := readLayer(ctx, "input", hexInput.source())
		if err != nil {
			return err
		}
		out, err := hexgrid.Generate(polys, cfg.Hexgrid.Resolution)
		if err != nil {
			return eris.Wrap(err, "hexgrid")
		}

		cmdLog(cmd).Info("generated hexagons",
			zap.Int("polygons", polys.Len()),
			zap.Int("cells", out.Len()),
			zap.Int("resolution", cfg.Hexgrid.Resolution),
		)
		return writeLayer(ctx, cmd.OutOrStdout(), hexOutput, out)
	},
}

func init() {
	hexInput.bind(hexgridCmd.Flags(), "input", "polygon layer to tessellate")
	hexgridCmd.Flags().IntVar(&hexResolution, "resolution", 0, "H3 resolution 0-15 (default: from config)")
	hexgridCmd.Flags().StringVar(&hexOutput, "output", "", "output file")
	rootCmd.AddCommand(hexgridCmd)
}
