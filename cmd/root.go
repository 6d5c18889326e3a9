package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/config"
)

var (
	cfg   *config.Config
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "geostat",
	Short: "Point-in-polygon aggregation and spatial statistics",
	Long: `Aggregates categorised point observations into polygon layers and derives
per-polygon statistics: communality, relative frequency, Shannon entropy and
local Moran's I. Reads and writes shapefiles, GeoJSON, GeoPackage, CSV and
XLSX, and can read layers straight from PostGIS.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		runID = uuid.New().String()

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// cmdLog returns the global logger tagged with the command path and run id.
func cmdLog(cmd *cobra.Command) *zap.Logger {
	return zap.L().With(
		zap.String("command", cmd.CommandPath()),
		zap.String("run_id", runID),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
