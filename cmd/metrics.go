package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/metrics"
	"github.com/sells-group/geostat/internal/weights"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Derive per-polygon statistics from an aggregated layer",
}

// Shared by every metrics subcommand.
var (
	metricsInput  layerFlags
	metricsOutput string
	metricsSuffix string
)

// runMetric reads --input, applies fn and writes --output.
func runMetric(cmd *cobra.Command, fn func(t *feature.Table) (*feature.Table, error)) error {
	ctx := cmd.Context()
	if err := cfg.Validate("metrics"); err != nil {
		return err
	}
	t, err := readLayer(ctx, "input", metricsInput.source())
	if err != nil {
		return err
	}
	out, err := fn(t)
	if err != nil {
		return eris.Wrap(err, cmd.Name())
	}
	cmdLog(cmd).Info("computed metric", zap.Int("rows", out.Len()))
	return writeLayer(ctx, cmd.OutOrStdout(), metricsOutput, out)
}

var (
	communalityUsers  string
	communalityVisits string
)

var communalityCmd = &cobra.Command{
	Use:   "communality",
	Short: "Add visits_per_user and communality columns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if communalityUsers == "" || communalityVisits == "" {
			return eris.New("communality: --users and --visits are required")
		}
		return runMetric(cmd, func(t *feature.Table) (*feature.Table, error) {
			return metrics.Communality(t, communalityUsers, communalityVisits, metrics.WithSuffix(metricsSuffix))
		})
	},
}

var relfreqColumns string

var relfreqCmd = &cobra.Command{
	Use:   "relfreq",
	Short: "Add rel_freq_<col> and num_cat_cols_with_value columns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cols := splitAndTrim(relfreqColumns)
		if len(cols) == 0 {
			return eris.New("relfreq: --columns needs at least one column")
		}
		return runMetric(cmd, func(t *feature.Table) (*feature.Table, error) {
			return metrics.RelativeFrequency(t, cols)
		})
	},
}

var (
	entropyColumns  string
	entropyBase     float64
	entropyWeighted bool
)

var entropyCmd = &cobra.Command{
	Use:   "entropy",
	Short: "Add a shannon_entropy column",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cols := splitAndTrim(entropyColumns)
		if len(cols) == 0 {
			return eris.New("entropy: --columns needs at least one column")
		}
		if cmd.Flags().Changed("base") {
			cfg.Metrics.EntropyBase = entropyBase
		}
		return runMetric(cmd, func(t *feature.Table) (*feature.Table, error) {
			if entropyWeighted {
				return metrics.ShannonEntropyLocalWeighted(t, cols, cfg.Metrics.EntropyBase, metrics.WithSuffix(metricsSuffix))
			}
			return metrics.ShannonEntropy(t, cols, cfg.Metrics.EntropyBase, metrics.WithSuffix(metricsSuffix))
		})
	},
}

var (
	moranColumn       string
	moranIDCol        string
	moranWeights      string
	moranK            int
	moranPermutations int
	moranSeed         uint64
	moranSignificance float64
)

var moranCmd = &cobra.Command{
	Use:   "moran",
	Short: "Add local Moran's I columns",
	Long: `Computes local Moran's I of --column with conditional permutation inference
and adds local_moran_quad, local_moran_Is and local_moran_p_sim. Quadrants
are 1 HH, 2 LH, 3 LL and 4 HL; rows with p above --significance get 0.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if moranColumn == "" || moranIDCol == "" {
			return eris.New("moran: --column and --id-col are required")
		}
		flags := cmd.Flags()
		if moranWeights != "" {
			cfg.Weights.Kind = moranWeights
		}
		if flags.Changed("k") {
			cfg.Weights.K = moranK
		}
		if flags.Changed("permutations") {
			cfg.Metrics.Moran.Permutations = moranPermutations
		}
		if flags.Changed("seed") {
			cfg.Metrics.Moran.Seed = moranSeed
		}
		if flags.Changed("significance") {
			cfg.Metrics.Moran.Significance = moranSignificance
		}
		if err := cfg.Validate("weights"); err != nil {
			return err
		}

		return runMetric(cmd, func(t *feature.Table) (*feature.Table, error) {
			w, err := weights.Build(t, weights.Kind(cfg.Weights.Kind), moranIDCol, cfg.Weights.K)
			if err != nil {
				return nil, err
			}
			return metrics.LocalMoran(t, moranColumn, w,
				metrics.WithSuffix(metricsSuffix),
				metrics.WithPermutations(cfg.Metrics.Moran.Permutations),
				metrics.WithSeed(cfg.Metrics.Moran.Seed),
				metrics.WithSignificance(cfg.Metrics.Moran.Significance),
			)
		})
	},
}

func init() {
	metricsInput.bind(metricsCmd.PersistentFlags(), "input", "aggregated polygon layer")
	metricsCmd.PersistentFlags().StringVar(&metricsOutput, "output", "", "output file")
	metricsCmd.PersistentFlags().StringVar(&metricsSuffix, "suffix", "", "suffix appended to generated column names")

	communalityCmd.Flags().StringVar(&communalityUsers, "users", "", "users column")
	communalityCmd.Flags().StringVar(&communalityVisits, "visits", "", "visits column")

	relfreqCmd.Flags().StringVar(&relfreqColumns, "columns", "", "comma-separated category columns")

	entropyCmd.Flags().StringVar(&entropyColumns, "columns", "", "comma-separated category columns")
	entropyCmd.Flags().Float64Var(&entropyBase, "base", 0, "logarithm base (default: from config)")
	entropyCmd.Flags().BoolVar(&entropyWeighted, "weighted", false, "scale by the share of non-zero columns")

	moranCmd.Flags().StringVar(&moranColumn, "column", "", "numeric column to test")
	moranCmd.Flags().StringVar(&moranIDCol, "id-col", "", "polygon identifier column")
	moranCmd.Flags().StringVar(&moranWeights, "weights", "", "rook, queen or knn (default: from config)")
	moranCmd.Flags().IntVar(&moranK, "k", 0, "neighbours for knn (default: from config)")
	moranCmd.Flags().IntVar(&moranPermutations, "permutations", 0, "conditional permutations (default: from config)")
	moranCmd.Flags().Uint64Var(&moranSeed, "seed", 0, "permutation seed (default: from config)")
	moranCmd.Flags().Float64Var(&moranSignificance, "significance", 0, "p-value threshold for quadrants (default: from config)")

	metricsCmd.AddCommand(communalityCmd, relfreqCmd, entropyCmd, moranCmd)
	rootCmd.AddCommand(metricsCmd)
}
