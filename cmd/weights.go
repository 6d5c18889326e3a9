package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geostat/internal/feature"
	"github.com/sells-group/geostat/internal/weights"
)

var (
	weightsInput layerFlags
	weightsIDCol string
	weightsKind  string
	weightsK     int
	weightsList  bool
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Build a spatial weights matrix and summarise it",
	Long: `Builds rook, queen or k-nearest-neighbour weights over a polygon layer and
prints the number of observations, mean neighbour count and islands.
--list prints every observation's neighbours.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if weightsKind != "" {
			cfg.Weights.Kind = weightsKind
		}
		if cmd.Flags().Changed("k") {
			cfg.Weights.K = weightsK
		}
		if err := cfg.Validate("weights"); err != nil {
			return err
		}
		if weightsIDCol == "" {
			return eris.New("weights: --id-col is required")
		}

		t, err := readLayer(cmd.Context(), "input", weightsInput.source())
		if err != nil {
			return err
		}
		w, err := weights.Build(t, weights.Kind(cfg.Weights.Kind), weightsIDCol, cfg.Weights.K)
		if err != nil {
			return eris.Wrap(err, "weights")
		}

		printWeights(cmd.OutOrStdout(), w, weightsList)
		return nil
	},
}

func printWeights(out io.Writer, w *weights.Matrix, list bool) {
	links := 0
	for _, nb := range w.Neighbors {
		links += len(nb)
	}
	mean := 0.0
	if w.Len() > 0 {
		mean = float64(links) / float64(w.Len())
	}

	fmt.Fprintf(out, "Kind:            %s\n", w.Kind)
	fmt.Fprintf(out, "Observations:    %d\n", w.Len())
	fmt.Fprintf(out, "Mean neighbours: %.2f\n", mean)

	islands := w.Islands()
	labels := make([]string, len(islands))
	for i, idx := range islands {
		labels[i] = feature.Label(w.IDs[idx])
	}
	fmt.Fprintf(out, "Islands:         %d %s\n", len(islands), strings.Join(labels, " "))

	if !list {
		return
	}
	fmt.Fprintln(out, strings.Repeat("-", 40))
	for i, nb := range w.Neighbors {
		ids := make([]string, len(nb))
		for j, n := range nb {
			ids[j] = feature.Label(w.IDs[n])
		}
		fmt.Fprintf(out, "%s: %s\n", feature.Label(w.IDs[i]), strings.Join(ids, " "))
	}
}

func init() {
	weightsInput.bind(weightsCmd.Flags(), "input", "polygon layer")
	weightsCmd.Flags().StringVar(&weightsIDCol, "id-col", "", "observation identifier column")
	weightsCmd.Flags().StringVar(&weightsKind, "kind", "", "rook, queen or knn (default: from config)")
	weightsCmd.Flags().IntVar(&weightsK, "k", 0, "neighbours for knn (default: from config)")
	weightsCmd.Flags().BoolVar(&weightsList, "list", false, "print every observation's neighbours")
	rootCmd.AddCommand(weightsCmd)
}
