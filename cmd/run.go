package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geostat/internal/recipe"
)

var (
	runRecipe string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a YAML recipe end to end",
	Long: `Loads the point and polygon inputs of a recipe in parallel (files or PostGIS
queries), optionally tessellates the polygons into H3 cells, aggregates,
applies the metric steps in order and writes the output.

Example:
  geostat run --recipe recipes/visits.yaml
  geostat run --recipe recipes/visits.yaml --dry-run`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runRecipe == "" {
			return eris.New("run: --recipe is required")
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		r, err := recipe.Load(runRecipe, cfg)
		if err != nil {
			return err
		}

		dest := r.Output
		if r.OutputTable != nil {
			dest = strings.TrimPrefix(dest+", "+r.OutputTable.Table, ", ")
		}

		out := cmd.OutOrStdout()
		if runDryRun {
			fmt.Fprintf(out, "Recipe %q is valid: %d metric steps, output %s\n", r.Name, len(r.Metrics), dest)
			return nil
		}

		var opts []recipe.Option
		if r.UsesPostGIS() {
			pool, err := databasePool(ctx)
			if err != nil {
				return eris.Wrap(err, "run")
			}
			defer pool.Close()
			opts = append(opts, recipe.WithPool(pool))
		}

		res, err := recipe.Run(ctx, r, opts...)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Run %s: %d rows, %d categories, %d unmatched points -> %s\n",
			res.RunID, res.Table.Len(), len(res.Aggregate.Categories), res.Aggregate.Unmatched, dest)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runRecipe, "recipe", "", "path to the recipe YAML")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "validate the recipe without running it")
	rootCmd.AddCommand(runCmd)
}
