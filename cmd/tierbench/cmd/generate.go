package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/tierbench/internal/workload"
)

// Write a generated workload to a YAML file for later runs.
func generateCmd(a *app) *cobra.Command {
	var (
		workers    int
		strategies int
		seed       uint64
		out        string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a workload file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := workload.NewGenerator(seed, workers, nil)
			if err != nil {
				return err
			}
			units := gen.Generate(strategies, workload.AllWorkers)
			stats := workload.Describe(units)

			if err := workload.WriteFile(out, workload.File{
				Seed:    seed,
				Workers: workers,
				Stats:   stats,
				Units:   units,
			}); err != nil {
				return err
			}
			a.logger.Info("Workload written",
				zap.String("path", out),
				zap.Int("strategies", stats.Total),
				zap.Int("unique_instruments", stats.UniqueInstruments))

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Strategies:          %d\n", stats.Total)
			fmt.Fprintf(w, "Unique instruments:  %d\n", stats.UniqueInstruments)
			fmt.Fprintf(w, "Instrument slots:    %d\n", stats.InstrumentRefs)
			fmt.Fprintf(w, "Lookback range:      %d-%d\n", stats.MinLookback, stats.MaxLookback)
			fmt.Fprintf(w, "Written to %s\n", out)
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&workers, "workers", 4, "number of workers the instrument groups are split for")
	f.IntVar(&strategies, "strategies", 500, "number of strategies")
	f.Uint64Var(&seed, "seed", 42, "generator seed")
	f.StringVar(&out, "out", "workload.yaml", "output file")
	return cmd
}
