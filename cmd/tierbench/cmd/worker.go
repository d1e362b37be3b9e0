package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goflare.io/tierbench"
	"goflare.io/tierbench/internal/worker"
)

// Run one plan read from stdin. Spawned by "run --spawn=process"; stdout
// carries only the result message.
func workerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker plan read from stdin.",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return errors.Wrap(err, "failed to read plan")
			}
			var plan worker.Plan
			if err := json.Unmarshal(data, &plan); err != nil {
				return fail(cmd.OutOrStdout(), -1, errors.Wrap(err, "failed to decode plan"))
			}

			bench, err := tierbench.New(ctx, a.redisOptions(), a.options()...)
			if err != nil {
				return fail(cmd.OutOrStdout(), plan.WorkerID, err)
			}
			defer func() {
				if err := bench.Close(); err != nil {
					a.logger.Warn("Failed to close bench", zap.Error(err))
				}
			}()

			env, err := bench.Env(ctx, plan.CacheMode)
			if err != nil {
				return fail(cmd.OutOrStdout(), plan.WorkerID, err)
			}
			return worker.Serve(ctx, bytes.NewReader(data), cmd.OutOrStdout(), env)
		},
	}
	return cmd
}

// fail reports err to the parent as a worker error message.
func fail(w io.Writer, workerID int, err error) error {
	we := worker.NewWorkerError(workerID, err)
	if encErr := json.NewEncoder(w).Encode(worker.Message{Error: we}); encErr != nil {
		return errors.Wrap(encErr, "failed to write worker message")
	}
	return we
}
