package main

import (
	"github.com/spf13/cobra"

	"photopipe/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:       "logs [coordinator|worker|task <id>]",
		Short:     "Show coordinator, worker, or per-task logs",
		Args:      cobra.RangeArgs(0, 2),
		ValidArgs: []string{logs.SourceCoordinator, logs.SourceWorker, logs.SourceTask},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			source := logs.SourceCoordinator
			if len(args) > 0 {
				source = args[0]
			}
			var taskID int64
			if len(args) > 1 {
				if taskID, err = parseTaskID(args[1]); err != nil {
					return err
				}
			}
			path, err := logs.Path(cfg.Paths.LogDir, source, taskID)
			if err != nil {
				return err
			}
			return logs.Tail(cmd.Context(), path, cmd.OutOrStdout(), logs.TailOptions{Lines: lines, Follow: follow})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	return cmd
}
