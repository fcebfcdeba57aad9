package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"photopipe/internal/daemonrun"
	"photopipe/internal/jobqueue"
	"photopipe/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify directories, templates, tools, the task store, and Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			probes := []preflight.Probe{
				{
					Name: "Task store",
					Check: func(probeCtx context.Context) error {
						store, err := daemonrun.OpenStore(probeCtx, cfg, nil)
						if err != nil {
							return err
						}
						defer store.Close()
						return store.Ping(probeCtx)
					},
				},
				{
					Name: "Job queue",
					Check: func(probeCtx context.Context) error {
						queue := jobqueue.NewFromConfig(cfg, nil)
						defer queue.Close()
						return queue.Ping(probeCtx)
					},
				},
			}
			results := preflight.RunAll(cmd.Context(), cfg, probes...)

			if err := ctx.render(cmd, results, func(w io.Writer) error {
				colorize := shouldColorize(w)
				renderSectionHeader(w, "Preflight", colorize)
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(w, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
				return nil
			}); err != nil {
				return err
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
}
