package main

import (
	"strings"

	"github.com/spf13/cobra"

	"photopipe/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the coordinator daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var socket string
			if ctx.socketFlag != nil {
				socket = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				SocketPath: socket,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this process")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var metricsAddr string
	var consumer string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume and execute pipeline jobs in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				MetricsAddr: metricsAddr,
				Consumer:    consumer,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this process")
	cmd.Flags().StringVar(&consumer, "consumer", "", "Override queue.consumer; give each worker on one host its own stable name")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (for example 127.0.0.1:9464)")
	return cmd
}
