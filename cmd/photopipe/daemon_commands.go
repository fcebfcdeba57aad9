package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photopipe/internal/daemonctl"
	"photopipe/internal/ipc"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the coordinator, launching the daemon if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonctl.LaunchOptions{SocketPath: ctx.socketPath(), ConfigPath: ctx.configPath()},
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Coordinator started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Coordinator already running")
			default:
				fmt.Fprintln(stdout, result.Message)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the coordinator loop (the daemon keeps serving IPC and the API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				if resp.Stopped {
					fmt.Fprintln(cmd.OutOrStdout(), "Coordinator stopped")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Stop request sent")
				}
				return nil
			})
		},
	}

	shutdownCmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the coordinator and terminate the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Terminate(ctx.socketPath(), ctx.configValue().PIDPath(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.statusSnapshot(cmd)
			if err != nil {
				return err
			}
			return ctx.render(cmd, status, func(w io.Writer) error {
				printStatus(w, status, shouldColorize(w))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, shutdownCmd, statusCmd}
}

// statusSnapshot asks the daemon for status and falls back to counting tasks
// in the store when no daemon answers.
func (c *commandContext) statusSnapshot(cmd *cobra.Command) (*ipc.StatusResponse, error) {
	client, err := ipc.Dial(c.socketPath())
	if err == nil {
		defer client.Close()
		return client.Status()
	}
	if !daemonctl.IsUnavailable(err) {
		return nil, wrapDialError(err, c.socketPath())
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	status := &ipc.StatusResponse{
		StoreBackend: cfg.Store.Backend,
		LockPath:     cfg.LockPath(),
	}
	err = c.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
		tasks, err := store.ListTasks(cmd.Context()).Unwrap()
		if err != nil {
			return err
		}
		status.TaskCounts = make(map[string]int)
		for _, task := range tasks {
			status.TaskCounts[task.Step.String()]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func printStatus(w io.Writer, status *ipc.StatusResponse, colorize bool) {
	renderSectionHeader(w, "Daemon", colorize)
	switch {
	case status.PID == 0:
		fmt.Fprintln(w, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	case status.Running:
		fmt.Fprintln(w, renderStatusLine("Coordinator", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
	default:
		fmt.Fprintln(w, renderStatusLine("Coordinator", statusWarn, "stopped (pid "+strconv.Itoa(status.PID)+")", colorize))
	}
	if status.PID != 0 {
		cycles := fmt.Sprintf("%d cycles", status.Coordinator.Cycles)
		if last := status.Coordinator.LastCycle; last != nil {
			cycles += fmt.Sprintf(", last %s: %d tasks, %d jobs, %d errors",
				last.StartedAt.Local().Format(time.TimeOnly), last.Tasks, last.JobsSent, last.Errors)
		}
		fmt.Fprintln(w, renderStatusLine("Cycles", statusInfo, cycles, colorize))
		if msg := strings.TrimSpace(status.Coordinator.LastError); msg != "" {
			fmt.Fprintln(w, renderStatusLine("Last error", statusError, msg, colorize))
		}
	}
	store := status.StoreBackend
	if status.DatabasePath != "" {
		store += " (" + status.DatabasePath + ")"
	}
	fmt.Fprintln(w, renderStatusLine("Store", statusInfo, store, colorize))
	if q := status.Queue; q != nil {
		if q.Error != "" {
			fmt.Fprintln(w, renderStatusLine("Queue", statusError, q.Error, colorize))
		} else {
			fmt.Fprintln(w, renderStatusLine("Queue", statusOK,
				fmt.Sprintf("%s: %d entries, %d pending", q.Stream, q.Length, q.Pending), colorize))
		}
	}
	fmt.Fprintln(w)

	renderSectionHeader(w, "Tasks", colorize)
	rows := make([][]string, 0, len(pipeline.Steps))
	for _, step := range pipeline.Steps {
		if count := status.TaskCounts[step.String()]; count > 0 {
			rows = append(rows, []string{step.String(), strconv.Itoa(count)})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No tasks")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Step", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}
