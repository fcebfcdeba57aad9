package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"photopipe/internal/daemonctl"
	"photopipe/internal/ipc"
	"photopipe/internal/pipeline"
	"photopipe/internal/taskstore"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage photogrammetry tasks",
	}

	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskGetCommand(ctx))
	taskCmd.AddCommand(newTaskUpdateCommand(ctx))
	taskCmd.AddCommand(newTaskDeleteCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskRestartCommand(ctx))
	taskCmd.AddCommand(newTaskIDCommand(ctx, "next-id", "Reserve and print the next task id", (*taskstore.Adapter).NextTaskID))
	taskCmd.AddCommand(newTaskIDCommand(ctx, "latest-id", "Print the most recently assigned task id", (*taskstore.Adapter).LatestTaskID))

	return taskCmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var id int64
	var noColorChecker bool
	var noRaw bool

	cmd := &cobra.Command{
		Use:   "add <location>",
		Short: "Register a task folder at Not Started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := absoluteLocation(args[0])
			if err != nil {
				return err
			}
			task := pipeline.NewTask(location)
			task.ID = id
			task.Requirements.NeedsColorChecker = !noColorChecker
			task.Requirements.NeedsRawImages = !noRaw

			return ctx.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
				res := store.AddTask(cmd.Context(), task)
				return renderTaskResult(ctx, cmd, res)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Explicit task id (defaults to the next free id)")
	cmd.Flags().BoolVar(&noColorChecker, "no-color-checker", false, "The capture has no color checker; skip color calibration")
	cmd.Flags().BoolVar(&noRaw, "no-raw", false, "The capture has no raw images; skip raw conversion")
	return cmd
}

func newTaskGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
				return renderTaskResult(ctx, cmd, store.GetTask(cmd.Context(), id))
			})
		},
	}
}

func newTaskUpdateCommand(ctx *commandContext) *cobra.Command {
	var location string
	var step int
	var inProgress bool
	var colorChecker bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a stored task",
		Long:  "Only the flags given are applied; every other field keeps its stored value.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			return ctx.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
				task, err := store.GetTask(cmd.Context(), id).Unwrap()
				if err != nil {
					return err
				}
				if flags.Changed("location") {
					if task.Location, err = absoluteLocation(location); err != nil {
						return err
					}
				}
				if flags.Changed("step") {
					idx, err := pipeline.ParseStepIndex(step)
					if err != nil {
						return err
					}
					task.Step = idx
					task.ClearProgress()
				}
				if flags.Changed("in-progress") {
					task.StepInProgress = inProgress
				}
				if flags.Changed("color-checker") {
					task.Requirements.NeedsColorChecker = colorChecker
				}
				if flags.Changed("raw") {
					task.Requirements.NeedsRawImages = raw
				}
				return renderTaskResult(ctx, cmd, store.UpdateTask(cmd.Context(), task))
			})
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "New task folder")
	cmd.Flags().IntVar(&step, "step", 0, "Move the task to this step index (0-5); clears the in-progress flag")
	cmd.Flags().BoolVar(&inProgress, "in-progress", false, "Set or clear the in-progress flag")
	cmd.Flags().BoolVar(&colorChecker, "color-checker", true, "Whether the capture has a color checker")
	cmd.Flags().BoolVar(&raw, "raw", true, "Whether the capture has raw images")
	return cmd
}

func newTaskDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a task record (the folder is left untouched)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
				res := store.DeleteTask(cmd.Context(), id)
				if _, err := res.Unwrap(); err != nil {
					return err
				}
				return ctx.render(cmd, res, func(w io.Writer) error {
					fmt.Fprintf(w, "%s %d\n", res.Message, res.Data)
					return nil
				})
			})
		},
	}
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var steps []int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by step index",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := ctx.listTasks(cmd, steps)
			if err != nil {
				return err
			}
			res := taskstore.Result[[]pipeline.Task]{
				Status:  taskstore.StatusSuccess,
				Data:    tasks,
				Message: "Returned task list",
			}
			return ctx.render(cmd, res, func(w io.Writer) error {
				if len(tasks) == 0 {
					fmt.Fprintln(w, "No tasks")
					return nil
				}
				fmt.Fprint(w, renderTaskTable(tasks))
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&steps, "step", nil, "Only show tasks at these step indexes (repeatable)")
	return cmd
}

func newTaskRestartCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "restart [id]",
		Short: "Reset a task, or every task with --all, to Not Started",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("pass either a task id or --all, not both")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("a task id is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if !all {
				var err error
				if id, err = parseTaskID(args[0]); err != nil {
					return err
				}
			}
			res, err := ctx.restartTasks(cmd, id, all)
			if err != nil {
				return err
			}
			return ctx.render(cmd, res, func(w io.Writer) error {
				if all {
					fmt.Fprintf(w, "%s (%d reset)\n", res.Message, res.Data)
				} else {
					fmt.Fprintf(w, "%s %d\n", res.Message, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Restart every task")
	return cmd
}

func newTaskIDCommand(ctx *commandContext, use, short string, op func(*taskstore.Adapter, context.Context) taskstore.Result[int64]) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
				res := op(store, cmd.Context())
				if _, err := res.Unwrap(); err != nil {
					return err
				}
				return ctx.render(cmd, res, func(w io.Writer) error {
					fmt.Fprintln(w, res.Data)
					return nil
				})
			})
		},
	}
}

// listTasks goes through the daemon when it answers and reads the store
// directly otherwise.
func (c *commandContext) listTasks(cmd *cobra.Command, steps []int) ([]pipeline.Task, error) {
	client, err := ipc.Dial(c.socketPath())
	if err == nil {
		defer client.Close()
		resp, err := client.TaskList(steps)
		if err != nil {
			return nil, err
		}
		return resp.Tasks, nil
	}
	if !daemonctl.IsUnavailable(err) {
		return nil, wrapDialError(err, c.socketPath())
	}

	wanted := make(map[pipeline.StepIndex]bool, len(steps))
	for _, raw := range steps {
		idx, err := pipeline.ParseStepIndex(raw)
		if err != nil {
			return nil, err
		}
		wanted[idx] = true
	}
	var tasks []pipeline.Task
	err = c.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
		all, err := store.ListTasks(cmd.Context()).Unwrap()
		if err != nil {
			return err
		}
		for _, task := range all {
			if len(wanted) == 0 || wanted[task.Step] {
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	return tasks, err
}

func (c *commandContext) restartTasks(cmd *cobra.Command, id int64, all bool) (taskstore.Result[int64], error) {
	client, err := ipc.Dial(c.socketPath())
	if err == nil {
		defer client.Close()
		resp, err := client.TaskRestart(id, all)
		if err != nil {
			return taskstore.Result[int64]{}, err
		}
		return taskstore.Result[int64]{Status: taskstore.StatusSuccess, Data: resp.Restarted, Message: resp.Message}, nil
	}
	if !daemonctl.IsUnavailable(err) {
		return taskstore.Result[int64]{}, wrapDialError(err, c.socketPath())
	}

	var res taskstore.Result[int64]
	err = c.withStore(cmd.Context(), func(store *taskstore.Adapter) error {
		res = store.RestartTask(cmd.Context(), taskstore.RestartRequest{TaskID: id, All: all})
		_, err := res.Unwrap()
		return err
	})
	return res, err
}

func renderTaskResult(ctx *commandContext, cmd *cobra.Command, res taskstore.Result[pipeline.Task]) error {
	task, err := res.Unwrap()
	if err != nil {
		return err
	}
	return ctx.render(cmd, res, func(w io.Writer) error {
		fmt.Fprintln(w, res.Message)
		fmt.Fprint(w, renderTaskDetail(task))
		return nil
	})
}

func renderTaskTable(tasks []pipeline.Task) string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.Step.String(),
			yesNo(task.StepInProgress),
			strconv.Itoa(task.Attempts),
			task.Location,
			formatTime(task.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Step", "In Progress", "Attempts", "Location", "Updated"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func renderTaskDetail(task pipeline.Task) string {
	rows := [][]string{
		{"ID", strconv.FormatInt(task.ID, 10)},
		{"Location", task.Location},
		{"Step", fmt.Sprintf("%s (%d)", task.Step, int(task.Step))},
		{"In Progress", yesNo(task.StepInProgress)},
		{"Color Checker", yesNo(task.Requirements.NeedsColorChecker)},
		{"Raw Images", yesNo(task.Requirements.NeedsRawImages)},
		{"Attempts", strconv.Itoa(task.Attempts)},
	}
	if task.LastError != "" {
		rows = append(rows, []string{"Last Error", task.LastError})
	}
	if task.DispatchedAt != nil {
		rows = append(rows, []string{"Dispatched", formatTime(*task.DispatchedAt)})
	}
	if task.HeartbeatAt != nil {
		rows = append(rows, []string{"Heartbeat", formatTime(*task.HeartbeatAt)})
	}
	rows = append(rows,
		[]string{"Created", formatTime(task.CreatedAt)},
		[]string{"Updated", formatTime(task.UpdatedAt)},
	)
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func parseTaskID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", value)
	}
	return id, nil
}

func absoluteLocation(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("location is required")
	}
	return filepath.Abs(value)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}
