package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/app"
	"agdt/internal/domain"
	"agdt/internal/errs"
	"agdt/internal/repo"
	"agdt/internal/tui"
)

func (c *cli) taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect background tasks"}
	cmd.AddCommand(c.taskStatusCmd())
	cmd.AddCommand(c.taskLogCmd())
	cmd.AddCommand(c.taskWaitCmd())
	cmd.AddCommand(c.taskListCmd())
	cmd.AddCommand(c.taskWatchCmd())
	cmd.AddCommand(c.taskExecCmd())
	return cmd
}

func (c *cli) taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show a task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Inspector.Status(args[0])
				if err != nil {
					return err
				}
				return c.printTask(rec)
			})
		},
	}
}

func (c *cli) taskLogCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print a task log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				text, err := a.Inspector.Log(args[0], tail)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(map[string]string{"id": args[0], "log": text})
				}
				c.printf("%s", text)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "only the last N lines")
	return cmd
}

func (c *cli) taskWaitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Wait for a task to finish",
		Long:  "Exits 0 when the task succeeded or is still running at the timeout, and 5 when it failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("timeout") {
					timeout = a.Config.Timeouts.Wait.Std()
				}
				rec, err := a.Inspector.Wait(ctx, args[0], timeout)
				if err != nil {
					return err
				}
				if err := c.printTask(rec); err != nil {
					return err
				}
				return taskOutcome(rec)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default from config)")
	return cmd
}

func (c *cli) taskListCmd() *cobra.Command {
	var status, command string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.TaskStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := listTasks(ctx, a, repo.TaskFilters{Status: status, Command: command, Limit: limit})
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, rec := range items {
					rows = append(rows, table.Row{rec.ID, rec.Command, rec.Status, rec.CreatedAt, rec.Error})
				}
				c.printTable(table.Row{"ID", "Action", "Status", "Created", "Error"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&command, "action", "", "filter by action name")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

// listTasks reads the ledger index, or scans the task directory when the
// ledger is unavailable.
func listTasks(ctx context.Context, a *app.App, f repo.TaskFilters) ([]domain.TaskRecord, error) {
	if a.Ledger != nil {
		return a.Ledger.Repo.ListTasks(ctx, f)
	}
	all, err := a.Records.List()
	if err != nil {
		return nil, err
	}
	var out []domain.TaskRecord
	for _, rec := range all {
		if (f.Status != "" && string(rec.Status) != f.Status) || (f.Command != "" && rec.Command != f.Command) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (c *cli) taskWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a task until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := tui.Run(ctx, a.Inspector, args[0], a.Config.Timeouts.PollInterval.Std(), c.in, c.out)
				if err != nil {
					return err
				}
				return taskOutcome(rec)
			})
		},
	}
}

func (c *cli) taskExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "exec <id>",
		Short:  "Run a pending task (used by the background spawner)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				_, err := a.Runner(nil).Execute(ctx, args[0])
				return err
			})
		},
	}
}

func (c *cli) printTask(rec domain.TaskRecord) error {
	if c.jsonOutput() {
		return c.printJSON(rec)
	}
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.AppendRow(table.Row{"ID", rec.ID})
	t.AppendRow(table.Row{"Action", rec.Command})
	t.AppendRow(table.Row{"Status", rec.Status})
	t.AppendRow(table.Row{"Created", rec.CreatedAt})
	if rec.StartedAt != nil {
		t.AppendRow(table.Row{"Started", *rec.StartedAt})
	}
	if rec.FinishedAt != nil {
		t.AppendRow(table.Row{"Finished", *rec.FinishedAt})
	}
	t.AppendRow(table.Row{"Log", rec.LogPath})
	if rec.ResultPath != "" {
		t.AppendRow(table.Row{"Result", rec.ResultPath})
	}
	if rec.Error != "" {
		t.AppendRow(table.Row{"Error", rec.Error})
	}
	t.Render()
	return nil
}

// taskOutcome turns a failed record into an error carrying exit code 5.
func taskOutcome(rec domain.TaskRecord) error {
	if rec.Status == domain.TaskFailed {
		return &errs.TaskFailedError{ID: rec.ID, Reason: rec.Error}
	}
	return nil
}
