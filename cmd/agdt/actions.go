package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/actions"
	"agdt/internal/app"
	"agdt/internal/domain"
	"agdt/internal/tasks"
)

var serviceNames = map[string]string{
	"jira":   "Jira issue actions",
	"azdo":   "Azure DevOps pull request actions",
	"github": "GitHub pull request and issue actions",
}

// runFlags control how an action is executed.
type runFlags struct {
	wait       bool
	foreground bool
	timeout    time.Duration
	sets       []string
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.wait, "wait", false, "block until the task finishes")
	cmd.Flags().BoolVar(&f.foreground, "foreground", false, "run in this process instead of spawning a worker")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "with --wait, give up after this long (default from config)")
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "override a state key for this run only (key=value)")
}

// serviceCmd groups the registered actions of one service, e.g.
// `agdt jira fetch-issue`.
func (c *cli) serviceCmd(service string) *cobra.Command {
	cmd := &cobra.Command{Use: service, Short: serviceNames[service]}
	for _, a := range actions.Default().List() {
		name, ok := strings.CutPrefix(a.Name, service+".")
		if !ok {
			continue
		}
		cmd.AddCommand(c.actionCmd(name, a))
	}
	return cmd
}

func (c *cli) actionCmd(use string, a *actions.Action) *cobra.Command {
	var flags runFlags
	long := a.Summary
	if len(a.Requires) > 0 {
		long += "\n\nRequired state: " + strings.Join(a.Requires, ", ")
	}
	if len(a.Optional) > 0 {
		long += "\nOptional state: " + strings.Join(a.Optional, ", ")
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: a.Summary,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAction(cmd.Context(), a.Name, flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

// runCmd runs any action by its full name.
func (c *cli) runCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <action> [key=value...]",
		Short: "Run an action by name",
		Long:  "Run an action by its full name (see agdt run --list). Trailing key=value pairs override state for this run.",
		Args: func(cmd *cobra.Command, args []string) error {
			if list, _ := cmd.Flags().GetBool("list"); list {
				return nil
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if list, _ := cmd.Flags().GetBool("list"); list {
				return c.listActions()
			}
			flags.sets = append(flags.sets, args[1:]...)
			return c.runAction(cmd.Context(), args[0], flags)
		},
	}
	cmd.Flags().Bool("list", false, "list the available actions")
	flags.bind(cmd)
	return cmd
}

func (c *cli) listActions() error {
	all := actions.Default().List()
	if c.jsonOutput() {
		type item struct {
			Name     string   `json:"name"`
			Service  string   `json:"service"`
			Summary  string   `json:"summary"`
			Requires []string `json:"requires"`
			Optional []string `json:"optional,omitempty"`
		}
		out := make([]item, 0, len(all))
		for _, a := range all {
			out = append(out, item{a.Name, a.Service, a.Summary, a.Requires, a.Optional})
		}
		return c.printJSON(out)
	}
	rows := make([]table.Row, 0, len(all))
	for _, a := range all {
		rows = append(rows, table.Row{a.Name, strings.Join(a.Requires, ", "), a.Summary})
	}
	c.printTable(table.Row{"Action", "Requires", "Summary"}, rows)
	return nil
}

// runAction submits the action and prints the task id. Missing state is
// reported before anything is spawned.
func (c *cli) runAction(ctx context.Context, name string, flags runFlags) error {
	if _, err := actions.Overrides(flags.sets); err != nil {
		return err
	}
	job := tasks.Job{Command: name, Args: flags.sets}
	return c.withApp(ctx, func(ctx context.Context, a *app.App) error {
		timeout := flags.timeout
		if timeout == 0 {
			timeout = a.Config.Timeouts.Wait.Std()
		}
		if flags.foreground {
			pool := a.Pool()
			pool.Start(ctx)
			h, err := a.Submit(ctx, pool, job)
			if err != nil {
				_ = pool.Shutdown(context.WithoutCancel(ctx))
				return err
			}
			// Shutdown drains the queue, so the task is terminal afterwards.
			if err := pool.Shutdown(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			rec, err := a.Inspector.Status(h.ID())
			if err != nil {
				return err
			}
			return c.reportRun(a, rec, true)
		}
		h, err := a.Submit(ctx, a.ProcessQueue(c.executable, c.workerArgs()), job)
		if err != nil {
			return err
		}
		if !flags.wait {
			rec, err := a.Inspector.Status(h.ID())
			if err != nil {
				return err
			}
			return c.reportRun(a, rec, false)
		}
		rec, err := h.Wait(ctx, timeout)
		if err != nil {
			return err
		}
		return c.reportRun(a, rec, true)
	})
}

func (c *cli) reportRun(a *app.App, rec domain.TaskRecord, waited bool) error {
	if c.jsonOutput() {
		if err := c.printJSON(rec); err != nil {
			return err
		}
		return taskOutcome(rec)
	}
	if !waited {
		c.printf("%s\n", rec.ID)
		fmt.Fprintf(c.errOut, "started %s; follow with: agdt task wait %s\n", rec.Command, rec.ID)
		return nil
	}
	c.printf("%s %s\n", rec.ID, rec.Status)
	if rec.Status == domain.TaskSucceeded {
		if data, err := a.Inspector.Result(rec.ID); err == nil && len(data) > 0 {
			c.printf("%s\n", strings.TrimSpace(string(data)))
		}
	}
	return taskOutcome(rec)
}
