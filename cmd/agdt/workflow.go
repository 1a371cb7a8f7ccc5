package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/app"
	"agdt/internal/prompt"
	"agdt/internal/workflow"
)

func (c *cli) workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Drive a multi-step prompt workflow"}
	cmd.AddCommand(c.workflowStartCmd())
	cmd.AddCommand(c.workflowShowCmd())
	cmd.AddCommand(c.workflowAdvanceCmd())
	cmd.AddCommand(c.workflowPromptCmd())
	cmd.AddCommand(c.workflowClearCmd())
	cmd.AddCommand(c.workflowListCmd())
	cmd.AddCommand(c.workflowHistoryCmd())
	return cmd
}

func (c *cli) workflowStartCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start <name> [entity-id]",
		Short: "Start a workflow and print its first prompt",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := ""
			if len(args) == 2 {
				entity = args[1]
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inst, err := a.Workflow.Start(ctx, args[0], entity, force)
				if err != nil {
					return err
				}
				return c.printInstance(ctx, a, inst)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an active workflow")
	return cmd
}

func (c *cli) workflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inst, active, err := a.Workflow.Current(ctx)
				if err != nil {
					return err
				}
				if !active {
					return workflow.ErrNoActiveWorkflow
				}
				if c.jsonOutput() {
					return c.printJSON(inst)
				}
				c.printInstanceSummary(inst)
				return nil
			})
		},
	}
}

func (c *cli) workflowAdvanceCmd() *cobra.Command {
	var increments []string
	cmd := &cobra.Command{
		Use:   "advance <step>",
		Short: "Move the active workflow to step and print its prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inst, err := a.Workflow.Advance(ctx, workflow.Step(args[0]), increments)
				if err != nil {
					return err
				}
				if inst.Step == workflow.Complete {
					if c.jsonOutput() {
						return c.printJSON(inst)
					}
					c.printf("workflow %s complete\n", inst.Workflow)
					c.printCounters(inst)
					return nil
				}
				return c.printInstance(ctx, a, inst)
			})
		},
	}
	cmd.Flags().StringSliceVar(&increments, "inc", nil, "bump these counters by one")
	return cmd
}

func (c *cli) workflowPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt of the current step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Workflow.Prompt(ctx)
				if err != nil {
					return err
				}
				return c.printRendered(out)
			})
		},
	}
}

func (c *cli) workflowClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Abandon the active workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				existed, err := a.Workflow.Clear(ctx)
				if err != nil {
					return err
				}
				if existed {
					c.printf("workflow cleared\n")
				} else {
					c.printf("no active workflow\n")
				}
				return nil
			})
		},
	}
}

func (c *cli) workflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workflow types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := workflow.Definitions()
			if c.jsonOutput() {
				type item struct {
					Name        string          `json:"name"`
					Description string          `json:"description"`
					Steps       []workflow.Step `json:"steps"`
					Counters    []string        `json:"counters"`
				}
				out := make([]item, 0, len(defs))
				for _, d := range defs {
					out = append(out, item{d.Name, d.Description, d.Steps, d.Counters})
				}
				return c.printJSON(out)
			}
			rows := make([]table.Row, 0, len(defs))
			for _, d := range defs {
				steps := make([]string, 0, len(d.Steps))
				for _, s := range d.Steps {
					steps = append(steps, string(s))
				}
				rows = append(rows, table.Row{d.Name, strings.Join(steps, " > "), d.Description})
			}
			c.printTable(table.Row{"Workflow", "Steps", "Description"}, rows)
			return nil
		},
	}
}

func (c *cli) workflowHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [instance-id]",
		Short: "Show the transitions of a workflow run (default: the active one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					inst, active, err := a.Workflow.Current(ctx)
					if err != nil {
						return err
					}
					if !active {
						return workflow.ErrNoActiveWorkflow
					}
					id = inst.ID
				}
				if a.Ledger == nil {
					return fmt.Errorf("workflow history needs the ledger, which is unavailable")
				}
				items, err := a.Workflow.History(ctx, id)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.TS, t.FromStep, t.ToStep})
				}
				c.printTable(table.Row{"Time", "From", "To"}, rows)
				return nil
			})
		},
	}
}

func (c *cli) printInstance(ctx context.Context, a *app.App, inst workflow.Instance) error {
	out, err := a.Workflow.Render(ctx, inst)
	if err != nil {
		return err
	}
	if c.jsonOutput() {
		return c.printJSON(struct {
			Instance workflow.Instance `json:"instance"`
			Prompt   prompt.Rendered   `json:"prompt"`
		}{inst, out})
	}
	c.printInstanceSummary(inst)
	c.printf("\n")
	return c.printRendered(out)
}

func (c *cli) printInstanceSummary(inst workflow.Instance) {
	c.printf("workflow %s at %s", inst.Workflow, inst.Step)
	if inst.EntityID != "" {
		c.printf(" (%s)", inst.EntityID)
	}
	c.printf("\n")
	if def, err := workflow.Lookup(inst.Workflow); err == nil {
		if next := def.Allowed(inst.Step); len(next) > 0 {
			names := make([]string, 0, len(next))
			for _, s := range next {
				names = append(names, string(s))
			}
			c.printf("next: %s\n", strings.Join(names, ", "))
		}
	}
	c.printCounters(inst)
}

func (c *cli) printCounters(inst workflow.Instance) {
	if len(inst.Counters) == 0 {
		return
	}
	names := make([]string, 0, len(inst.Counters))
	for n := range inst.Counters {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, inst.Counters[n]))
	}
	c.printf("counters: %s\n", strings.Join(parts, " "))
}
