package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agdt/internal/app"
	"agdt/internal/events"
	"agdt/internal/sdd"
)

func (c *cli) sddCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sdd", Short: "Spec-driven development scaffold"}
	cmd.AddCommand(c.sddInitCmd())
	cmd.AddCommand(c.sddIssueToSpecCmd())
	return cmd
}

func (c *cli) sddInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install the .specify scaffold into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				results, err := sdd.Init(a.Fs, a.Workspace, force)
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, r := range results {
					counts[r.Action]++
				}
				if err := a.Ledger.Record(ctx, events.ScaffoldInstalled, "sdd", "", events.EventPayload{
					"force":   force,
					"results": counts,
				}); err != nil {
					a.Log.Debug("record scaffold event failed", zap.Error(err))
				}
				if c.jsonOutput() {
					return c.printJSON(results)
				}
				rows := make([]table.Row, 0, len(results))
				for _, r := range results {
					rows = append(rows, table.Row{r.Action, r.Path})
				}
				c.printTable(table.Row{"Action", "Path"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite files that already exist")
	return cmd
}

func (c *cli) sddIssueToSpecCmd() *cobra.Command {
	var force bool
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "issue-to-spec [issue-number]",
		Short: "Render specs/<n>-<slug>/spec.md from a GitHub issue",
		Long:  "The issue number defaults to the github.issue_number state key. Runs as a background task like any other action.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if _, err := strconv.Atoi(args[0]); err != nil {
					return fmt.Errorf("issue number must be an integer, got %q", args[0])
				}
				flags.sets = append(flags.sets, "github.issue_number="+args[0])
			}
			if force {
				flags.sets = append(flags.sets, "sdd.force=true")
			}
			return c.runAction(cmd.Context(), "sdd.issue-to-spec", flags)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing spec")
	flags.bind(cmd)
	return cmd
}
