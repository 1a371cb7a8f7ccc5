package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/app"
	"agdt/internal/errs"
	"agdt/internal/prompt"
)

func (c *cli) promptCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "prompt", Short: "Render prompt templates against the state"}
	cmd.AddCommand(c.promptRenderCmd())
	cmd.AddCommand(c.promptListCmd())
	return cmd
}

func (c *cli) promptRenderCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "render <id>",
		Short: "Render one template",
		Long:  "Unset required keys render as [[MISSING: key]] and are listed on stderr. With --strict they fail the command.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				values, err := a.Store.Dump(ctx)
				if err != nil {
					return err
				}
				out, err := a.Prompts.Render(args[0], prompt.ContextFromState(values))
				if err != nil {
					return err
				}
				if err := c.printRendered(out); err != nil {
					return err
				}
				if strict && len(out.Missing) > 0 {
					return &errs.MissingRequiredStateError{Keys: out.Missing}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when a required key is unset")
	return cmd
}

func (c *cli) promptListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Prompts.List()
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Title, t.Source})
				}
				c.printTable(table.Row{"ID", "Title", "Source"}, rows)
				return nil
			})
		},
	}
}

func (c *cli) printRendered(out prompt.Rendered) error {
	if c.jsonOutput() {
		return c.printJSON(out)
	}
	c.printf("%s", out.Text)
	if !strings.HasSuffix(out.Text, "\n") {
		c.printf("\n")
	}
	if len(out.Missing) > 0 {
		fmt.Fprintf(c.errOut, "warning: unset state keys: %s\n", strings.Join(out.Missing, ", "))
	}
	return nil
}
