package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/app"
)

func (c *cli) logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Read the event ledger"}
	cmd.AddCommand(c.logTailCmd())
	return cmd
}

func (c *cli) logTailCmd() *cobra.Command {
	var (
		n                       int
		evtType, kind, entityID string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Ledger.Repo.LatestEvents(ctx, n, evtType, kind, entityID)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, e := range items {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.Payload})
				}
				c.printTable(table.Row{"ID", "Time", "Type", "Kind", "Entity", "Payload"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by entity kind (task, workflow, state, sdd)")
	cmd.Flags().StringVar(&entityID, "id", "", "filter by entity id")
	return cmd
}
