package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agdt/internal/app"
	"agdt/internal/events"
	"agdt/internal/state"
)

func (c *cli) stateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "state", Short: "Read and write the workspace state"}
	cmd.AddCommand(c.stateSetCmd())
	cmd.AddCommand(c.stateGetCmd())
	cmd.AddCommand(c.stateClearCmd())
	cmd.AddCommand(c.stateDumpCmd())
	return cmd
}

func (c *cli) stateSetCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "set <key> <value> [<key> <value>...]",
		Short: "Set one or more keys",
		Long:  "Values that look like numbers or booleans are stored typed unless --string is given.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected key/value pairs, got %d argument(s)", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			values := state.Values{}
			for i := 0; i < len(args); i += 2 {
				var val any = args[i+1]
				if !raw {
					val = state.ParseTyped(args[i+1])
				}
				values[args[i]] = val
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Store.SetMany(ctx, values); err != nil {
					return err
				}
				recordStateChange(ctx, a, "set", values.Keys())
				if c.jsonOutput() {
					return c.printJSON(values)
				}
				for _, k := range values.Keys() {
					c.printf("%s=%s\n", k, state.FormatValue(values[k]))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "string", false, "store values as strings")
	return cmd
}

func (c *cli) stateGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				val, ok, err := a.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("state key %s is not set", args[0])
				}
				if c.jsonOutput() {
					return c.printJSON(map[string]any{args[0]: val})
				}
				c.printf("%s\n", state.FormatValue(val))
				return nil
			})
		},
	}
}

func (c *cli) stateClearCmd() *cobra.Command {
	var all bool
	var prefix string
	cmd := &cobra.Command{
		Use:   "clear [key]",
		Short: "Remove a key, a prefix, or everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && prefix == "" && len(args) == 0 {
				return fmt.Errorf("give a key, --prefix or --all")
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				switch {
				case all:
					if err := a.Store.ClearAll(ctx); err != nil {
						return err
					}
					recordStateChange(ctx, a, "clear-all", nil)
					c.printf("cleared all state\n")
				case prefix != "":
					n, err := a.Store.ClearPrefix(ctx, strings.TrimSuffix(prefix, "."))
					if err != nil {
						return err
					}
					recordStateChange(ctx, a, "clear-prefix", []string{prefix})
					c.printf("cleared %d key(s) under %s\n", n, prefix)
				default:
					existed, err := a.Store.Clear(ctx, args[0])
					if err != nil {
						return err
					}
					if existed {
						recordStateChange(ctx, a, "clear", args)
						c.printf("cleared %s\n", args[0])
					} else {
						c.printf("%s was not set\n", args[0])
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear every key")
	cmd.Flags().StringVar(&prefix, "prefix", "", "clear every key under this prefix")
	return cmd
}

func (c *cli) stateDumpCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the whole state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				values, err := a.Store.Dump(ctx)
				if err != nil {
					return err
				}
				if prefix != "" {
					values = values.WithPrefix(prefix)
				}
				if c.jsonOutput() {
					return c.printJSON(values)
				}
				rows := make([]table.Row, 0, len(values))
				for _, k := range values.Keys() {
					rows = append(rows, table.Row{k, state.FormatValue(values[k])})
				}
				c.printTable(table.Row{"Key", "Value"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only keys under this prefix")
	return cmd
}

// recordStateChange notes key names only; values may hold issue text.
func recordStateChange(ctx context.Context, a *app.App, op string, keys []string) {
	if err := a.Ledger.Record(ctx, events.StateChanged, "state", op, events.EventPayload{"op": op, "keys": keys}); err != nil {
		a.Log.Debug("record state change failed", zap.Error(err))
	}
}
