package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"agdt/internal/app"
	"agdt/internal/domain"
	"agdt/internal/repo"
)

const apiKeyPrefix = "agdt_"

func (c *cli) serveKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage X-Api-Key credentials for agdt serve"}
	cmd.AddCommand(c.keyCreateCmd())
	cmd.AddCommand(c.keyListCmd())
	cmd.AddCommand(c.keyRevokeCmd())
	return cmd
}

// withLedger is withApp for commands that cannot work without the ledger.
func (c *cli) withLedger(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	return c.withApp(ctx, func(ctx context.Context, a *app.App) error {
		if a.Ledger == nil {
			return errors.New("event ledger is unavailable")
		}
		return fn(ctx, a)
	})
}

func (c *cli) keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a key; it is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := apiKeyPrefix + hex.EncodeToString(raw)
			return c.withLedger(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key := domain.APIKey{ID: uuid.NewString(), Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := a.Ledger.Repo.InsertAPIKey(ctx, key); err != nil {
					return fmt.Errorf("create key %s: %w", name, err)
				}
				if c.jsonOutput() {
					return c.printJSON(map[string]string{"id": key.ID, "name": name, "key": secret})
				}
				c.printf("%s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "who the key is for")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Ledger.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput() {
					return c.printJSON(nonNil(keys))
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.Name, k.ID, k.CreatedAt})
				}
				c.printTable(table.Row{"Name", "ID", "Created"}, rows)
				return nil
			})
		},
	}
}

func (c *cli) keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <name|id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Ledger.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("no api key %s", args[0])
					}
					return err
				}
				c.printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
