package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"agdt/internal/app"
	"agdt/internal/config"
	"agdt/internal/fsutil"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage agdt.yml"}
	cmd.AddCommand(c.configInitCmd())
	cmd.AddCommand(c.configShowCmd())
	return cmd
}

func (c *cli) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default agdt.yml into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			path := config.Path(c.workspace())
			exists, err := afero.Exists(fs, path)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
			}
			if err := fsutil.WriteFileAtomic(fs, path, []byte(config.GenerateDefault())); err != nil {
				return err
			}
			c.printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (c *cli) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			opts.NoLedger = true
			a, err := app.Open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if c.jsonOutput() {
				return c.printJSON(a.Config)
			}
			data, err := yaml.Marshal(a.Config)
			if err != nil {
				return err
			}
			c.printf("%s", data)
			return nil
		},
	}
}
