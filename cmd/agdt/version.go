package main

import (
	"runtime"

	"github.com/spf13/cobra"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agdt version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.jsonOutput() {
				return c.printJSON(map[string]string{"version": version, "go": runtime.Version()})
			}
			c.printf("agdt %s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}
