package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agdt/internal/app"
	"agdt/internal/errs"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli carries what every command needs: the bound flags and the output
// streams. Tests build one per invocation.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	in     io.Reader
	getenv func(string) string
	// executable is what background tasks re-run; empty means os.Executable.
	executable string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := &cli{out: os.Stdout, errOut: os.Stderr, in: os.Stdin, getenv: os.Getenv}
	err := c.root().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(errs.ExitCode(err))
	}
}

func (c *cli) root() *cobra.Command {
	c.v = viper.New()
	c.v.SetEnvPrefix("AGDT")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "agdt",
		Short: "Agentic dev-automation toolkit",
		Long: `agdt drives Jira, Azure DevOps and GitHub work from the command line.
- State: a JSON key/value document under scripts/temp that every command reads its inputs from (agdt state set).
- Actions: API calls such as jira fetch-issue run as background tasks; the command prints a task id and returns.
- Tasks: inspect them with agdt task status|log|wait|watch.
- Workflows: multi-step prompt sequences (pull-request-review, create-jira-issue, work-on-jira-issue).
- Prompts: Markdown templates rendered against the state; missing keys show as [[MISSING: key]].`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)
	rootCmd.SetIn(c.in)

	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("config", "", "config file (default <workspace>/agdt.yml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console or json)")
	for _, name := range []string{"workspace", "json", "config", "log-level", "log-format"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(c.stateCmd())
	rootCmd.AddCommand(c.taskCmd())
	for _, service := range []string{"jira", "azdo", "github"} {
		rootCmd.AddCommand(c.serviceCmd(service))
	}
	rootCmd.AddCommand(c.runCmd())
	rootCmd.AddCommand(c.workflowCmd())
	rootCmd.AddCommand(c.promptCmd())
	rootCmd.AddCommand(c.sddCmd())
	rootCmd.AddCommand(c.logCmd())
	rootCmd.AddCommand(c.serveCmd())
	rootCmd.AddCommand(c.configCmd())
	rootCmd.AddCommand(c.versionCmd())
	return rootCmd
}

func (c *cli) workspace() string {
	ws := c.v.GetString("workspace")
	if ws == "" {
		ws = "."
	}
	if abs, err := filepath.Abs(ws); err == nil {
		return abs
	}
	return ws
}

func (c *cli) options() app.Options {
	return app.Options{
		Workspace:  c.workspace(),
		ConfigPath: c.v.GetString("config"),
		LogLevel:   c.v.GetString("log-level"),
		LogFormat:  c.v.GetString("log-format"),
		LogOutput:  c.errOut,
		Getenv:     c.getenv,
	}
}

// withApp opens the workspace for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(ctx, c.options())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// workerArgs are the flags a detached `agdt task exec` needs to open the
// same workspace.
func (c *cli) workerArgs() []string {
	args := []string{"--workspace", c.workspace()}
	if cfg := c.v.GetString("config"); cfg != "" {
		if abs, err := filepath.Abs(cfg); err == nil {
			cfg = abs
		}
		args = append(args, "--config", cfg)
	}
	if lvl := c.v.GetString("log-level"); lvl != "" {
		args = append(args, "--log-level", lvl)
	}
	return args
}

func (c *cli) jsonOutput() bool { return c.v.GetBool("json") }

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printTable(header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

