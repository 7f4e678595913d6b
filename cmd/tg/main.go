package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskgraph/internal/app"
	"taskgraph/internal/config"
	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
	"taskgraph/internal/logging"
)

var version = "dev"

const (
	exitError       = 1
	exitInvalid     = 2
	exitNotFound    = 3
	exitUnavailable = 4
	exitConflict    = 5
)

var rootCmd = &cobra.Command{
	Use:   "tg",
	Short: "Taskgraph CLI",
	Long: `Taskgraph tracks numbered tasks per project with dependencies, markdown
sections, review findings, workflow runs and file attachments.
- Workspace: top-level container; projects live in a workspace or nest in another project.
- Task: numbered per project (1, 2, 3...), status todo -> work -> done, or hold.
- Sections: body, plan, report, review and blocks markdown attached to a task.
- Findings: review remarks per review type (security, testing...), open until resolved or declined.
- Runs: workflow executions of a task, each with ordered steps.
- Event log: every change is recorded, view with 'tg log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Text: true})
		client = app.NewClient(cfg, log)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client == nil {
			return nil
		}
		return client.Close()
	},
}

// client is created by the root pre-run hook from the resolved config.
var client *app.Client

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.Path("."), "config file (taskgraph.yml)")
	flags.String("db", "", "database file (overrides database.path)")
	flags.String("storage-root", "", "attachment directory (overrides storage.root)")
	flags.String("workspace-name", "", "workspace for new projects (overrides workspace)")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("actor", "cli", "actor recorded in the event log")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "db", "storage-root", "workspace-name", "log-level", "actor", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sectionCmd())
	rootCmd.AddCommand(findingCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(attachCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

// loadConfig reads the config file, when present, and applies flag and
// TASKGRAPH_* environment overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("db"); viper.IsSet("db") && v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("storage-root"); viper.IsSet("storage-root") && v != "" {
		cfg.Storage.Root = v
	}
	if v := viper.GetString("workspace-name"); viper.IsSet("workspace-name") && v != "" {
		cfg.Workspace = v
	}
	if v := viper.GetString("log-level"); viper.IsSet("log-level") && v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func actor() string {
	if a := strings.TrimSpace(viper.GetString("actor")); a != "" {
		return a
	}
	return "cli"
}

func logger() *slog.Logger {
	if client == nil {
		return logging.Discard()
	}
	return client.Log
}

// exitCode maps domain error kinds to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrSourceNotFound):
		return exitInvalid
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return exitUnavailable
	case errors.Is(err, domain.ErrConflict):
		return exitConflict
	}
	return exitError
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, err := client.Engine(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func jsonOutput() bool { return viper.GetBool("json") }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes v as JSON with --json, otherwise the table built by
// render. A nil render falls back to indented JSON.
func printResult(v any, render func(tw table.Writer)) error {
	if jsonOutput() || render == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	render(tw)
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	return printResult(tasks, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"#", "Description", "Status", "Module", "Depends on", "Updated"})
		for _, t := range tasks {
			tw.AppendRow(table.Row{t.Number, t.Description, t.Status, t.Module, joinInts(t.DependsOn), since(t.UpdatedAt)})
		}
	})
}

func printTask(t domain.Task) error {
	return printResult(t, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Field", "Value"})
		tw.AppendRow(table.Row{"project", t.Project})
		tw.AppendRow(table.Row{"number", t.Number})
		if t.ParentNumber != nil {
			tw.AppendRow(table.Row{"parent", *t.ParentNumber})
		}
		tw.AppendRow(table.Row{"description", t.Description})
		tw.AppendRow(table.Row{"status", t.Status})
		tw.AppendRow(table.Row{"module", t.Module})
		tw.AppendRow(table.Row{"branch", t.Branch})
		tw.AppendRow(table.Row{"started", t.Started})
		tw.AppendRow(table.Row{"completed", t.Completed})
		tw.AppendRow(table.Row{"depends on", joinInts(t.DependsOn)})
		for _, s := range []struct{ name, content string }{
			{"body", t.Body}, {"plan", t.Plan}, {"report", t.Report}, {"review", t.Review}, {"blocks", t.Blocks},
		} {
			if s.content != "" {
				tw.AppendRow(table.Row{s.name, s.content})
			}
		}
	})
}

func joinInts(ns []int) string {
	parts := make([]string, 0, len(ns))
	for _, n := range ns {
		parts = append(parts, fmt.Sprintf("#%d", n))
	}
	return strings.Join(parts, ", ")
}

// since renders an RFC 3339 timestamp relative to now ("3 minutes ago").
func since(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// changedString returns a pointer to v when the flag was given, so an empty
// value clears the field.
func changedString(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
