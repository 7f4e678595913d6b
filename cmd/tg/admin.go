package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskgraph/internal/config"
	"taskgraph/internal/db"
	"taskgraph/internal/domain"
	"taskgraph/internal/engine"
	"taskgraph/internal/mcptools"
	"taskgraph/internal/schema"
	"taskgraph/internal/server"
)

func schemaCmd() *cobra.Command {
	sc := &cobra.Command{Use: "schema", Short: "Inspect and manage the database schema"}
	withDB := func(ctx context.Context, fn func(ctx context.Context, conn *sql.DB) error) error {
		conn, err := db.Open(db.Config{Path: client.Config.Database.Path})
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(ctx, conn)
	}
	sc.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create missing tables, indexes and triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
				if err := schema.EnsureSchema(ctx, conn); err != nil {
					return err
				}
				v, err := schema.Version(ctx, conn)
				if err != nil {
					return err
				}
				fmt.Printf("schema at version %d\n", v)
				return nil
			})
		},
	})
	sc.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and managed objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
				v, err := schema.Version(ctx, conn)
				if err != nil {
					return err
				}
				inv, err := schema.Inspect(ctx, conn)
				if err != nil {
					return err
				}
				out := map[string]any{"version": v, "objects": inv}
				return printResult(out, func(tw table.Writer) {
					tw.SetTitle("schema version %d", v)
					tw.AppendHeader(table.Row{"Kind", "Count", "Names"})
					for _, row := range []struct {
						kind  string
						names []string
					}{
						{"constraints", inv.Constraints},
						{"indexes", inv.Indexes},
						{"fulltext", inv.FullText},
						{"triggers", inv.Triggers},
					} {
						tw.AppendRow(table.Row{row.kind, len(row.names), fmt.Sprint(row.names)})
					}
				})
			})
		},
	})
	var yes bool
	drop := &cobra.Command{
		Use:   "drop",
		Short: "Drop the managed indexes, triggers and full-text tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return domain.InvalidArgument("yes", "", "pass --yes to drop the schema")
			}
			return withDB(cmd.Context(), func(ctx context.Context, conn *sql.DB) error {
				skipped, err := schema.DropSchema(ctx, conn)
				if err != nil {
					return err
				}
				for _, s := range skipped {
					fmt.Fprintf(os.Stderr, "skipped %s\n", s)
				}
				fmt.Println("schema dropped")
				return nil
			})
		},
	}
	drop.Flags().BoolVar(&yes, "yes", false, "confirm")
	sc.AddCommand(drop)
	return sc
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Read the activity log"}
	var project string
	var n int
	var follow bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ActivityLog(ctx, project, n)
				if err != nil {
					return err
				}
				if err := printEvents(events); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				return followEvents(ctx, e, project)
			})
		},
	}
	tail.Flags().StringVar(&project, "project", "", "only events of this project")
	tail.Flags().IntVarP(&n, "limit", "n", 20, "number of events")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	lg.AddCommand(tail)
	return lg
}

func printEvents(events []domain.Event) error {
	return printResult(events, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"ID", "When", "Type", "Project", "Entity", "Actor", "Payload"})
		for _, ev := range events {
			tw.AppendRow(table.Row{ev.ID, since(ev.TS), ev.Type, ev.Project, ev.EntityKind + ":" + ev.EntityID, ev.Actor, ev.Payload})
		}
	})
}

// followEvents polls for events newer than the latest one until interrupted.
func followEvents(ctx context.Context, e engine.Engine, project string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	cursor, err := e.Repo.LatestEventID(ctx, e.DB)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events, err := e.Repo.EventsAfter(ctx, e.DB, cursor, 100)
		if err != nil {
			return err
		}
		var shown []domain.Event
		for _, ev := range events {
			cursor = ev.ID
			if project == "" || ev.Project == project {
				shown = append(shown, ev)
			}
		}
		if len(shown) > 0 {
			if err := printEvents(shown); err != nil {
				return err
			}
		}
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Show or create taskgraph.yml"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput() {
				return printJSON(client.Config)
			}
			data, err := client.Config.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskgraph.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return domain.Conflictf("%s already exists (use --force)", path)
			}
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := client.Config
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			e, err := client.Engine(ctx)
			if err != nil {
				return err
			}
			store, err := client.Store(ctx)
			if err != nil {
				return err
			}
			log := logger().With("component", "server")
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				Blobs:    store,
				Log:      log,
			})
			if err != nil {
				return err
			}
			if d := server.NewDispatcher(e, cfg.Webhooks, logger().With("component", "webhooks")); d != nil {
				go d.Run(ctx)
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			if cfg.Server.JWTSecret == "" {
				log.Warn("bearer auth disabled; set server.jwt_secret or TASKGRAPH_JWT_SECRET")
			}
			log.Info("serving", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
			fmt.Printf("Serving Taskgraph API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default: server.base_path)")
	return cmd
}

func mcpCmd() *cobra.Command {
	var cacheDir string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long:  "Starts an MCP server on stdin/stdout exposing task, review and attachment tools to AI agents. Logs go to stderr.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := client.Engine(cmd.Context())
			if err != nil {
				return err
			}
			s := mcptools.NewServer(e, version, mcptools.Options{CacheDir: cacheDir})
			logger().Info("mcp server starting", "transport", "stdio")
			return mcpserver.ServeStdio(s)
		},
	}
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "where read_attachment stores files (default: system temp dir)")
	return cmd
}
