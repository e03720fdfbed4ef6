package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"remedyboard/internal/config"
	"remedyboard/internal/db"
	"remedyboard/internal/domain"
	"remedyboard/internal/engine"
	"remedyboard/internal/migrate"
	"remedyboard/internal/repo"
	"remedyboard/internal/server"
	"remedyboard/internal/session"
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{
		Use:   "org",
		Short: "Manage the workspace org",
	}
	org.AddCommand(orgInitCmd())
	return org
}

func orgInitCmd() *cobra.Command {
	var file, name string
	var writeFile bool
	cmd := &cobra.Command{
		Use:   "init <org-id>",
		Short: "Create an org, store its config and seed its user directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			var cfg *config.Config
			var err error
			switch {
			case file != "":
				cfg, err = config.FromFile(file)
			default:
				cfg, err = config.LoadOptional(workspace)
			}
			if err != nil {
				return err
			}
			if cfg == nil {
				if len(args) == 0 {
					return fmt.Errorf("org id required when no remedyboard.yml exists")
				}
				cfg = config.Default(args[0])
			}
			if len(args) == 1 {
				cfg.Org.ID = args[0]
			}
			if name != "" {
				cfg.Org.Name = name
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Logger = logger
			ctx := session.With(cmd.Context(), session.Session{OrgID: cfg.Org.ID, ActorID: viper.GetString("actor-id")})
			o, err := e.InitOrg(ctx, cfg)
			if err != nil {
				return err
			}
			if writeFile {
				path := config.Path(workspace)
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists", path)
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault(o.ID)), 0o644); err != nil {
					return err
				}
			}
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to import (defaults to the workspace remedyboard.yml)")
	cmd.Flags().StringVar(&name, "name", "", "org display name")
	cmd.Flags().BoolVar(&writeFile, "write-config", false, "write a default remedyboard.yml into the workspace")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and import the org config",
		Long:  "The org config holds the workflow rules (permissive or strict transitions, default priority, advance on assign), listing limits and the user directory. It is stored in the DB; import remedyboard.yml to change it.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg := loadedConfig(e)
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file or the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return loadedConfig(e).Validate()
				})
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to validate")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored config with a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cur := loadedConfig(e); cur.Org.ID != "" && cur.Org.ID != cfg.Org.ID {
					return fmt.Errorf("config is for org %q, workspace org is %q", cfg.Org.ID, cur.Org.ID)
				}
				if err := e.ImportConfig(ctx, cfg); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"imported": file, "org_id": cfg.Org.ID})
				}
				fmt.Printf("imported %s for org %s\n", file, cfg.Org.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to the workspace remedyboard.yml)")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage the org user directory",
	}
	user.AddCommand(userAddCmd())
	user.AddCommand(userListCmd())
	return user
}

func userAddCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or rename a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.AddUser(ctx, loadedConfig(e).Org.ID, domain.User{ID: args[0], Name: name, Email: email})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				users, err := rt.Service.ListUsers(ctx, rt.OrgID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, cursor string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, rt runtime) error {
				var items []domain.Event
				next := ""
				if rt.Client != nil {
					page, err := rt.Client.Events(ctx, rt.OrgID, n, cursor)
					if err != nil {
						return err
					}
					items, next = page.Items, page.NextCursor
				} else {
					f := repo.EventFilters{OrgID: rt.OrgID, Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n}
					if cursor != "" {
						c, err := strconv.ParseInt(cursor, 10, 64)
						if err != nil {
							return fmt.Errorf("invalid cursor %q", cursor)
						}
						f.Cursor = c
					}
					evs, err := rt.Engine.OrgEvents(ctx, f)
					if err != nil {
						return err
					}
					items = evs
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "next_cursor": next})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				if next != "" {
					fmt.Printf("more: --cursor %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter (local only)")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (local only)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id (local only)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue below this event id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), DevLogin: devLogin}
				if authCfg.JWTSecret == "" {
					if !devLogin {
						return fmt.Errorf("REMEDYBOARD_JWT_SECRET is required for bearer auth")
					}
					authCfg.JWTSecret = uuid.NewString()
					logger.Warn("no REMEDYBOARD_JWT_SECRET set; using a random secret, tokens will not survive a restart")
				}
				if watch {
					path := config.Path(viper.GetString("workspace"))
					go func() {
						if err := config.Watch(ctx, path, e.Config, logger); err != nil {
							logger.Error("config watch stopped", "path", path, "err", err)
						}
					}()
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger, Version: version})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				logger.Info("serving remedyboard API", "addr", addr, "base_path", basePath, "org", loadedConfig(e).Org.ID,
					"openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&watch, "watch-config", false, "reload remedyboard.yml when it changes")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	return cmd
}
