package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"remedyboard/internal/app"
	"remedyboard/internal/client"
	"remedyboard/internal/config"
	"remedyboard/internal/coordinator"
	"remedyboard/internal/db"
	"remedyboard/internal/engine"
	"remedyboard/internal/migrate"
	"remedyboard/internal/session"
	"remedyboard/internal/telemetry"
)

var version = "dev"

var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "rb",
	Short: "Remedyboard CLI",
	Long: `Remedyboard tracks remediation actions across a seven-column board.
Core concepts:
- Workspace: the .remedyboard directory holding the SQLite database; remedyboard.yml next to it seeds the org config.
- Org: the tenant that owns actions, the user directory and the workflow rules.
- Actions: remediation work items that move open -> assigned -> in_progress -> under_review -> resolved -> verified -> closed.
- Board: one column per status; 'rb move' drops an action onto a column or onto another action.
- Transitions: permissive by default, or strict with an explicit table in remedyboard.yml.
- Event log: every change is recorded, view with 'rb log tail' or 'rb action history'.
- Remote mode: pass --server to drive an 'rb serve' instance instead of the local workspace.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetString("log-format"))
		slog.SetDefault(logger)
		if err := telemetry.Init(cmd.Context(), "rb", version, os.Stderr); err != nil {
			return err
		}
		if viper.GetString("server") != "" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REMEDYBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("org", "", "org id (defaults to remedyboard.yml or the only org in the workspace)")
	flags.String("server", "", "base URL of a remedyboard server; empty uses the local workspace")
	flags.String("token", "", "bearer token for --server (a dev token is requested when empty)")
	flags.String("log-format", "text", "log format: text or json")
	flags.Duration("timeout", 10*time.Second, "request timeout for --server")
	for _, name := range []string{"workspace", "json", "actor-id", "org", "server", "token", "log-format", "timeout"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if os.Getenv("REMEDYBOARD_DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// runtime is what a command works against: the local engine or a remote
// server, behind the same Service.
type runtime struct {
	Service coordinator.Service
	OrgID   string
	// Engine is nil in remote mode.
	Engine *engine.Engine
	Client *client.Client
	// AdvanceOnAssign mirrors the org config in local mode.
	AdvanceOnAssign bool
}

func (rt runtime) coordinator() *coordinator.Coordinator {
	c := coordinator.New(rt.Service, rt.OrgID, nil, logger)
	c.AdvanceOnAssign = rt.AdvanceOnAssign
	return c
}

// submit runs op through the coordinator. Remote calls are retried while
// the server is unreachable.
func (rt runtime) submit(ctx context.Context, op coordinator.Operation) (coordinator.Outcome, error) {
	c := rt.coordinator()
	var out coordinator.Outcome
	if rt.Client != nil {
		out = c.Retry(ctx, op)
	} else {
		out = c.Submit(ctx, op)
	}
	return out, out.Err
}

func withService(ctx context.Context, fn func(context.Context, runtime) error) error {
	actor := viper.GetString("actor-id")
	if server := viper.GetString("server"); server != "" {
		orgID := viper.GetString("org")
		if orgID == "" {
			return fmt.Errorf("--org is required with --server")
		}
		c := client.New(server, viper.GetString("token"))
		c.Timeout = viper.GetDuration("timeout")
		if c.BearerToken == "" {
			if _, err := c.DevLogin(ctx, orgID, actor); err != nil {
				return fmt.Errorf("dev login: %w", err)
			}
		}
		rt := runtime{Service: telemetry.Wrap(c), OrgID: orgID, Client: c, AdvanceOnAssign: true}
		return fn(session.With(ctx, session.Session{OrgID: orgID, ActorID: actor}), rt)
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		orgID := e.Config.Load().Org.ID
		rt := runtime{
			Service:         telemetry.Wrap(e),
			OrgID:           orgID,
			Engine:          &e,
			AdvanceOnAssign: e.Config.Load().AdvanceOnAssign(),
		}
		return fn(session.With(ctx, session.Session{OrgID: orgID, ActorID: actor}), rt)
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if viper.GetString("server") != "" {
		return fmt.Errorf("this command works on the local workspace only; drop --server")
	}
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	e.Logger = logger
	ctx = session.With(ctx, session.Session{ActorID: viper.GetString("actor-id")})
	if _, _, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), e); err != nil {
		return err
	}
	return fn(ctx, e)
}

func loadedConfig(e engine.Engine) *config.Config {
	if c := e.Config.Load(); c != nil {
		return c
	}
	return config.Default("")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
