package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tallerlabs/craftsync/internal/craftsync"
	"github.com/tallerlabs/craftsync/internal/httpapi"
	"github.com/tallerlabs/craftsync/internal/localstore"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "craftsync",
		Short:         "Local-first records store with workspace sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), syncCmd(), migrateCmd(), bootstrapCmd(), joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type runtime struct {
	log        zerolog.Logger
	local      *localstore.Store
	docs       craftsync.DocumentStore
	workspaces *craftsync.WorkspaceManager
	syncer     *craftsync.Syncer
	outbox     *craftsync.Outbox
	migrator   *craftsync.LegacyMigrator
	stock      *craftsync.StockService
}

func (rt *runtime) close() {
	if rt.outbox != nil {
		rt.outbox.Close()
	}
	if rt.docs != nil {
		_ = rt.docs.Close()
	}
	if rt.local != nil {
		_ = rt.local.Close()
	}
}

func buildRuntime() (*runtime, error) {
	logger := buildLogger()

	dataDir := strings.TrimSpace(os.Getenv("CRAFTSYNC_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".craftsync"
	}
	local, err := localstore.Open(filepath.Join(dataDir, "craftsync.db"))
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	docs, err := buildDocumentStore()
	if err != nil {
		_ = local.Close()
		return nil, err
	}

	auth := craftsync.StaticAuth{
		UserID: strings.TrimSpace(os.Getenv("CRAFTSYNC_USER_ID")),
		Email:  strings.TrimSpace(os.Getenv("CRAFTSYNC_USER_EMAIL")),
	}
	workspaces := craftsync.NewWorkspaceManager(craftsync.WorkspaceManagerOptions{
		Docs:   docs,
		Auth:   auth,
		Logger: logger,
	})
	syncer := craftsync.NewSyncer(craftsync.SyncerOptions{
		Local:  local,
		Docs:   docs,
		Logger: logger,
	})

	queue, err := craftsync.BuildOutboxQueueFromDSN(
		os.Getenv("CRAFTSYNC_OUTBOX_DSN"),
		intEnv("CRAFTSYNC_OUTBOX_CAPACITY", 0),
	)
	if err != nil {
		_ = local.Close()
		_ = docs.Close()
		return nil, fmt.Errorf("build outbox queue: %w", err)
	}
	outbox := craftsync.NewOutbox(craftsync.OutboxOptions{
		Queue:         queue,
		Syncer:        syncer,
		Local:         local,
		Logger:        logger,
		MaxAttempts:   intEnv("CRAFTSYNC_MAX_SYNC_ATTEMPTS", 0),
		RetryDelay:    durationEnv("CRAFTSYNC_RETRY_DELAY", 0),
		MaxRetryDelay: durationEnv("CRAFTSYNC_MAX_RETRY_DELAY", 0),
		Workers:       intEnv("CRAFTSYNC_OUTBOX_WORKERS", 0),
	})

	return &runtime{
		log:        logger,
		local:      local,
		docs:       docs,
		workspaces: workspaces,
		syncer:     syncer,
		outbox:     outbox,
		migrator:   craftsync.NewLegacyMigrator(docs, logger),
		stock:      craftsync.NewStockService(local, outbox, logger),
	}, nil
}

func buildDocumentStore() (craftsync.DocumentStore, error) {
	dsn := strings.TrimSpace(os.Getenv("CRAFTSYNC_REMOTE_DSN"))
	if dsn == "" {
		dsn = "memory://"
	}
	token := strings.TrimSpace(os.Getenv("CRAFTSYNC_REMOTE_TOKEN"))
	if token != "" {
		if parsed, err := url.Parse(dsn); err == nil {
			scheme := strings.ToLower(parsed.Scheme)
			if scheme == "http" || scheme == "https" {
				return craftsync.NewHTTPDocumentStore(craftsync.HTTPDocumentStoreOptions{
					BaseURL: dsn,
					TokenProvider: func(context.Context) (string, error) {
						return token, nil
					},
				}), nil
			}
		}
	}
	store, err := craftsync.BuildDocumentStoreFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("build document store: %w", err)
	}
	return store, nil
}

func buildLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	var logger zerolog.Logger
	if boolEnv("CRAFTSYNC_PRETTY_LOGS", false) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	level, err := zerolog.ParseLevel(strings.TrimSpace(os.Getenv("CRAFTSYNC_LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon and local HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			var wctx craftsync.WorkspaceContext
			resolved, err := rt.workspaces.Bootstrap(ctx)
			if err != nil {
				rt.log.Warn().Err(err).Msg("workspace bootstrap failed, serving local data only")
			} else {
				wctx = resolved
				if rt.migrator.CheckIfMigrationNeeded(ctx, wctx) {
					if _, err := rt.migrator.Migrate(ctx, wctx); err != nil {
						rt.log.Warn().Err(err).Msg("legacy migration failed, will retry on next start")
					}
				}
				rt.outbox.Start(wctx)
			}

			server := httpapi.NewServer(httpapi.ServerOptions{
				Local:      rt.local,
				Stock:      rt.stock,
				Syncer:     rt.syncer,
				Outbox:     rt.outbox,
				Workspaces: rt.workspaces,
				Context:    wctx,
				Config: httpapi.ServerConfig{
					APIToken:     strings.TrimSpace(os.Getenv("CRAFTSYNC_API_TOKEN")),
					MaxBodyBytes: int64Env("CRAFTSYNC_MAX_BODY_BYTES", 0),
				},
				Logger: rt.log,
			})

			addr := strings.TrimSpace(os.Getenv("CRAFTSYNC_ADDR"))
			if addr == "" {
				addr = ":8655"
			}
			rt.log.Info().Str("addr", addr).Str("workspace", wctx.WorkspaceID).Msg("craftsync listening")
			return http.ListenAndServe(addr, server)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full bidirectional sync and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			wctx, err := rt.workspaces.Bootstrap(ctx)
			if err != nil {
				return err
			}
			report := rt.syncer.SyncAll(ctx, wctx)
			printJSON(report)
			return report.Err()
		},
	}
}

func migrateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import legacy per-user collections into the workspace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			wctx, err := rt.workspaces.Bootstrap(ctx)
			if err != nil {
				return err
			}
			if !force && !rt.migrator.CheckIfMigrationNeeded(ctx, wctx) {
				rt.log.Info().Str("workspace", wctx.WorkspaceID).Msg("workspace already migrated")
				return nil
			}
			report, err := rt.migrator.Migrate(ctx, wctx)
			if err != nil {
				return err
			}
			printJSON(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "migrate even when the workspace already has data")
	return cmd
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Resolve the bound workspace, creating one if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			wctx, err := rt.workspaces.Bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(wctx)
			return nil
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <workspace-id>",
		Short: "Join an existing workspace and rebind this user to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			wctx, err := rt.workspaces.Join(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(wctx)
			return nil
		},
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("encode output: %v", err)
		return
	}
	fmt.Println(string(data))
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %v", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
