package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/optical-storefront/internal/api"
	"github.com/example/optical-storefront/internal/auth"
	"github.com/example/optical-storefront/internal/config"
	"github.com/example/optical-storefront/internal/infrastructure/store"
	"github.com/example/optical-storefront/internal/logger"
	"github.com/spf13/cobra"
)

// app holds what every command needs. It is built once per invocation in
// the root command's PersistentPreRunE.
type app struct {
	cfg     *config.Config
	client  *api.Client
	tokens  *store.TokenStore
	session *auth.Session
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run executes one command line. Resources opened by the command are
// released before it returns, whether or not the command failed.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Optical storefront client: browse the catalog, sign in and manage the cart",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
	}

	root.AddCommand(
		newProductsCmd(a),
		newProductCmd(a),
		newBrowseCmd(a),
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newRefreshCmd(a),
		newStatusCmd(a),
		newCartCmd(a),
		newAdminCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	level := logger.ParseLevel(cfg.LogLevel)
	logger.Initialize(level, cfg.IsDevelopment())
	logger.GetLogger().SetLevel(level)

	a.client = api.NewClient(api.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	tokens, err := a.openTokenStore(ctx)
	if err != nil {
		return err
	}
	a.tokens = tokens
	a.closers = append(a.closers, tokens.Close)

	a.session = auth.NewSession(ctx, tokens)
	a.closers = append(a.closers, a.session.Close)

	logger.Debug("[Storefront] initialized", "api", cfg.APIBaseURL, "token_store", cfg.TokenStore)
	return nil
}

// openTokenStore builds the backend and change notifier selected by
// TOKEN_STORE
func (a *app) openTokenStore(ctx context.Context) (*store.TokenStore, error) {
	cfg := a.cfg

	var backend store.Backend
	var notifier store.Notifier
	switch cfg.TokenStore {
	case config.TokenStoreMemory:
		backend = store.NewMemoryBackend()

	case config.TokenStoreFile:
		backend = store.NewFileBackend(cfg.TokenStorePath)

	case config.TokenStoreRedis:
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		backend = store.NewRedisBackend(client, "")
		notifier = store.NewRedisNotifier(client, "")

	case config.TokenStorePostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, func() { closeDB(db) })
		pg := store.NewPostgresBackend(db)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		backend = pg
		notifier = store.NewPostgresNotifier(db, cfg.DatabaseURL, "")

	case config.TokenStoreDynamo:
		client, err := store.NewDynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		backend = store.NewDynamoBackend(client, cfg.DynamoTable)

	default:
		return nil, fmt.Errorf("%w: unknown TOKEN_STORE %q", config.ErrInvalidConfig, cfg.TokenStore)
	}

	return store.NewTokenStore(backend, notifier, cfg.TokenStoreKey)
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("[Storefront] failed to close database", "error", err)
	}
}
