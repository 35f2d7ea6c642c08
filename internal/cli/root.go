// Package cli implements quotactl, the operator command line for the meal
// quota ledger.  Every command runs against the same ledger engine the HTTP
// server uses, so the balance rules are identical on both surfaces.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/iliyamo/meal-quota/internal/config"
	"github.com/iliyamo/meal-quota/internal/database"
	"github.com/iliyamo/meal-quota/internal/middleware"
	"github.com/iliyamo/meal-quota/internal/pricing"
	"github.com/iliyamo/meal-quota/internal/queue"
	"github.com/iliyamo/meal-quota/internal/repository"
	"github.com/iliyamo/meal-quota/internal/service"
)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	dbPath  string
	dotenv  string
	verbose bool

	db      *sql.DB
	driver  database.Dialect
	ledger  *service.Ledger
	catalog pricing.Catalog
	closers []func() error
}

// Execute runs quotactl with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd builds the quotactl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "quotactl",
		Short: "Manage prepaid meal quotas",
		Long: `quotactl manages customers and their prepaid meal portions.

The database is chosen by DB_DRIVER and the matching DB_* or SQLITE_PATH
variables (read from .env when present). --db points at a SQLite file
directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database file (overrides DB_DRIVER)")
	root.PersistentFlags().StringVar(&a.dotenv, "env-file", ".env", "dotenv file to load")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log ledger operations to stderr")

	root.AddCommand(
		newMigrateCmd(a),
		newCustomersCmd(a),
		newTopUpCmd(a),
		newRedeemCmd(a),
		newRefundCmd(a),
		newUndoCmd(a),
		newBalanceCmd(a),
		newLogCmd(a),
		newAmendCmd(a),
		newReverseCmd(a),
		newSummaryCmd(a),
		newReconcileCmd(a),
		newPackagesCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if err := config.LoadDotEnv(a.dotenv); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Driver = database.SQLite
		cfg.SQLitePath = a.dbPath
	}

	db, err := config.OpenStore(cfg)
	if err != nil {
		return err
	}
	a.db, a.driver = db, cfg.Driver
	a.closers = append(a.closers, db.Close)
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, cfg.Driver); err != nil {
			return err
		}
	}
	if a.catalog, err = pricing.Load(cfg.PricingFile); err != nil {
		return err
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	opts := []service.Option{service.WithLogger(logger)}

	// Writes made here must also drop the server's cached read views.
	cacheCfg := config.LoadCacheConfig()
	if cacheCfg.Enabled {
		if rdb := config.NewRedisClient(config.LoadRedisConfig()); rdb != nil {
			a.closers = append(a.closers, rdb.Close)
			opts = append(opts, service.WithInvalidator(middleware.NewRedisCache(cacheCfg, rdb)))
		}
	}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithPublisher(queue.NewPublisher(cfg.RabbitURL, cfg.EventsQueue)))
	}

	a.ledger = service.New(
		repository.NewCustomerRepo(db, cfg.Driver),
		repository.NewTransactionRepo(db, cfg.Driver),
		opts...,
	)
	return nil
}

func (a *app) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
