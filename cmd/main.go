// cmd/main.go is the application entry point.
// It wires together all layers behind a small cobra CLI.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/volunteer-signup/internal/config"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/database"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/model"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/repository"
	"github.com/Shivanand-hulikatti/volunteer-signup/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "volunteer-signup",
		Short: "Volunteer sign-up service with capacity-safe admission control",
		Long: `volunteer-signup lets volunteers sign up for events that need a fixed
number of people. Concurrent sign-ups and cancellations for one event are
admitted one at a time so an event is never overbooked.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional .env file to load before the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(volunteerCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(envFile)
}

// newLogger builds a zap-backed logr.Logger. "debug" enables V(1) traces.
func newLogger(level string) (logr.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	z, err := zcfg.Build()
	if err != nil {
		return logr.Discard(), func() {}, fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}

// recordStore is every backend's surface: the service stores plus seeding.
type recordStore interface {
	service.Store
	CreateVolunteer(ctx context.Context, v model.Volunteer) error
}

// backend is an opened record store plus what it takes to release it.
type backend struct {
	store recordStore
	pool  *pgxpool.Pool
	db    *sql.DB
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

// openBackend connects to the configured store and applies its migrations.
func openBackend(ctx context.Context, cfg config.Config, log logr.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Database.DSN(), log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to PostgreSQL")
		store := repository.NewPostgresStore(pool, repository.WithRowLockTimeout(cfg.Admission.LockTimeout))
		return &backend{store: store, pool: pool}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigrateSQLite(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("opened SQLite database", "path", cfg.SQLitePath)
		return &backend{store: repository.NewSQLiteStore(db), db: db}, nil

	case config.DriverMemory:
		log.Info("using in-memory store; data is lost on exit")
		return &backend{store: repository.NewMemoryStore()}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
