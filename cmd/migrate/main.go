// Command migrate manages the pizzaflow database schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"pizzaflow/config"
	"pizzaflow/internal/util"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	cmd := &cli.Command{
		Name:  "migrate",
		Usage: "Manage the pizzaflow database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Value: cfg.Database.MigrationsPath,
				Usage: "Migration source URL",
			},
			&cli.StringFlag{
				Name:  "database",
				Value: cfg.Database.URL,
				Usage: "Postgres connection string",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withMigrate(cmd, func(m *migrate.Migrate) error { return m.Up() })
				},
			},
			{
				Name:  "down",
				Usage: "Roll back the given number of migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "Migrations to roll back"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					steps := int(cmd.Int("steps"))
					return withMigrate(cmd, func(m *migrate.Migrate) error { return m.Steps(-steps) })
				},
			},
			{
				Name:  "version",
				Usage: "Print the current schema version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withMigrate(cmd, func(m *migrate.Migrate) error {
						version, dirty, err := m.Version()
						if err != nil {
							return err
						}
						fmt.Printf("version=%d dirty=%t\n", version, dirty)
						return nil
					})
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		util.GetLogger().Fatal("migration failed", zap.Error(err))
	}
}

func withMigrate(cmd *cli.Command, fn func(m *migrate.Migrate) error) error {
	logger := util.GetLogger()

	m, err := migrate.New(cmd.String("path"), cmd.String("database"))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil || dbErr != nil {
			logger.Error("failed to close migrate", zap.NamedError("source_error", sourceErr), zap.NamedError("database_error", dbErr))
		}
	}()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	logger.Info("migrations completed", zap.String("command", cmd.Name))
	return nil
}
