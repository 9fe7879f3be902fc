package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RubachokBoss/submission-analysis/internal/app"
	"github.com/RubachokBoss/submission-analysis/internal/database"
	"github.com/RubachokBoss/submission-analysis/internal/middleware"
	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/repository"
)

// --- api ---

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API and job producer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		api, err := app.NewAPI(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create api: %w", err)
		}
		return api.Run(ctx)
	},
}

// --- worker ---

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume analysis jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		w, err := app.NewWorker(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}

		log.Info().Int("max_workers", cfg.Analysis.MaxWorkers).Msg("Analysis worker started")
		return w.Run(ctx)
	},
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			log.Info().Msg("Migrations applied successfully")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			log.Info().Msg("Migrations rolled back successfully")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *database.Migrator) error {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Set the schema version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withMigrator(func(m *database.Migrator) error {
			return m.Force(version)
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd)
}

func withMigrator(fn func(m *database.Migrator) error) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}

	defer db.Close()

	m, err := database.NewMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m)
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if d, _ := cmd.Flags().GetDuration("stale-after"); d > 0 {
			cfg.Reconcile.StaleAfter = d
			if err := cfg.ValidateReconcile(); err != nil {
				return err
			}
		}

		result, err := app.Sweep(ctx, cfg, log)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

func init() {
	reconcileCmd.Flags().Duration("stale-after", 0, "override reconcile.stale_after")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently completed or failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		outcome, _ := cmd.Flags().GetString("outcome")
		limit, _ := cmd.Flags().GetInt64("limit")

		client, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		history := repository.NewJobHistory(client, cfg.Redis, log)
		records, err := history.Recent(cmd.Context(), models.JobOutcome(outcome), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, records)
	},
}

func init() {
	historyCmd.Flags().String("outcome", string(models.JobOutcomeFailed), "completed or failed")
	historyCmd.Flags().Int64("limit", 20, "maximum number of records")
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a bearer token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(args[0]); err != nil {
			return fmt.Errorf("user id must be a uuid: %w", err)
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := middleware.NewAuth(cfg.Auth.JWTSecret, log).Issue(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
