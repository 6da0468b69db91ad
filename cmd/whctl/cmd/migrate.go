package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cvieirasp/webhookhub/internal/store"
)

var migrationsDir string

// migrateCmd applies the SQL files under --dir in lexical order, tracking
// what has already run in a schema_migrations table. There is no rollback
// support, matching the flat, forward-only migration files in migrations/.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	Long: `Apply every *.sql file under --dir that has not already run, in
lexical filename order, tracking applied versions in schema_migrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if dsn == "" {
			return fmt.Errorf("no DSN configured: pass --dsn or set WHCTL_DSN")
		}
		pool, err := store.Connect(ctx, dsn, 2)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		if _, err := pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version     text PRIMARY KEY,
				applied_at  timestamptz NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		entries, err := os.ReadDir(migrationsDir)
		if err != nil {
			return fmt.Errorf("read migrations dir: %w", err)
		}

		var files []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			files = append(files, e.Name())
		}
		sort.Strings(files)

		applied := 0
		for _, name := range files {
			var exists bool
			if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, name).Scan(&exists); err != nil {
				return fmt.Errorf("check %s: %w", name, err)
			}
			if exists {
				continue
			}

			sql, err := os.ReadFile(filepath.Join(migrationsDir, name))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("apply %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, name); err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("record %s: %w", name, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit %s: %w", name, err)
			}

			fmt.Fprintf(os.Stderr, "applied %s\n", name)
			applied++
		}

		if applied == 0 {
			fmt.Fprintln(os.Stderr, "no pending migrations")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory containing *.sql migration files")
}
