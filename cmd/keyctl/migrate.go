package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"content-key-service/internal/domain"
	"content-key-service/internal/infra"
	"content-key-service/internal/repository"
	"content-key-service/internal/usecase"
	"content-key-service/migrations"
)

func newMigrateCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage database migrations for the key request ledger and CKC archive",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", os.Getenv("MIGRATIONS_DIR"), "Read migrations from this directory instead of the embedded set")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService(dir)
			if err != nil {
				return err
			}

			appliedCount, err := svc.ApplyMigrations(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService(dir)
			if err != nil {
				return err
			}

			list, err := svc.GetMigrationStatus(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			rows := make([][]string, len(list))
			for i, m := range list {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				status := m.Status
				if status == "" {
					status = domain.MigrationStatusPending
				}
				rows[i] = []string{m.Version, m.Name, string(status), appliedAt}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"VERSION", "NAME", "STATUS", "APPLIED AT"}, rows))
			return nil
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

// newMigrationService は DATABASE_URL に接続したMigrationServiceを生成する。
func newMigrationService(dir string) (*usecase.MigrationService, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := infra.NewDB(dsn, false)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var fsys fs.FS = migrations.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), db, fsys), nil
}
