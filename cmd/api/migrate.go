package main

import (
	"fmt"

	"github.com/gamassss/edgelink/internal/logger"
	"github.com/gamassss/edgelink/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error {
			if err := m.Up(); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			return logVersion(m, "Migrations applied")
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		return withMigrator(func(m *migrations.Migrator) error {
			if err := m.Down(steps); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			return logVersion(m, "Migrations rolled back")
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrations.Migrator) error {
			return logVersion(m, "Schema version")
		})
	},
}

func withMigrator(fn func(m *migrations.Migrator) error) error {
	m, err := migrations.New(cfg.Database.URL, logger.Get())
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m)
}

func logVersion(m *migrations.Migrator, msg string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Get().Info(msg, "version", version, "dirty", dirty)
	return nil
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
