package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/sessionindex/internal/storage"
)

func migrateCMD(opts *rootOptions) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the index database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending schema migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := storage.NewSQLiteStorage(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status, err := store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", status.SchemaVersion)
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent schema migration, for running an older binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.DBPath); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no index database at %s", cfg.DBPath)
			}

			version, err := storage.RollbackDatabase(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			log.Info().Str("db", cfg.DBPath).Str("version", version).Msg("schema rolled back")
			if version == "" {
				version = "none"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %s\n", version)
			return nil
		},
	}

	migrate.AddCommand(up, down)
	return migrate
}
