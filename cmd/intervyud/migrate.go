package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harunnryd/intervyu/pkg/intervyu"
	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the jobs and applications tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
		if !strings.EqualFold(strings.TrimSpace(cfg.Store.Driver), intervyu.StorePostgres) {
			fmt.Fprintf(cmd.OutOrStdout(), "store driver %q has no schema to migrate\n", cfg.Store.Driver)
			return nil
		}
		store, err := postgres.Open(cfg.Store.DSN, cfg.Store.Verbose, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
