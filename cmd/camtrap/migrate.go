package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fernwatch/camtrap/internal/config"
	"github.com/fernwatch/camtrap/internal/recovery"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply recovery database schema migrations",
	Long: `Opens the recovery database and applies any pending schema migrations,
then exits. The run command does this automatically on startup; migrate
exists so upgrades can be applied and verified separately.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := recovery.Open(cfg.GetDatabasePath(), cfg.GetSpoolDir())
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}
	fmt.Printf("recovery database %s is up to date\n", cfg.GetDatabasePath())
	return nil
}
