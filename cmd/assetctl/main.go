package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"campus-inventory-api/internal/config"
	"campus-inventory-api/internal/store"
)

const appName = "assetctl"

func main() {
	command := NewAssetctlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

// globals holds what every subcommand needs: the loaded configuration and a
// logger built from it.
type globals struct {
	driver string
	dsn    string

	cfg *config.Config
	log *logrus.Logger
}

// openDB connects with the configured driver. Callers close the handle.
func (g *globals) openDB(ctx context.Context) (*store.DB, error) {
	return store.Open(ctx, g.cfg.DBDriver, g.cfg.DBDSN, g.log)
}

func NewAssetctlCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:          fmt.Sprintf("%s [command] [flags]", appName),
		Short:        fmt.Sprintf("%s administers the campus inventory database.", appName),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if g.driver != "" {
				cfg.DBDriver = g.driver
			}
			if g.dsn != "" {
				cfg.DBDSN = g.dsn
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			log, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			log.SetOutput(cmd.ErrOrStderr())
			g.cfg, g.log = cfg, log
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&g.driver, "driver", "", "database driver (pgx, postgres, sqlite); overrides DB_DRIVER")
	cmd.PersistentFlags().StringVar(&g.dsn, "dsn", "", "database connection string; overrides DB_DSN")

	cmd.AddCommand(
		newMigrateCommand(g),
		newNextSequenceCommand(g),
		newPurgeTenantCommand(g),
		newPruneHistoryCommand(g),
		newImportCommand(g),
		newTemplateCommand(g),
		newTokenCommand(g),
	)
	return cmd
}
