package cmd

import (
	"fmt"

	"github.com/arcward/osuconcierge/osuconcierge"
	"github.com/spf13/cobra"
)

var registerCommands bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Migrate the database, and optionally register slash commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.DatabaseType == "" {
			return fmt.Errorf(
				"%s_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
				osuconcierge.DefaultEnvPrefix,
			)
		}
		if cfg.Database == "" {
			return fmt.Errorf(
				"%s_DATABASE not set (must be a valid connection string or sqlite file path)",
				osuconcierge.DefaultEnvPrefix,
			)
		}

		db, err := osuconcierge.CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
			nil,
			cfg.DatabaseSlowThreshold,
		)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}
		fmt.Fprintln(out, "Database migrated.")

		if registerCommands {
			bot, botErr := osuconcierge.New(cfg)
			if botErr != nil {
				return fmt.Errorf("error creating bot: %w", botErr)
			}
			created, regErr := bot.RegisterSlashCommands()
			if regErr != nil {
				return fmt.Errorf("error registering commands: %w", regErr)
			}
			for _, c := range created {
				fmt.Fprintf(out, "Registered /%s (%s)\n", c.Name, c.ID)
			}
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().BoolVar(
		&registerCommands,
		"register-commands",
		false,
		"Register slash commands with discord",
	)
	rootCmd.AddCommand(initCmd)
}

