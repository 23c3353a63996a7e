package cmd

import (
	"fmt"

	"github.com/arcward/osuconcierge/osuconcierge"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot, along with the API and webhook server when enabled",
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := osuconcierge.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		if err = bot.Run(cmd.Context()); err != nil {
			return fmt.Errorf("error running bot: %w", err)
		}
		return nil
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
