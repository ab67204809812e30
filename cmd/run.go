package cmd

import (
	"fmt"
	"github.com/arcward/craftcord/craftcord"
	"github.com/spf13/cobra"
)

var runCheckOnly bool

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the bot, its spawn loops, the scheduler and the HTTP API",
	Long: `Starts the bot. It runs until interrupted, or until a stop signal is
sent through the admin API.

With --check, the config is validated and nothing is started.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		bot, err := craftcord.New(cfg)
		if err != nil {
			return fmt.Errorf("error creating bot: %w", err)
		}
		if runCheckOnly {
			if err = bot.ValidateConfig(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		}
		if err = bot.Run(cmd.Context()); err != nil {
			return fmt.Errorf("error running bot: %w", err)
		}
		return nil
	},
}

//goland:noinspection GoLinter
func init() {
	runCmd.Flags().BoolVar(
		&runCheckOnly,
		"check",
		false,
		"Validate the config and exit",
	)
	rootCmd.AddCommand(runCmd)
}
