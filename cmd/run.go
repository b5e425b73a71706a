package cmd

import (
	"log"

	"github.com/nakatach/yuuki-discord-assistant/yuuki"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Yuuki bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := yuuki.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}
		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running bot: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
