package cmd

import (
	"fmt"

	"github.com/nakatach/yuuki-discord-assistant/yuuki"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			yuuki.Version,
			yuuki.CommitSHA,
			yuuki.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
