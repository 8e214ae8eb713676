package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/visionline/camd/internal/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), app.VersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
