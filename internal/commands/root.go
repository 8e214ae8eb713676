package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/visionline/camd/internal/app"
)

var (
	confs    []string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "camd",
		Short: "camd - industrial camera daemon",
		Long: `camd owns GigE Vision and USB3 industrial cameras (Hikrobot MVS,
MindVision and a built-in simulator) and serves their frames over HTTP.

Every camera is driven by its own worker: connect, configure, stream and
stop run strictly in order, a device handle is opened at most once per
process, and every driver buffer is released before the next grab.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				confs = append(confs, "log.level="+logLevel)
			}
			app.Init(confs)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&confs, "config", "c", nil,
		"config file, raw YAML/JSON or key.sub=value, repeatable (default is "+app.DefaultConfig+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
