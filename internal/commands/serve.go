package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
	"github.com/visionline/camd/internal/api"
	"github.com/visionline/camd/internal/api/ws"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/internal/cameras"
	"github.com/visionline/camd/internal/mjpeg"
	"github.com/visionline/camd/pkg/shell"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the cameras",
	Long: `Start the HTTP API, connect the configured cameras and start streaming
the ones with autostart. On SIGINT or SIGTERM every camera is stopped and
its handle destroyed before exit.`,
	Example: `  # Start with camd.yaml from the working directory
  camd serve

  # Two config sources, the second overrides single keys
  camd serve -c /etc/camd.yaml -c cameras.line1.gain=6

  # Run in background
  camd serve --daemon --pid-file /run/camd.pid --log-file /var/log/camd.log`,
	RunE: runServe,
}

var (
	serveDaemon  bool
	servePidFile string
	serveLogFile string
	serveTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVarP(&serveDaemon, "daemon", "d", false, "run in background")
	serveCmd.Flags().StringVar(&servePidFile, "pid-file", "", "pid file of the daemon")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "stdout and stderr of the daemon")
	serveCmd.Flags().DurationVar(&serveTimeout, "shutdown-timeout", 10*time.Second, "time to release the cameras on exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := app.GetLogger("app")

	if serveDaemon {
		cntxt := &daemon.Context{
			PidFileName: servePidFile,
			PidFilePerm: 0644,
			LogFileName: serveLogFile,
			LogFilePerm: 0640,
			Umask:       027,
		}

		d, err := cntxt.Reborn()
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		if d != nil {
			log.Info().Int("pid", d.Pid).Msg("daemon started")
			return nil
		}
		defer func() {
			_ = cntxt.Release()
		}()
	}

	api.Init() // HTTP API server
	ws.Init()  // websocket API, depends on api

	cameras.Init() // drivers, registry and configured cameras
	mjpeg.Init()   // JPEG and MJPEG outputs

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cameras.Autostart(ctx)

	if sig := shell.WaitSignal(ctx); sig != nil {
		log.Info().Stringer("signal", sig).Msg("exit")
	}
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), serveTimeout)
	defer cancel()

	if err := cameras.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("[cameras] close")
		return err
	}
	return nil
}
