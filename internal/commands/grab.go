package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/internal/cameras"
	"github.com/visionline/camd/pkg/device"
	"github.com/visionline/camd/pkg/mjpeg"
)

var grabCmd = &cobra.Command{
	Use:   "grab <camera>",
	Short: "Save frames of one camera as JPEG files",
	Long: `Connect a camera, stream until the requested number of frames is
saved and release it. The argument is a configured camera name or an
identity like "mvs:0", "sim:cam1" or a serial number.`,
	Example: `  # Five frames of a configured camera into ./out
  camd grab line1 -n 5 -o ./out

  # First simulated camera
  camd grab sim:0`,
	Args: cobra.ExactArgs(1),
	RunE: runGrab,
}

var (
	grabCount   int
	grabOutput  string
	grabQuality int
	grabTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(grabCmd)

	grabCmd.Flags().IntVarP(&grabCount, "count", "n", 1, "number of frames")
	grabCmd.Flags().StringVarP(&grabOutput, "output", "o", ".", "output directory")
	grabCmd.Flags().IntVarP(&grabQuality, "quality", "q", mjpeg.DefaultQuality, "JPEG quality")
	grabCmd.Flags().DurationVar(&grabTimeout, "timeout", 10*time.Second, "time to wait for all frames")
}

func runGrab(cmd *cobra.Command, args []string) error {
	if grabCount < 1 {
		return errors.New("count must be positive")
	}

	if err := os.MkdirAll(grabOutput, 0755); err != nil {
		return err
	}

	cameras.Init()
	defer cameras.Close(context.Background())

	name := args[0]
	cam := cameras.Get(name)
	if cam == nil {
		var err error
		if cam, err = cameras.New(name, &cameras.Config{Identity: name}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), grabTimeout)
	defer cancel()

	files, err := grab(ctx, cam, grabCount, grabOutput, grabQuality)
	for _, file := range files {
		fmt.Fprintln(cmd.OutOrStdout(), file)
	}
	return err
}

// grab writes count frames of cam into dir and returns the file names.
func grab(ctx context.Context, cam *cameras.Camera, count int, dir string, quality int) ([]string, error) {
	log := app.GetLogger("cameras")

	type result struct {
		file string
		err  error
	}

	results := make(chan result, count)
	left := count

	sink := device.NewQueueSink(count, func(frame *device.Frame) {
		if left == 0 {
			return
		}
		left--

		b, err := mjpeg.Encode(frame, quality)
		if err != nil {
			results <- result{err: err}
			return
		}

		file := filepath.Join(dir, fmt.Sprintf("%s_%06d.jpg", filepath.Base(cam.Name), frame.Sequence))
		results <- result{file: file, err: os.WriteFile(file, b, 0644)}
	})
	defer sink.Close()

	release, err := cam.Consume(ctx, sink)
	if err != nil {
		return nil, err
	}
	defer release()

	var files []string
	for len(files) < count {
		select {
		case res := <-results:
			if res.err != nil {
				return files, res.err
			}
			log.Debug().Str("file", res.file).Msg("[cameras] grab")
			files = append(files, res.file)
		case <-ctx.Done():
			return files, fmt.Errorf("%s: %d of %d frames: %w", cam.Name, len(files), count, device.ErrFrameTimeout)
		}
	}

	return files, nil
}
