package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/visionline/camd/internal/api"
	"github.com/visionline/camd/internal/api/ws"
	"github.com/visionline/camd/internal/app"
	"github.com/visionline/camd/internal/cameras"
	"github.com/visionline/camd/pkg/device"
	"github.com/visionline/camd/pkg/mjpeg"
)

func Init() {
	var cfg struct {
		Mod struct {
			Quality int           `yaml:"quality"`
			Timeout time.Duration `yaml:"frame_timeout"`
			Overlay bool          `yaml:"overlay"`
		} `yaml:"mjpeg"`
	}

	// defaults
	cfg.Mod.Quality = mjpeg.DefaultQuality
	cfg.Mod.Timeout = 5 * time.Second

	app.LoadConfig(&cfg)

	quality = cfg.Mod.Quality
	frameTimeout = cfg.Mod.Timeout
	overlay = cfg.Mod.Overlay

	api.HandleFunc("api/frame.jpeg", handlerKeyframe)
	api.HandleFunc("api/stream.mjpeg", handlerStream)

	ws.HandleFunc("mjpeg", handlerWS)

	log = app.GetLogger("mjpeg")
}

var log = zerolog.Nop()

var (
	quality      = mjpeg.DefaultQuality
	frameTimeout = 5 * time.Second
	overlay      bool
)

// options reads `width`, `height`, `quality` and `overlay` from the query.
func options(cam *cameras.Camera, query url.Values) *mjpeg.Options {
	opts := &mjpeg.Options{Quality: quality, Overlay: overlay, Label: cam.Name}
	opts.Width, _ = strconv.Atoi(query.Get("width"))
	opts.Height, _ = strconv.Atoi(query.Get("height"))
	if i, err := strconv.Atoi(query.Get("quality")); err == nil {
		opts.Quality = i
	}
	if query.Has("overlay") {
		opts.Overlay, _ = strconv.ParseBool(query.Get("overlay"))
	}
	return opts
}

const cameraNotFound = "camera not found"

// handlerKeyframe returns the next frame of a camera, starting it when needed.
func handlerKeyframe(w http.ResponseWriter, r *http.Request) {
	cam := cameras.Get(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	frame, err := Snapshot(r.Context(), cam, frameTimeout)
	if err != nil {
		api.Error(w, err)
		return
	}

	ts := time.Now()
	b, err := mjpeg.EncodeWith(frame, options(cam, r.URL.Query()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Trace().Msgf("[mjpeg] encoding time=%s", time.Since(ts))

	h := w.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Length", strconv.Itoa(len(b)))
	h.Set("X-Frame-Sequence", strconv.FormatUint(frame.Sequence, 10))
	h.Set("X-Frame-Timestamp", frame.Timestamp.Format(time.RFC3339Nano))
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	if _, err = w.Write(b); err != nil {
		log.Error().Err(err).Caller().Send()
	}
}

// Snapshot waits for the next frame of the camera.
func Snapshot(ctx context.Context, cam *cameras.Camera, timeout time.Duration) (*device.Frame, error) {
	ch := make(chan *device.Frame, 1)

	release, err := cam.Consume(ctx, device.SinkFunc(func(frame *device.Frame) {
		select {
		case ch <- frame:
		default:
		}
	}))
	if err != nil {
		return nil, err
	}
	defer release()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-ch:
		return frame, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: snapshot: %w", cam.Name, device.ErrFrameTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func handlerStream(w http.ResponseWriter, r *http.Request) {
	cam := cameras.Get(r.URL.Query().Get("src"))
	if cam == nil {
		http.Error(w, cameraNotFound, http.StatusNotFound)
		return
	}

	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "close")
	h.Set("Pragma", "no-cache")

	opts := options(cam, r.URL.Query())
	wr := mjpeg.NewWriter(w)

	done := make(chan struct{})
	var once sync.Once

	sink := device.NewQueueSink(cam.Queue(), func(frame *device.Frame) {
		b, err := mjpeg.EncodeWith(frame, opts)
		if err == nil {
			wr.Timestamp = frame.Timestamp
			_, err = wr.Write(b)
		}
		if err != nil {
			log.Trace().Err(err).Msg("[mjpeg] write")
			once.Do(func() { close(done) })
		}
	})

	release, err := cam.Consume(r.Context(), sink)
	if err != nil {
		sink.Close()
		api.Error(w, err)
		return
	}

	select {
	case <-done:
	case <-r.Context().Done():
	}

	release()
	sink.Close()

	if drops := sink.Drops(); drops > 0 {
		log.Debug().Str("camera", cam.Name).Uint64("drops", drops).Msg("[mjpeg] slow client")
	}
}

// handlerWS pushes JPEG frames as binary messages. The camera name comes
// from the `src` query of the websocket URL or from the message value.
func handlerWS(tr *ws.Transport, msg *ws.Message) error {
	name := tr.Request.URL.Query().Get("src")
	if name == "" {
		name = msg.String()
	}

	cam := cameras.Get(name)
	if cam == nil {
		return errors.New(cameraNotFound)
	}

	tr.Write(&ws.Message{Type: "mjpeg"})

	opts := options(cam, tr.Request.URL.Query())
	sink := device.NewQueueSink(cam.Queue(), func(frame *device.Frame) {
		if b, err := mjpeg.EncodeWith(frame, opts); err == nil {
			tr.Write(b)
		}
	})

	release, err := cam.Consume(context.Background(), sink)
	if err != nil {
		sink.Close()
		log.Debug().Err(err).Msg("[mjpeg] add consumer")
		return err
	}

	tr.OnClose(func() {
		release()
		sink.Close()
	})

	return nil
}
