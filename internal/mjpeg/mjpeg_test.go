package mjpeg

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/visionline/camd/internal/cameras"
	"github.com/visionline/camd/pkg/device"
)

func TestMain(m *testing.M) {
	cameras.Init()
	_, _ = cameras.New("ccd1", &cameras.Config{Family: "sim", Identity: "0"})

	code := m.Run()

	_ = cameras.Close(context.Background())
	os.Exit(code)
}

func TestKeyframe(t *testing.T) {
	w := httptest.NewRecorder()
	handlerKeyframe(w, httptest.NewRequest("GET", "/api/frame.jpeg?src=ccd1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	require.Equal(t, "1", w.Header().Get("X-Frame-Sequence"))

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.Nil(t, err)
	require.Equal(t, 640, cfg.Width)
	require.Equal(t, 480, cfg.Height)

	// started for the snapshot only
	require.Equal(t, device.StateReady, cameras.Get("ccd1").State())

	w = httptest.NewRecorder()
	handlerKeyframe(w, httptest.NewRequest("GET", "/api/frame.jpeg?src=ccd1&width=320&overlay=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	cfg, err = jpeg.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.Nil(t, err)
	require.Equal(t, 320, cfg.Width)
	require.Equal(t, 240, cfg.Height)

	w = httptest.NewRecorder()
	handlerKeyframe(w, httptest.NewRequest("GET", "/api/frame.jpeg?src=ccd9", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(handlerStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"?src=ccd1", nil)
	require.Nil(t, err)

	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer res.Body.Close()

	_, params, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	require.Nil(t, err)

	rd := multipart.NewReader(res.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := rd.NextPart()
		require.Nil(t, err)
		require.NotEmpty(t, part.Header.Get("X-Timestamp"))

		b, err := io.ReadAll(part)
		require.Nil(t, err)
		_, err = jpeg.DecodeConfig(bytes.NewReader(b))
		require.Nil(t, err)
	}

	cancel()

	require.Eventually(t, func() bool {
		return cameras.Get("ccd1").State() == device.StateReady
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSnapshotTimeout(t *testing.T) {
	cam, err := cameras.New("ccd2", &cameras.Config{Family: "sim", Identity: "1", TriggerMode: "software"})
	require.Nil(t, err)

	_, err = Snapshot(context.Background(), cam, 50*time.Millisecond)
	require.ErrorIs(t, err, device.ErrFrameTimeout)

	require.Nil(t, cameras.Remove(context.Background(), "ccd2"))
}
