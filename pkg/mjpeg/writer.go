package mjpeg

import (
	"io"
	"net/http"
	"strconv"
	"time"
)

const Boundary = "frame"

// NewWriter returns a multipart/x-mixed-replace writer, one JPEG per Write.
func NewWriter(w io.Writer) *Writer {
	if rw, ok := w.(http.ResponseWriter); ok {
		rw.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	}
	return &Writer{wr: w, buf: []byte(header)}
}

const header = "--" + Boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: "

type Writer struct {
	wr  io.Writer
	buf []byte

	// Timestamp of the next part, zero skips the header
	Timestamp time.Time
}

func (w *Writer) Write(p []byte) (n int, err error) {
	w.buf = w.buf[:len(header)]
	w.buf = strconv.AppendInt(w.buf, int64(len(p)), 10)
	if !w.Timestamp.IsZero() {
		w.buf = append(w.buf, "\r\nX-Timestamp: "...)
		w.buf = w.Timestamp.UTC().AppendFormat(w.buf, time.RFC3339Nano)
	}
	w.buf = append(w.buf, "\r\n\r\n"...)
	w.buf = append(w.buf, p...)
	w.buf = append(w.buf, "\r\n"...)

	if _, err = w.wr.Write(w.buf); err != nil {
		return 0, err
	}

	if f, ok := w.wr.(http.Flusher); ok {
		f.Flush()
	}

	return len(p), nil
}
