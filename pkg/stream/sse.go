package stream

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-contrib/sse"
)

// DefaultRetryMillis is the reconnect delay advertised on stream open.
const DefaultRetryMillis = 3000

// Writer frames events as server-sent events onto an HTTP response. It is
// not safe for concurrent use; one goroutine owns each stream.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for SSE output and sets the response headers. The
// returned writer flushes after every frame so tokens reach the client as
// they are produced.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// WriteRetry emits the retry directive. Sent once, as the first frame.
func (sw *Writer) WriteRetry(millis int) error {
	if _, err := fmt.Fprintf(sw.w, "retry: %d\n\n", millis); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// WriteEvent frames one buffered event. Data is JSON-encoded.
func (sw *Writer) WriteEvent(ev Event) error {
	err := sse.Encode(sw.w, sse.Event{
		Id:    ev.ID,
		Event: string(ev.Type),
		Data:  ev.Data,
	})
	if err != nil {
		return err
	}
	sw.flush()
	return nil
}

// WriteKeepalive emits a comment frame. Keepalives carry no ID and are
// never buffered.
func (sw *Writer) WriteKeepalive() error {
	if _, err := io.WriteString(sw.w, ": keepalive\n\n"); err != nil {
		return err
	}
	sw.flush()
	return nil
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
