package web

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// ResponseWriter wraps http.ResponseWriter, records the response status,
// and runs before-write hooks exactly once ahead of the first header or
// body write. The pipeline uses the hook to flush dirty session state
// while cookies can still be set.
type ResponseWriter struct {
	http.ResponseWriter
	status      int
	written     bool
	beforeWrite []func()
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

// OnBeforeWrite registers a hook to run before the response commits.
// Registering after the first write is a no-op.
func (w *ResponseWriter) OnBeforeWrite(fn func()) {
	if w.written {
		return
	}
	w.beforeWrite = append(w.beforeWrite, fn)
}

func (w *ResponseWriter) WriteHeader(status int) {
	if w.written {
		return
	}
	w.runHooks()
	w.status = status
	w.written = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *ResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Written reports whether the response has been committed.
func (w *ResponseWriter) Written() bool { return w.written }

// Status returns the committed status, 0 before the first write.
func (w *ResponseWriter) Status() int { return w.status }

func (w *ResponseWriter) runHooks() {
	for _, fn := range w.beforeWrite {
		fn()
	}
	w.beforeWrite = nil
}

// Flush passes through to the underlying writer when it supports it.
func (w *ResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through for websocket-style upgrades.
func (w *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("web: response writer does not support hijacking")
}
