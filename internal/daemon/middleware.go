package daemon

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

const requestIDHeader = "X-Request-ID"

// deadlines bounds request handling per connection. JSON exchanges get fixed
// read and write deadlines; artifact downloads and segment uploads only fail
// when no bytes move for Stall.
type deadlines struct {
	Read  time.Duration
	Write time.Duration
	Stall time.Duration
}

func defaultDeadlines() deadlines {
	return deadlines{Read: 15 * time.Second, Write: 30 * time.Second, Stall: time.Minute}
}

func isTransferRoute(r *http.Request) bool {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/download/"):
		return true
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/api/ingestions/") && strings.HasSuffix(path, "/segments"):
		return true
	default:
		return false
	}
}

// withDeadlines must wrap the connection's own ResponseWriter. It replaces
// server-wide timeouts, which would cut off multi-gigabyte downloads.
func (s *apiServer) withDeadlines(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits := s.deadlines
		rc := http.NewResponseController(w)
		now := time.Now()
		if !isTransferRoute(r) {
			_ = rc.SetReadDeadline(now.Add(limits.Read))
			_ = rc.SetWriteDeadline(now.Add(limits.Write))
			next.ServeHTTP(w, r)
			return
		}
		_ = rc.SetReadDeadline(now.Add(limits.Stall))
		_ = rc.SetWriteDeadline(now.Add(limits.Stall))
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = &stallReader{ReadCloser: r.Body, rc: rc, stall: limits.Stall}
		}
		next.ServeHTTP(&stallWriter{ResponseWriter: w, rc: rc, stall: limits.Stall}, r)
	})
}

// stallReader pushes the read deadline forward before every read.
type stallReader struct {
	io.ReadCloser
	rc    *http.ResponseController
	stall time.Duration
}

func (r *stallReader) Read(p []byte) (int, error) {
	_ = r.rc.SetReadDeadline(time.Now().Add(r.stall))
	return r.ReadCloser.Read(p)
}

// stallWriter pushes the write deadline forward before every write.
type stallWriter struct {
	http.ResponseWriter
	rc    *http.ResponseController
	stall time.Duration
}

func (w *stallWriter) Write(p []byte) (int, error) {
	_ = w.rc.SetWriteDeadline(time.Now().Add(w.stall))
	return w.ResponseWriter.Write(p)
}

func (w *stallWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// withRequestID tags every request with a correlation id, reusing a
// well-formed id supplied by the caller.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

// withCORS allows the browser extension to call the API from any origin and
// answers preflight requests directly.
func (s *apiServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		h.Set("Access-Control-Expose-Headers", requestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withMetrics records request counts and latency by route pattern.
func (s *apiServer) withMetrics(next http.Handler) http.Handler {
	m := s.daemon.deps.Metrics
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveRequest(route, status, time.Since(start))
	})
}
