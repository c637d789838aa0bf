package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

type apiServer struct {
	cfg    *config.Config
	bind   string
	logger *slog.Logger
	daemon *Daemon

	deadlines deadlines

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		cfg:       cfg,
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
		deadlines: defaultDeadlines(),
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// routes builds the handler tree. JSON and subtitle responses are gzip
// encoded; artifact downloads are served as-is so range requests work.
func (s *apiServer) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/precheck", s.handlePrecheck)
	api.HandleFunc("POST /api/ingestions", s.handleInitiate)
	api.HandleFunc("POST /api/ingestions/{uploadId}/segments", s.handleSegment)
	api.HandleFunc("GET /api/ingestions/{uploadId}/missing", s.handleMissing)
	api.HandleFunc("POST /api/ingestions/{uploadId}/complete", s.handleComplete)
	api.HandleFunc("GET /api/ingestions/{uploadId}/status", s.handleSessionStatus)
	api.HandleFunc("GET /api/insights", s.handleListInsights)
	api.HandleFunc("POST /api/insights", s.handleStartInsight)
	api.HandleFunc("POST /api/insights/{objectId}/resume", s.handleResumeInsight)
	api.HandleFunc("POST /api/insights/{objectId}/refresh", s.handleRefreshInsight)
	api.HandleFunc("GET /api/insights/{objectId}/status", s.handleInsightStatus)
	api.HandleFunc("GET /api/insights/{objectId}/ppt", s.handleSlides)
	api.HandleFunc("GET /api/subtitles/{objectId}", s.handleSubtitles)
	api.HandleFunc("GET /api/search", s.handleSearch)
	api.HandleFunc("GET /api/resolve_session/{sessionId}", s.handleResolveSession)
	api.HandleFunc("GET /api/health", s.handleHealth)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/download/{objectId}", s.handleDownload)
	root.Handle("/api/", gzhttp.GzipHandler(api))
	if m := s.daemon.deps.Metrics; m != nil && s.cfg.Metrics.Enabled {
		root.Handle("GET "+s.cfg.Metrics.Path, m.Handler())
	}
	return s.withDeadlines(s.withRequestID(s.withCORS(s.withMetrics(root))))
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps a services marker to its status code. Server-side
// failures are logged with the request id.
func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logging.WithContext(r.Context(), s.logger).Error("request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body. An empty body decodes as {}.
func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrValidation, "api", "decode", "malformed JSON body", err)
	}
	return nil
}
