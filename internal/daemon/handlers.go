package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/api"
	"github.com/yang-kun-long/YanheKt-AI/internal/fileutil"
	"github.com/yang-kun-long/YanheKt-AI/internal/ingest"
	"github.com/yang-kun-long/YanheKt-AI/internal/logging"
	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

// maxSegmentBytes bounds a single uploaded part.
const maxSegmentBytes = 256 << 20

func (s *apiServer) handlePrecheck(w http.ResponseWriter, r *http.Request) {
	var req ingest.Descriptor
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.daemon.deps.Ingest.Precheck(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req ingest.InitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.daemon.deps.Ingest.Initiate(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleSegment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("i")))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or invalid index")
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxSegmentBytes)
	res, err := s.daemon.deps.Ingest.AcceptSegment(r.Context(), r.PathValue("uploadId"), index, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "segment too large")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	if !res.Skipped {
		if m := s.daemon.deps.Metrics; m != nil {
			m.AddSegmentBytes(r.ContentLength)
		}
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleMissing(w http.ResponseWriter, r *http.Request) {
	missing, err := s.daemon.deps.Ingest.Missing(r.Context(), r.PathValue("uploadId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]int{"missing": missing})
}

func (s *apiServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.deps.Ingest.Complete(r.Context(), r.PathValue("uploadId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.deps.Ingest.Status(r.Context(), r.PathValue("uploadId")))
}

// handleDownload serves the MP4 when present, else the transport stream.
// ?raw=ts always selects the transport stream.
func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	objectID := r.PathValue("objectId")
	if !objectid.Valid(objectID) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	candidates := []string{s.cfg.FinalMP4Path(objectID), s.cfg.FinalTSPath(objectID)}
	if r.URL.Query().Get("raw") == "ts" {
		candidates = candidates[1:]
	}
	for _, path := range candidates {
		if !fileutil.Exists(path) {
			continue
		}
		file, err := os.Open(path)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "open artifact")
			return
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "stat artifact")
			return
		}
		name := filepath.Base(path)
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		if strings.HasSuffix(name, ".ts") {
			w.Header().Set("Content-Type", "video/mp2t")
		}
		http.ServeContent(w, r, name, info.ModTime(), file)
		return
	}
	s.writeError(w, http.StatusNotFound, "not found")
}

func (s *apiServer) handleListInsights(w http.ResponseWriter, r *http.Request) {
	var stages []registry.Stage
	for _, value := range r.URL.Query()["stage"] {
		if trimmed := strings.ToUpper(strings.TrimSpace(value)); trimmed != "" {
			stages = append(stages, registry.Stage(trimmed))
		}
	}
	records, err := s.daemon.deps.Store.List(r.Context(), stages...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.InsightList{Items: api.FromRecords(records)})
}

func (s *apiServer) handleStartInsight(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	objectID := strings.TrimSpace(req.ObjectID)
	if !objectid.Valid(objectID) {
		s.writeError(w, http.StatusBadRequest, "invalid objectId")
		return
	}
	res, err := s.daemon.deps.Pipeline.Start(r.Context(), objectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := api.StartResponse{OK: res.OK}
	if res.Running {
		progress := res.Progress
		out.Stage = string(res.Stage)
		out.Progress = &progress
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleResumeInsight(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.deps.Pipeline.Resume(r.Context(), r.PathValue("objectId")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (s *apiServer) handleRefreshInsight(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.deps.Pipeline.EnsureResultURLs(r.Context(), r.PathValue("objectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RefreshResponse{OK: true, TaskStatus: res.TaskStatus, Result: res.Result})
}

func (s *apiServer) handleInsightStatus(w http.ResponseWriter, r *http.Request) {
	objectID := r.PathValue("objectId")
	rec, err := s.daemon.deps.Pipeline.Status(r.Context(), objectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRecord(objectID, rec))
}

func (s *apiServer) handleSlides(w http.ResponseWriter, r *http.Request) {
	url, err := s.daemon.deps.Pipeline.SlidesURL(r.Context(), r.PathValue("objectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *apiServer) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	path, err := s.daemon.deps.Pipeline.SubtitlePath(r.Context(), r.PathValue("objectId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "subtitle file missing")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.daemon.deps.Pipeline.Search(r.Context(), q.Get("q"), q.Get("videoId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SearchResponse{
		Query:   res.Query,
		VideoID: res.VideoID,
		Index:   res.Index,
		Count:   res.Count,
		Hits:    res.Hits,
	})
}

func (s *apiServer) handleResolveSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.deps.Store.FindBySessionID(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, api.ResolveResponse{Error: err.Error()})
		return
	}
	if rec == nil {
		s.writeJSON(w, http.StatusNotFound, api.ResolveResponse{Error: "session id not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, api.ResolveResponse{OK: true, ObjectID: rec.ObjectID, Meta: rec.Meta})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tasks := []workflow.TaskInfo{}
	for _, pool := range s.daemon.deps.Pools {
		tasks = append(tasks, pool.Snapshot()...)
	}
	free, err := freeBytes(s.cfg.Paths.FinalVideoDir)
	if err != nil {
		s.logger.Debug("free space probe failed", logging.Error(err))
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:       "ok",
		TS:           float64(time.Now().UnixMilli()) / 1000,
		TempDir:      s.cfg.Paths.TempUploadDir,
		FinalDir:     s.cfg.Paths.FinalVideoDir,
		FreeBytes:    free,
		Capabilities: s.daemon.deps.Pipeline.Health(ctx),
		Tasks:        tasks,
	})
}
