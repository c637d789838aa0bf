package api

import (
	"github.com/yang-kun-long/YanheKt-AI/internal/services/searchindex"
	"github.com/yang-kun-long/YanheKt-AI/internal/stage"
	"github.com/yang-kun-long/YanheKt-AI/internal/workflow"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges an accepted command.
type OKResponse struct {
	OK bool `json:"ok"`
}

// StartRequest is the body of POST /api/insights.
type StartRequest struct {
	ObjectID string `json:"objectId"`
}

// StartResponse answers POST /api/insights. Stage and Progress are set only
// when a run is already in flight.
type StartResponse struct {
	OK       bool     `json:"ok"`
	Stage    string   `json:"stage,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// InsightStatus answers GET /api/insights/{objectId}/status.
type InsightStatus struct {
	ObjectID  string   `json:"objectId"`
	Stage     string   `json:"stage"`
	Progress  float64  `json:"progress"`
	Message   string   `json:"message"`
	Attempts  int      `json:"attempts"`
	Error     string   `json:"error,omitempty"`
	CreatedAt *float64 `json:"createdAt"`
	UpdatedAt *float64 `json:"updatedAt"`
}

// ResolveResponse answers GET /api/resolve_session/{sessionId}.
type ResolveResponse struct {
	OK       bool           `json:"ok"`
	ObjectID string         `json:"objectId,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse answers GET /api/health.
type HealthResponse struct {
	Status       string              `json:"status"`
	TS           float64             `json:"ts"`
	TempDir      string              `json:"temp_dir"`
	FinalDir     string              `json:"final_dir"`
	FreeBytes    uint64              `json:"free_bytes,omitempty"`
	Capabilities []stage.Health      `json:"capabilities"`
	Tasks        []workflow.TaskInfo `json:"tasks"`
}

// InsightList answers GET /api/insights.
type InsightList struct {
	Items []InsightStatus `json:"items"`
}

// RefreshResponse answers POST /api/insights/{objectId}/refresh.
type RefreshResponse struct {
	OK         bool              `json:"ok"`
	TaskStatus string            `json:"taskStatus,omitempty"`
	Result     map[string]string `json:"result"`
}

// SearchResponse answers GET /api/search.
type SearchResponse struct {
	Query   string            `json:"query"`
	VideoID string            `json:"video_id"`
	Index   string            `json:"index"`
	Count   int               `json:"count"`
	Hits    []searchindex.Hit `json:"hits"`
}
