package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
)

// Stage names an upload session state.
type Stage string

const (
	StageUnknown      Stage = "UNKNOWN"
	StagePrecheckHit  Stage = "PRECHECK_HIT"
	StagePrecheckMiss Stage = "PRECHECK_MISS"
	StageUploading    Stage = "UPLOADING"
	StageQueued       Stage = "QUEUED"
	StageMerging      Stage = "MERGING"
	StageMerged       Stage = "MERGED"
	StageTranscoding  Stage = "TRANSCODING"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// busy reports whether a merge owns the session.
func (s Stage) busy() bool {
	switch s {
	case StageQueued, StageMerging, StageMerged, StageTranscoding:
		return true
	default:
		return false
	}
}

// FlexString decodes a JSON string or number into its textual form.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the decoded text.
func (f FlexString) String() string {
	return string(f)
}

// FlexInt decodes a JSON number or numeric string. Set reports whether a
// value was present.
type FlexInt struct {
	Value int64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = FlexInt{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*f = FlexInt{}
			return nil
		}
	}
	n := json.Number(raw)
	if v, err := n.Int64(); err == nil {
		*f = FlexInt{Value: v, Set: true}
		return nil
	}
	v, err := n.Float64()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("expected integer, got %s", data)
	}
	*f = FlexInt{Value: int64(v), Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Descriptor is the logical video coordinate set a client sends.
type Descriptor struct {
	CourseID  FlexString `json:"courseId"`
	VideoID   FlexInt    `json:"videoId"`
	VideoType string     `json:"videoType,omitempty"`
	StartedAt FlexString `json:"startedAt"`
}

// Normalized returns the descriptor with the default video type applied.
func (d Descriptor) Normalized() Descriptor {
	d.VideoType = strings.TrimSpace(d.VideoType)
	if d.VideoType == "" {
		d.VideoType = objectid.DefaultVideoType
	}
	return d
}

// ObjectID derives the content key.
func (d Descriptor) ObjectID() string {
	n := d.Normalized()
	return objectid.Compute(objectid.Descriptor{
		CourseID:  n.CourseID.String(),
		VideoID:   n.VideoID.Value,
		VideoType: n.VideoType,
		StartedAt: n.StartedAt.String(),
	})
}

func (d Descriptor) validate() error {
	if !d.VideoID.Set {
		return fmt.Errorf("videoId is required")
	}
	return nil
}

// InitRequest opens an upload session.
type InitRequest struct {
	Descriptor
	CourseName       string     `json:"courseName,omitempty"`
	CourseTitle      string     `json:"courseTitle,omitempty"`
	SessionID        FlexString `json:"sessionId,omitempty"`
	Total            FlexInt    `json:"total"`
	AutoTranscode    *bool      `json:"autoTranscode,omitempty"`
	OriginalFilename string     `json:"originalFilename,omitempty"`
}

func (r InitRequest) filename() string {
	if name := strings.TrimSpace(r.OriginalFilename); name != "" {
		return name
	}
	title := strings.TrimSpace(r.CourseTitle)
	if title == "" {
		title = "video"
	}
	return title + ".ts"
}

func (r InitRequest) autoTranscode() bool {
	if r.AutoTranscode == nil {
		return true
	}
	return *r.AutoTranscode
}

// Meta is the immutable per-session descriptor persisted to meta.json.
type Meta struct {
	UploadID         string    `json:"uploadId"`
	ObjectID         string    `json:"objectId"`
	CourseID         string    `json:"courseId"`
	CourseName       string    `json:"courseName,omitempty"`
	CourseTitle      string    `json:"courseTitle,omitempty"`
	VideoType        string    `json:"videoType"`
	VideoID          int64     `json:"videoId"`
	SessionID        string    `json:"sessionId,omitempty"`
	StartedAt        string    `json:"startedAt"`
	Total            int       `json:"total"`
	AutoTranscode    bool      `json:"autoTranscode"`
	OriginalFilename string    `json:"originalFilename"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Session is the mutable session record persisted to state.json and
// returned verbatim by status.
type Session struct {
	UploadID    string     `json:"uploadId,omitempty"`
	ObjectID    string     `json:"objectId,omitempty"`
	Stage       Stage      `json:"stage"`
	Received    int        `json:"received"`
	Total       int        `json:"total,omitempty"`
	Progress    float64    `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// PrecheckResult reports whether a final artifact already exists.
type PrecheckResult struct {
	ObjectID    string `json:"objectId"`
	Exists      bool   `json:"exists"`
	Stage       Stage  `json:"stage"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	RawURL      string `json:"rawUrl,omitempty"`
}

// InitResult answers an initiation request.
type InitResult struct {
	UploadID    string `json:"uploadId,omitempty"`
	ObjectID    string `json:"objectId"`
	Exists      bool   `json:"exists"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	RawURL      string `json:"rawUrl,omitempty"`
}

// SegmentResult answers a segment upload.
type SegmentResult struct {
	OK       bool `json:"ok"`
	Skipped  bool `json:"skipped,omitempty"`
	Received int  `json:"received"`
	Total    int  `json:"total"`
}

// CompleteResult answers a complete request.
type CompleteResult struct {
	OK    bool  `json:"ok"`
	Stage Stage `json:"stage"`
}

// DownloadURL is the API path serving the preferred artifact.
func DownloadURL(objectID string) string {
	return "/api/download/" + objectID
}

// RawDownloadURL is the API path serving the merged transport stream.
func RawDownloadURL(objectID string) string {
	return "/api/download/" + objectID + "?raw=ts"
}
