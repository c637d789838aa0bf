package registry

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Stage names the enrichment pipeline state persisted per object.
type Stage string

const (
	StageUnknown         Stage = "UNKNOWN"
	StageCheck           Stage = "CHECK"
	StageStorageUpload   Stage = "OSS_UPLOAD"
	StageSubmit          Stage = "AI_SUBMIT"
	StagePoll            Stage = "AI_POLL"
	StageDownloadResults Stage = "DOWNLOAD_RESULTS"
	StageIndex           Stage = "ES_INDEX"
	StageCleanup         Stage = "OSS_CLEAN"
	StageDone            Stage = "DONE"
	StageFailed          Stage = "FAILED"
)

var runningStages = map[Stage]struct{}{
	StageStorageUpload:   {},
	StageSubmit:          {},
	StagePoll:            {},
	StageDownloadResults: {},
	StageIndex:           {},
	StageCleanup:         {},
}

// IsRunning reports whether a worker is expected to be driving the object.
func (s Stage) IsRunning() bool {
	_, ok := runningStages[s]
	return ok
}

// RunningStages lists the in-flight stages in pipeline order.
func RunningStages() []Stage {
	return []Stage{StageStorageUpload, StageSubmit, StagePoll, StageDownloadResults, StageIndex, StageCleanup}
}

// Step ledger keys.
const (
	StepStorageUpload = "oss_upload"
	StepSubmit        = "ai_submit"
	StepFetch         = "ai_fetch"
	StepDownload      = "dl_results"
	StepIndex         = "es_index"
	StepCleanup       = "oss_clean"
	StepKickDownload  = "_kick_dl"
)

// Record is the typed view of a persisted state document.
type Record struct {
	ObjectID      string               `json:"objectId"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
	Attempts      int                  `json:"attempts"`
	Stage         Stage                `json:"stage"`
	Progress      float64              `json:"progress"`
	Message       string               `json:"message"`
	Error         string               `json:"error,omitempty"`
	Meta          map[string]any       `json:"meta,omitempty"`
	Storage       StorageState         `json:"storage"`
	Transcription TranscriptionState   `json:"transcription"`
	Results       ResultPaths          `json:"results"`
	Once          map[string]time.Time `json:"once,omitempty"`
}

// StorageState tracks the remote staging copy of the artifact.
type StorageState struct {
	RemoteKey string `json:"remoteKey,omitempty"`
	Uploaded  bool   `json:"uploaded,omitempty"`
	SignedURL string `json:"signedUrl,omitempty"`
}

// TranscriptionState tracks the external transcription task.
type TranscriptionState struct {
	TaskID string            `json:"taskId,omitempty"`
	Result map[string]string `json:"result,omitempty"`
}

// ResultPaths lists the local result files; a path is set only when the file exists.
type ResultPaths struct {
	ASRPath string `json:"asrPath,omitempty"`
	PPTPath string `json:"pptPath,omitempty"`
	PDFPath string `json:"pdfPath,omitempty"`
	SRTPath string `json:"srtPath,omitempty"`
}

// StepDone reports whether the ledger records step as completed.
func (r *Record) StepDone(step string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Once[step]
	return ok
}

// SessionID returns meta.sessionId rendered as a string.
func (r *Record) SessionID() string {
	if r == nil {
		return ""
	}
	return metaString(r.Meta["sessionId"])
}

func metaString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
