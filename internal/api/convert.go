package api

import (
	"time"

	"github.com/yang-kun-long/YanheKt-AI/internal/registry"
)

// FromRecord converts a registry record to its status payload. A nil record
// is reported as UNKNOWN.
func FromRecord(objectID string, rec *registry.Record) InsightStatus {
	if rec == nil {
		return InsightStatus{ObjectID: objectID, Stage: string(registry.StageUnknown)}
	}
	dto := InsightStatus{
		ObjectID:  rec.ObjectID,
		Stage:     string(rec.Stage),
		Progress:  rec.Progress,
		Message:   rec.Message,
		Attempts:  rec.Attempts,
		Error:     rec.Error,
		CreatedAt: unixSeconds(rec.CreatedAt),
		UpdatedAt: unixSeconds(rec.UpdatedAt),
	}
	if dto.ObjectID == "" {
		dto.ObjectID = objectID
	}
	if dto.Stage == "" {
		dto.Stage = string(registry.StageUnknown)
	}
	return dto
}

// FromRecords converts a slice of records.
func FromRecords(records []*registry.Record) []InsightStatus {
	out := make([]InsightStatus, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		out = append(out, FromRecord(rec.ObjectID, rec))
	}
	return out
}

// Time converts a Unix-seconds payload timestamp back to a time.
func Time(seconds *float64) time.Time {
	if seconds == nil {
		return time.Time{}
	}
	whole := int64(*seconds)
	frac := *seconds - float64(whole)
	return time.Unix(whole, int64(frac*1e9))
}

func unixSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := float64(t.UnixMilli()) / 1000
	return &v
}
