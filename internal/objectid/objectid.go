// Package objectid derives the stable content identifier shared by the
// ingestion and enrichment pipelines.
package objectid

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Length is the number of hex characters in an identifier.
const Length = 16

// DefaultVideoType applies when a descriptor omits the video type.
const DefaultVideoType = "vga"

// Descriptor is the tuple a recording session is identified by.
type Descriptor struct {
	CourseID  string
	VideoID   int64
	VideoType string
	StartedAt string
}

// Compute returns the first 16 hex characters of
// sha1("courseId|videoId|videoType|startedAt").
func Compute(d Descriptor) string {
	videoType := strings.TrimSpace(d.VideoType)
	if videoType == "" {
		videoType = DefaultVideoType
	}
	key := strings.Join([]string{
		d.CourseID,
		strconv.FormatInt(d.VideoID, 10),
		videoType,
		d.StartedAt,
	}, "|")
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:Length]
}

// Valid reports whether id has the shape Compute produces.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
