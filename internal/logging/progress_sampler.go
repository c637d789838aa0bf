package logging

import (
	"math"
	"strings"
)

// bucketEpsilon absorbs float error at bucket edges (0.3/0.1 is 2.999...).
const bucketEpsilon = 1e-9

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when stages or progress buckets change. Progress is a fraction in [0, 1].
type ProgressSampler struct {
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when progress crosses
// bucket boundaries (default 0.05) or when the stage changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 || bucketSize > 1 {
		bucketSize = 0.05
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// progress means unknown and only stage changes are reported.
func (s *ProgressSampler) ShouldLog(stage string, progress float64) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	if progress >= 0 {
		if progress > 1 {
			progress = 1
		}
		bucket := s.bucket(progress)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

func (s *ProgressSampler) bucket(progress float64) int {
	return int(math.Floor(progress/s.bucketSize + bucketEpsilon))
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}
