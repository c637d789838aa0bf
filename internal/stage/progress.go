package stage

import "time"

// Clamp bounds progress to [0, 1].
func Clamp(progress float64) float64 {
	switch {
	case progress < 0:
		return 0
	case progress > 1:
		return 1
	default:
		return progress
	}
}

// Poll progress climbs from PollFloor towards PollCeiling over the soft budget.
const (
	PollFloor   = 0.30
	PollCeiling = 0.70
)

// PollProgress estimates polling progress for UI feedback only.
func PollProgress(elapsed, softBudget time.Duration) float64 {
	if softBudget <= 0 {
		return PollFloor
	}
	return min(PollCeiling, PollFloor+elapsed.Seconds()/softBudget.Seconds())
}
