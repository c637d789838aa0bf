package stage

import "context"

// Health summarizes the readiness of a pipeline capability.
type Health struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Disabled bool   `json:"disabled,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is implemented by capabilities that can probe their backend.
type Checker interface {
	HealthCheck(ctx context.Context) Health
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Disabled marks an optional capability that is not configured.
func Disabled(name string) Health {
	return Health{Name: name, Disabled: true, Detail: "not configured"}
}
