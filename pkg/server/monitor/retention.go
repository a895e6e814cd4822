package monitor

import (
	"sync"
	"time"
)

// SweepMonitor tracks retention-sweep health and failures for the health
// endpoint.
type SweepMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastRemoved       int
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a successful sweep and how many rows it removed.
func (sm *SweepMonitor) RecordSuccess(removed int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastSuccess = time.Now()
	sm.lastAttempt = time.Now()
	sm.lastRemoved = removed
	sm.consecutiveErrors = 0
	sm.lastError = ""
}

// RecordFailure records a failed sweep.
func (sm *SweepMonitor) RecordFailure(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastAttempt = time.Now()
	sm.consecutiveErrors++
	if err != nil {
		sm.lastError = err.Error()
	}
}

// IsHealthy returns true if sweeps are working properly. Unhealthy when a
// sweep has never succeeded yet failures are piling up, when the last
// success is older than two sweep intervals, or after more than 3
// consecutive failures.
func (sm *SweepMonitor) IsHealthy() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.healthyLocked()
}

func (sm *SweepMonitor) healthyLocked() bool {
	if sm.consecutiveErrors > 3 {
		return false
	}
	if sm.lastSuccess.IsZero() {
		// Startup grace: no sweep has run yet.
		return sm.consecutiveErrors == 0
	}
	return time.Since(sm.lastSuccess) <= 2*time.Hour
}

// SweepStatus is the health-endpoint view of retention sweeps.
type SweepStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastRemoved       int    `json:"last_removed"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current sweep status for health checks.
func (sm *SweepMonitor) Status() SweepStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := SweepStatus{
		Healthy:           sm.healthyLocked(),
		LastRemoved:       sm.lastRemoved,
		ConsecutiveErrors: sm.consecutiveErrors,
		LastError:         sm.lastError,
	}
	if !sm.lastSuccess.IsZero() {
		status.LastSuccess = sm.lastSuccess.Format(time.RFC3339)
	}
	if !sm.lastAttempt.IsZero() {
		status.LastAttempt = sm.lastAttempt.Format(time.RFC3339)
	}
	return status
}
