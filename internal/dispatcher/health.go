package dispatcher

import (
	"sync"
	"time"
)

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Collaborator names used as health keys and log tags.
const (
	collabRows     = "rows"
	collabTimecode = "timecode"
	collabSink     = "sink"
)

// collabHealth tracks consecutive failures for one external collaborator.
// Fields are protected by mu because the refresh and tick loops update
// different collaborators but the HTTP health handler reads them all.
type collabHealth struct {
	mu          sync.Mutex
	failures    int
	lastErr     string
	lastFail    time.Time
	lastEmitted HealthStatus
}

func newCollabHealth() *collabHealth {
	return &collabHealth{lastEmitted: StatusHealthy}
}

func (h *collabHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
}

func (h *collabHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *collabHealth) statusLocked(threshold int) HealthStatus {
	switch {
	case h.failures >= threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	}
	return StatusHealthy
}

// snapshot returns a consistent copy of the health fields under the lock.
func (h *collabHealth) snapshot(threshold int) (status HealthStatus, failures int, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(threshold), h.failures, h.lastErr
}

// snapshotAndEmit additionally reports whether the status changed since
// the last emission, updating lastEmitted when it did. Single lock
// acquisition so a concurrent update cannot split the read from the mark.
func (h *collabHealth) snapshotAndEmit(threshold int) (status HealthStatus, failures int, lastErr string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = h.statusLocked(threshold)
	changed = status != h.lastEmitted
	if changed {
		h.lastEmitted = status
	}
	return status, h.failures, h.lastErr, changed
}

// CollaboratorState is one entry of the health snapshot served over HTTP.
type CollaboratorState struct {
	Status    HealthStatus `json:"status"`
	Failures  int          `json:"failures"`
	LastError string       `json:"lastError,omitempty"`
}
