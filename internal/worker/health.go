package worker

import (
	"sync"
	"time"
)

const (
	WorkerStatusHealthy    = "healthy"
	WorkerStatusRestarting = "restarting"
	WorkerStatusFailed     = "failed"
)

// WorkerHealth is what the health endpoint reports for one worker. Failure
// reasons stay in the logs.
type WorkerHealth struct {
	Status    string    `json:"status"`
	Restarts  int       `json:"restarts"`
	LastCheck time.Time `json:"last_check"`
}

// HealthStatus is a point in time view of every tracked worker. Status is
// healthy only when every worker is.
type HealthStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Workers   map[string]WorkerHealth `json:"workers"`
}

// HealthTracker records the last known status of each worker. It is safe
// for concurrent use.
type HealthTracker struct {
	mu      sync.RWMutex
	workers map[string]WorkerHealth
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		workers: make(map[string]WorkerHealth),
	}
}

func (h *HealthTracker) MarkHealthy(name string) {
	h.mark(name, WorkerStatusHealthy, false)
}

func (h *HealthTracker) MarkFailed(name string) {
	h.mark(name, WorkerStatusFailed, false)
}

// MarkRestarting records a failed worker that is scheduled to be started
// again and counts the restart.
func (h *HealthTracker) MarkRestarting(name string) {
	h.mark(name, WorkerStatusRestarting, true)
}

func (h *HealthTracker) mark(name, status string, restart bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	wh := h.workers[name]
	wh.Status = status
	wh.LastCheck = time.Now()
	if restart {
		wh.Restarts++
	}
	h.workers[name] = wh
}

func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workers := make(map[string]WorkerHealth, len(h.workers))
	for name, w := range h.workers {
		workers[name] = w
	}

	status := WorkerStatusHealthy
	if !h.isHealthyLocked() {
		status = WorkerStatusFailed
	}
	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Workers:   workers,
	}
}

// caller holds the read lock
func (h *HealthTracker) isHealthyLocked() bool {
	for _, w := range h.workers {
		if w.Status != WorkerStatusHealthy {
			return false
		}
	}
	return true
}
