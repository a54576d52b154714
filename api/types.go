package api

import (
	"time"

	"portsweep/scanner"
)

// Task lifecycle states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCanceled  = "canceled"
)

// ScanTask represents a sweep of one host managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	// Status reflects the asynchronous lifecycle state of the task.
	Status string `json:"status" enums:"pending,running,completed,failed,canceled" example:"running"`
	// Host is the hostname or IP literal being swept.
	Host string `json:"host" example:"scanme.nmap.org"`
	// Ports is the inclusive port range, "low-high".
	Ports string `json:"ports" example:"1-65535"`
	// TimeoutMs bounds every connect attempt.
	TimeoutMs int `json:"timeout_ms" example:"1000"`
	// Workers is the number of concurrent connect attempts.
	Workers int `json:"workers" example:"500"`
	// ReportErrors keeps unexpected probe failures apart from closed ports.
	ReportErrors bool `json:"report_errors"`
	// Progress counts delivered outcomes against the range size.
	Progress Progress `json:"progress"`
	// Summary counts outcomes per status.
	Summary Summary `json:"summary"`
	// Results lists every outcome that is not Closed, in ascending port order.
	Results []scanner.Outcome `json:"results,omitempty"`
	// CreatedAt records when the task was accepted.
	CreatedAt time.Time `json:"created_at" format:"date-time"`
	// StartedAt is set once a worker picks the task up.
	StartedAt *time.Time `json:"started_at,omitempty" format:"date-time"`
	// CompletedAt is set once the task reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
	// Error contains context when a task fails or is canceled.
	Error string `json:"error,omitempty" example:"failed to create worker pool"`
}

// Terminal reports whether the task can no longer change.
func (t *ScanTask) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// Progress tracks how many outcomes of a sweep have been delivered.
type Progress struct {
	Delivered int `json:"delivered" example:"1200"`
	Total     int `json:"total" example:"65535"`
}

// Summary counts outcomes per status.
type Summary struct {
	Open    int `json:"open"`
	Closed  int `json:"closed"`
	Timeout int `json:"timeout"`
	Error   int `json:"error"`
}

// Add counts one outcome.
func (s *Summary) Add(o scanner.Outcome) {
	switch o.Status {
	case scanner.StatusOpen:
		s.Open++
	case scanner.StatusClosed:
		s.Closed++
	case scanner.StatusTimeout:
		s.Timeout++
	default:
		s.Error++
	}
}

// CreateScanRequest is the payload for creating new scan tasks.
type CreateScanRequest struct {
	// Host is the target hostname or IP literal.
	Host string `json:"host" binding:"required" example:"scanme.nmap.org"`
	// Ports is an inclusive range "low-high" or a single port. Defaults to 1-65535.
	Ports string `json:"ports" example:"1-1024"`
	// TimeoutMs bounds every connect attempt. Defaults to 1000.
	TimeoutMs int `json:"timeout_ms" binding:"omitempty,min=1,max=60000" example:"1000"`
	// Workers caps concurrent connect attempts. Defaults to 500.
	Workers int `json:"workers" binding:"omitempty,min=1,max=5000" example:"500"`
	// ReportErrors reports unexpected probe failures as Error instead of Closed.
	ReportErrors bool `json:"report_errors"`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	ID     string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678"`
	Status string `json:"status" example:"pending"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	Error string `json:"error" example:"task not found"`
}
