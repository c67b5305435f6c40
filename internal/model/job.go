package model

import "time"

// Job status constants.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Failure cause constants recorded in JobError.Cause.
const (
	CauseTimeout          = "timeout"
	CauseCapacityExceeded = "capacity_exceeded"
	CauseExecution        = "execution_error"
)

// validTransitions maps each status to the set of statuses it may transition to.
// queued→failed covers submissions rejected at enqueue (capacity exceeded).
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// JobError is the structured failure cause attached to a failed job.
type JobError struct {
	Cause   string `json:"cause"`
	Message string `json:"message"`
}

// FileMeta describes one output artifact produced by a completed job.
type FileMeta struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Job represents a report-generation request tracked through its lifecycle.
type Job struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	DefinitionURI string         `json:"definition_uri"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	Priority      int            `json:"priority"`
	Status        string         `json:"status"`
	Progress      int            `json:"progress"`
	Message       string         `json:"message,omitempty"`
	SubmittedBy   string         `json:"submitted_by,omitempty"`
	TimeoutS      int            `json:"timeout_s,omitempty"`
	OutputFiles   []FileMeta     `json:"output_files,omitempty"`
	Error         *JobError      `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the job. Callers may mutate the copy without
// racing with the original.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Arguments != nil {
		cp.Arguments = make(map[string]any, len(j.Arguments))
		for k, v := range j.Arguments {
			cp.Arguments[k] = v
		}
	}
	if j.OutputFiles != nil {
		cp.OutputFiles = append([]FileMeta(nil), j.OutputFiles...)
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
