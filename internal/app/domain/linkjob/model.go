package linkjob

import "time"

// Phase selects which automation script a job runs.
type Phase string

const (
	// PhaseLink transfers the credential file and drives the full login flow.
	PhaseLink Phase = "link"
	// PhasePhase2 resumes the consent flow after a manual 2FA confirmation.
	PhasePhase2 Phase = "phase2"
)

// Status of a queued automation job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is one unit of work for the device worker. Jobs are keyed by order so
// the same order cannot be queued twice concurrently.
type Job struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Phase   Phase  `json:"phase"`

	Status           Status `json:"status"`
	VerificationCode string `json:"verification_code,omitempty"`
	Error            string `json:"error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}
