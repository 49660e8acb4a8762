package models

// JobStatus represents the externally visible status of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Job represents a pending OCR unit of work.
// A job lives in exactly one place at a time: the pending queue or the
// worker that popped it. Requeue after a failed attempt creates a new
// entry with the same TaskID and RetryCount incremented.
type Job struct {
	TaskID      string `json:"task_id"`
	ImageURL    string `json:"image_url"`
	UserID      string `json:"user_id"`
	Timestamp   string `json:"timestamp"`
	CallbackURL string `json:"callback_url,omitempty"`
	EnqueuedAt  string `json:"enqueued_at"`
	RetryCount  int    `json:"retry_count"`
}

// ProcessRequest is the body of POST /process
type ProcessRequest struct {
	ImageURL    string `json:"image_url"`
	UserID      string `json:"user_id"`
	Timestamp   string `json:"timestamp"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// ProcessResponse is the 202 reply to POST /process.
// QueueSize is the size observed right after the push and may be stale
// under concurrent submissions.
type ProcessResponse struct {
	TaskID     string    `json:"task_id"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message"`
	EnqueuedAt string    `json:"enqueued_at"`
	QueueSize  int64     `json:"queue_size"`
}

// StatusResponse is the reply to GET /status
type StatusResponse struct {
	Service        string `json:"service"`
	Status         string `json:"status"`
	QueueConnected bool   `json:"queue_connected"`
	QueueSize      int64  `json:"queue_size"`
	Timestamp      string `json:"timestamp"`
}
