package models

// Result is the durable outcome of one processing attempt. It is written
// unconditionally after every attempt (success or failure) and expires from
// the store after the configured retention window. A later retry of the
// same task overwrites it.
type Result struct {
	TaskID    string    `json:"task_id"`
	Status    JobStatus `json:"status"`
	UserID    string    `json:"user_id"`
	Timestamp string    `json:"timestamp"`
	ImageURL  string    `json:"image_url"`

	// Set when Status == completed. PhoneNumber may be empty: extraction
	// finding nothing is still a successful attempt.
	PhoneNumber string  `json:"phone_number,omitempty"`
	Confidence  float64 `json:"confidence"`
	OCRText     string  `json:"ocr_text,omitempty"`

	// Set when Status == error.
	Error string `json:"error,omitempty"`

	ProcessingTime float64 `json:"processing_time"`
	ProcessedAt    string  `json:"processed_at"`
}

// ResultResponse is the reply to GET /result/{task_id}. A task with no
// stored result reports status "processing", whether it is waiting in the
// queue, mid-attempt, or simply unknown.
type ResultResponse struct {
	TaskID string    `json:"task_id"`
	Status JobStatus `json:"status"`
	Result *Result   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}
