// Package admission validates and enqueues incoming OCR job requests.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bkose/ocr-relay/pkg/models"
	"github.com/bkose/ocr-relay/pkg/queue"
)

// ValidationError reports malformed admission input. Never retried; maps
// to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnavailableError reports that the queue store could not be reached before
// the push. The job was not accepted; the caller must resubmit. Maps to
// HTTP 503.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("queue store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// timestampLayouts are the accepted ISO-8601 forms, most common first.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Service accepts jobs into the queue. Stateless; safe for concurrent use.
type Service struct {
	store queue.Store
}

// NewService creates an admission service over the given queue store.
func NewService(store queue.Store) *Service {
	return &Service{store: store}
}

// Submit validates the request, enqueues exactly one job and returns its
// task id together with the queue size observed right after the push.
func (s *Service) Submit(ctx context.Context, req *models.ProcessRequest) (*models.ProcessResponse, error) {
	if err := validateImageURL(req.ImageURL); err != nil {
		return nil, err
	}
	if err := validateTimestamp(req.Timestamp); err != nil {
		return nil, err
	}

	// Fail fast instead of silently losing the job on a dead store.
	if !s.store.Healthy(ctx) {
		return nil, &UnavailableError{Err: queue.ErrUnavailable}
	}

	job := &models.Job{
		TaskID:      uuid.New().String(),
		ImageURL:    req.ImageURL,
		UserID:      req.UserID,
		Timestamp:   req.Timestamp,
		CallbackURL: req.CallbackURL,
		EnqueuedAt:  time.Now().Format(time.RFC3339),
		RetryCount:  0,
	}

	if err := s.store.Push(ctx, job); err != nil {
		return nil, &UnavailableError{Err: err}
	}

	// Informational only; may already be stale under concurrent pushes.
	size, err := s.store.Size(ctx)
	if err != nil {
		size = 0
	}

	return &models.ProcessResponse{
		TaskID:     job.TaskID,
		Status:     models.JobStatusQueued,
		Message:    "Job successfully queued for processing",
		EnqueuedAt: job.EnqueuedAt,
		QueueSize:  size,
	}, nil
}

func validateImageURL(imageURL string) error {
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return &ValidationError{
			Field:  "image_url",
			Reason: "must start with http:// or https://",
		}
	}
	return nil
}

func validateTimestamp(timestamp string) error {
	if timestamp == "" {
		return &ValidationError{Field: "timestamp", Reason: "must not be empty"}
	}
	// Callers send a bare "Z" suffix for UTC on layouts that don't carry a
	// zone; tolerate it the way the original service did.
	normalized := strings.TrimSuffix(timestamp, "Z")
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, timestamp); err == nil {
			return nil
		}
		if _, err := time.Parse(layout, normalized); err == nil {
			return nil
		}
	}
	return &ValidationError{Field: "timestamp", Reason: "must be in ISO format"}
}
