// Package queue provides the durable FIFO job queue and the expiring result
// store shared by the receiver and all workers. Push and Pop are the
// correctness-critical primitives: Pop must be atomic across arbitrarily many
// competing consumers so no two workers ever receive the same job.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bkose/ocr-relay/pkg/models"
)

var (
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("queue store unavailable")
)

// Store defines the queue and result store contract.
// All operations must be safe under concurrent callers from multiple
// processes.
type Store interface {
	// Push appends the job to the tail of the pending list.
	Push(ctx context.Context, job *models.Job) error

	// Pop atomically removes and returns the head of the pending list.
	// A zero timeout tries once and returns immediately; a positive timeout
	// blocks up to that duration. An empty queue yields (nil, nil).
	Pop(ctx context.Context, timeout time.Duration) (*models.Job, error)

	// PutResult stores the result keyed by task id with the store's
	// configured TTL, overwriting any previous entry for the same task.
	PutResult(ctx context.Context, taskID string, result *models.Result) error

	// GetResult returns the stored result, or (nil, nil) if absent/expired.
	GetResult(ctx context.Context, taskID string) (*models.Result, error)

	// Size returns the number of pending jobs.
	Size(ctx context.Context) (int64, error)

	// Healthy probes the backing store.
	Healthy(ctx context.Context) bool

	// Clear drops all pending jobs. Operator/debug use only.
	Clear(ctx context.Context) error

	Close() error
}
