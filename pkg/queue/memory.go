package queue

import (
	"context"
	"sync"
	"time"

	"github.com/bkose/ocr-relay/pkg/models"
)

// MemoryStore is an in-memory implementation of Store for tests and local
// development. It honors the same semantics as the Redis backend: FIFO
// order, single-receiver pop, result expiry.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      []*models.Job
	results   map[string]*memoryResult
	resultTTL time.Duration
	signal    chan struct{}
	closed    bool
}

type memoryResult struct {
	result    *models.Result
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with the given result TTL.
func NewMemoryStore(resultTTL time.Duration) *MemoryStore {
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}
	return &MemoryStore{
		results:   make(map[string]*memoryResult),
		resultTTL: resultTTL,
		signal:    make(chan struct{}, 1),
	}
}

// Push appends the job to the tail of the pending list.
func (s *MemoryStore) Push(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	// Wake one blocked Pop. The channel holds at most one token, so
	// back-to-back pushes may coalesce into a single wakeup; every waiter
	// re-checks the list before returning, including on timeout.
	select {
	case s.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the head of the pending list, blocking up to
// timeout when the queue is empty.
func (s *MemoryStore) Pop(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	if job := s.tryPop(); job != nil {
		return job, nil
	}
	if timeout <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.signal:
			if job := s.tryPop(); job != nil {
				return job, nil
			}
			// Another consumer won the race; keep waiting.
		case <-timer.C:
			// A coalesced wakeup may have left a job behind; take it
			// rather than report an empty queue.
			return s.tryPop(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *MemoryStore) tryPop() *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) == 0 {
		return nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job
}

// PutResult stores the result with the configured TTL.
func (s *MemoryStore) PutResult(ctx context.Context, taskID string, result *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[taskID] = &memoryResult{
		result:    result,
		expiresAt: time.Now().Add(s.resultTTL),
	}
	return nil
}

// GetResult returns the stored result, expiring entries lazily.
func (s *MemoryStore) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.results[taskID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.results, taskID)
		return nil, nil
	}
	return entry.result, nil
}

// Size returns the number of pending jobs.
func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.jobs)), nil
}

// Healthy always reports true until the store is closed.
func (s *MemoryStore) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Clear drops all pending jobs.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = nil
	return nil
}

// Close marks the store unhealthy.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
