// Package results serves job outcome queries by task id.
package results

import (
	"context"
	"fmt"

	"github.com/bkose/ocr-relay/pkg/models"
	"github.com/bkose/ocr-relay/pkg/queue"
)

// Service answers result queries from the queue store. Stateless; safe for
// concurrent use.
type Service struct {
	store queue.Store
}

// NewService creates a result query service over the given queue store.
func NewService(store queue.Store) *Service {
	return &Service{store: store}
}

// Query returns the current status of a task. A task with no stored result
// reports "processing": still queued, mid-attempt, expired, or never
// submitted. Callers cannot tell these apart through this interface.
func (s *Service) Query(ctx context.Context, taskID string) (*models.ResultResponse, error) {
	result, err := s.store.GetResult(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve result: %w", err)
	}

	if result == nil {
		return &models.ResultResponse{
			TaskID: taskID,
			Status: models.JobStatusProcessing,
		}, nil
	}

	resp := &models.ResultResponse{
		TaskID: taskID,
		Status: result.Status,
	}
	if result.Status == models.JobStatusError {
		resp.Error = result.Error
	} else {
		resp.Result = result
	}
	return resp, nil
}
