package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"finance-sync-service/internal/consumers"
)

// Task Types
const (
	TypeSyncContinuation = "sync-continuation"
)

// NewSyncContinuationTask builds a continuation task for a later round.
func NewSyncContinuationTask(payload consumers.SyncContinuationDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSyncContinuation, data), nil
}
