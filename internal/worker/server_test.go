package worker

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-sync-service/internal/consumers"
)

func TestNewSyncContinuationTask(t *testing.T) {
	task, err := NewSyncContinuationTask(consumers.SyncContinuationDTO{SchoolID: 7, Round: 3})
	require.NoError(t, err)

	assert.Equal(t, TypeSyncContinuation, task.Type())
	assert.JSONEq(t, `{"schoolId":7,"round":3}`, string(task.Payload()))
}

func TestHandleSyncContinuationBadPayload(t *testing.T) {
	w := NewWorker(nil)

	task := asynq.NewTask(TypeSyncContinuation, []byte("not json"))
	err := w.HandleSyncContinuation(context.Background(), task)

	// Malformed payloads can never succeed; the queue must not retry them.
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
