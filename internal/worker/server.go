package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"finance-sync-service/internal/consumers"
)

type Worker struct {
	Processor *consumers.SyncProcessor
}

func NewWorker(processor *consumers.SyncProcessor) *Worker {
	return &Worker{
		Processor: processor,
	}
}

func (w *Worker) HandleSyncContinuation(ctx context.Context, t *asynq.Task) error {
	var p consumers.SyncContinuationDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	w.Processor.ProcessContinuation(p)
	return nil
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.SyncProcessor) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			// Rounds are sequential per school; one worker at a time keeps
			// rate-limit behavior predictable even with many tenants queued.
			Concurrency: 2,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	worker := NewWorker(processor)
	mux := asynq.NewServeMux()

	mux.HandleFunc(TypeSyncContinuation, worker.HandleSyncContinuation)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
