package consumers

import (
	"context"
	"log"

	"finance-sync-service/internal/services"
)

// SyncContinuationDTO is the payload of a continuation task. It mirrors
// services.SyncContinuationPayload.
type SyncContinuationDTO struct {
	SchoolID int `json:"schoolId"`
	Round    int `json:"round"`
}

// SyncProcessor runs continuation rounds delivered through the task queue.
type SyncProcessor struct {
	Sync *services.SyncService
}

func NewSyncProcessor(sync *services.SyncService) *SyncProcessor {
	return &SyncProcessor{Sync: sync}
}

// ProcessContinuation executes one continuation round. The round itself
// schedules any further continuation, so errors here are logged and not
// retried by the queue.
func (p *SyncProcessor) ProcessContinuation(dto SyncContinuationDTO) {
	log.Printf("Processing continuation round %d for school %d", dto.Round, dto.SchoolID)

	result, err := p.Sync.RunRound(context.Background(), dto.SchoolID, dto.Round, true)
	if err != nil {
		log.Printf("Continuation round %d for school %d failed: %v", dto.Round, dto.SchoolID, err)
		return
	}

	log.Printf("Continuation round %d for school %d finished: completed=%v message=%q",
		dto.Round, dto.SchoolID, result.Completed, result.Message)
}
