package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"finance-sync-service/internal/models"
	"finance-sync-service/pkg/common"
)

// Task type, mirrored in worker/tasks.go to avoid an import cycle.
const TypeSyncContinuation = "sync-continuation"

// SyncContinuationPayload matches consumers.SyncContinuationDTO.
type SyncContinuationPayload struct {
	SchoolID int `json:"schoolId"`
	Round    int `json:"round"`
}

// SyncProgress is the progress block of the trigger/status payload.
type SyncProgress struct {
	Processed    int     `json:"processed"`
	Total        int     `json:"total"`
	Percentage   float64 `json:"percentage"`
	SuccessCount int     `json:"successCount"`
	PendingCount int64   `json:"pendingCount"`
}

// SyncResult is returned to the trigger caller and recorded per round.
type SyncResult struct {
	Success   bool         `json:"success"`
	Completed bool         `json:"completed"`
	Message   string       `json:"message"`
	Progress  SyncProgress `json:"progress"`
}

// SyncService orchestrates rounds: round 1 does the bulk fetch and fallback
// write, later rounds resume enrichment only. When a round runs out of time
// before the pending set is drained, a continuation round is enqueued on a
// delay instead of blocking the caller.
type SyncService struct {
	DB          *gorm.DB
	Tokens      *TokenService
	Ledger      *LedgerClient
	Writer      *TransactionWriter
	Checkpoints *CheckpointService
	Enricher    *EnrichmentService
	Notifier    *NotificationService
	Client      *asynq.Client

	MaxRounds         int
	ContinuationDelay time.Duration
	LookbackMonths    int

	mu   sync.Mutex
	runs map[int]*SyncRun
}

func NewSyncService(db *gorm.DB, tokens *TokenService, ledger *LedgerClient, writer *TransactionWriter, checkpoints *CheckpointService, enricher *EnrichmentService, notifier *NotificationService, client *asynq.Client) *SyncService {
	return &SyncService{
		DB:                db,
		Tokens:            tokens,
		Ledger:            ledger,
		Writer:            writer,
		Checkpoints:       checkpoints,
		Enricher:          enricher,
		Notifier:          notifier,
		Client:            client,
		MaxRounds:         30,
		ContinuationDelay: 30 * time.Second,
		LookbackMonths:    12,
		runs:              make(map[int]*SyncRun),
	}
}

// StartSync kicks off round 1 in a detached goroutine and returns right away
// so the trigger caller never waits on enrichment.
func (s *SyncService) StartSync(schoolID int, resumeOnly bool) SyncResult {
	if s.isRunning(schoolID) {
		return SyncResult{
			Success:  false,
			Message:  "A sync is already running for this school",
			Progress: s.Progress(schoolID),
		}
	}

	go func() {
		if _, err := s.RunRound(context.Background(), schoolID, 1, resumeOnly); err != nil {
			log.Printf("Sync round 1 for school %d failed: %v", schoolID, err)
		}
	}()

	return SyncResult{
		Success:  true,
		Message:  "Sync started",
		Progress: s.Progress(schoolID),
	}
}

// RunRound executes one bounded round. It is called by StartSync for round 1
// and by the asynq consumer for continuation rounds.
func (s *SyncService) RunRound(ctx context.Context, schoolID, round int, resumeOnly bool) (*SyncResult, error) {
	if round > s.MaxRounds {
		return s.roundCapResult(schoolID, round), nil
	}

	run := NewSyncRun(schoolID, round, common.GenerateSyncRef())
	if !s.register(run) {
		return &SyncResult{
			Success:  false,
			Message:  "A sync is already running for this school",
			Progress: s.Progress(schoolID),
		}, nil
	}
	defer s.unregister(schoolID)

	syncLog := s.openLog(schoolID, round)
	log.Printf("[%s] Starting sync round %d for school %d (resumeOnly=%v)", run.Ref, round, schoolID, resumeOnly)

	token, err := s.Tokens.GetValidToken(ctx, schoolID)
	if err != nil {
		return s.failRound(syncLog, run, err)
	}

	fetched := 0
	if round == 1 && !resumeOnly {
		if fetched, err = s.bulkFetch(ctx, run, token); err != nil {
			return s.failRound(syncLog, run, err)
		}
	} else {
		cp, err := s.Checkpoints.Get(schoolID)
		if err != nil {
			return s.failRound(syncLog, run, err)
		}
		pendingCount, err := s.Writer.PendingCount(schoolID)
		if err != nil {
			return s.failRound(syncLog, run, err)
		}
		if cp == nil && pendingCount == 0 {
			s.closeLog(syncLog, models.SyncStatusCompleted, fetched, 0, 0, "nothing to enrich")
			return &SyncResult{
				Success:   true,
				Completed: true,
				Message:   "All records are already enriched",
				Progress:  s.Progress(schoolID),
			}, nil
		}
	}

	enr, err := s.Enricher.Run(ctx, run, token)
	if err != nil {
		s.closeLog(syncLog, models.SyncStatusFailed, fetched, enr.Processed, enr.SuccessCount, err.Error())
		return s.errorResult(schoolID, err), err
	}

	progress := s.progressFromResult(schoolID, enr)

	if enr.Completed {
		s.closeLog(syncLog, models.SyncStatusCompleted, fetched, enr.Processed, enr.SuccessCount, "enrichment complete")
		s.Notifier.NotifySummary(SyncSummary{
			SchoolID:     schoolID,
			Round:        round,
			Status:       models.SyncStatusCompleted,
			Fetched:      fetched,
			Processed:    enr.Processed,
			SuccessCount: enr.SuccessCount,
		})
		return &SyncResult{
			Success:   true,
			Completed: true,
			Message:   "Sync completed",
			Progress:  progress,
		}, nil
	}

	if enr.Aborted {
		s.closeLog(syncLog, models.SyncStatusTimeout, fetched, enr.Processed, enr.SuccessCount, "paused by caller")
		return &SyncResult{
			Success:  true,
			Message:  "Sync paused",
			Progress: progress,
		}, nil
	}

	// Out of time. Either schedule a continuation or give up at the cap.
	if round >= s.MaxRounds {
		s.closeLog(syncLog, models.SyncStatusFailed, fetched, enr.Processed, enr.SuccessCount, "round cap reached")
		return s.roundCapResult(schoolID, round), nil
	}

	s.closeLog(syncLog, models.SyncStatusTimeout, fetched, enr.Processed, enr.SuccessCount, "time budget exhausted")
	s.scheduleContinuation(schoolID, round+1)

	return &SyncResult{
		Success:  true,
		Message:  fmt.Sprintf("Round %d ran out of time, continuation scheduled", round),
		Progress: progress,
	}, nil
}

// bulkFetch pulls both list endpoints, maps the items and writes them with
// fallback categories, then resets the checkpoint over the new pending set.
func (s *SyncService) bulkFetch(ctx context.Context, run *SyncRun, token string) (int, error) {
	dateTo := time.Now()
	dateFrom := dateTo.AddDate(0, -s.LookbackMonths, 0)

	receivables, err := s.Ledger.FetchAll(ctx, ReceivablesEndpoint, dateFrom, dateTo, token)
	if err != nil {
		return 0, err
	}
	payables, err := s.Ledger.FetchAll(ctx, PayablesEndpoint, dateFrom, dateTo, token)
	if err != nil {
		return 0, err
	}

	records := make([]models.SyncedTransaction, 0, len(receivables)+len(payables))
	for _, item := range receivables {
		if mapped := MapReceivable(run.SchoolID, item); mapped != nil {
			records = append(records, *mapped)
		}
	}
	for _, item := range payables {
		if mapped := MapPayable(run.SchoolID, item); mapped != nil {
			records = append(records, *mapped)
		}
	}

	if err := s.Writer.UpsertBatch(records); err != nil {
		return 0, err
	}

	pendingCount, err := s.Writer.PendingCount(run.SchoolID)
	if err != nil {
		return 0, err
	}
	if _, err := s.Checkpoints.Reset(run.SchoolID, int(pendingCount)); err != nil {
		return 0, err
	}

	log.Printf("[%s] Bulk fetch for school %d: %d fetched, %d mapped, %d pending enrichment",
		run.Ref, run.SchoolID, len(receivables)+len(payables), len(records), pendingCount)

	return len(receivables) + len(payables), nil
}

// PauseSync sets the cooperative abort flag on an in-process run. Returns
// false when no run is active in this process.
func (s *SyncService) PauseSync(schoolID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[schoolID]
	if ok {
		run.Abort()
	}
	return ok
}

// ClearSyncedData deletes every synced row for a school. Used by the admin
// clear-and-resync operation before a fresh round 1.
func (s *SyncService) ClearSyncedData(schoolID int) error {
	if s.isRunning(schoolID) {
		return errors.New("cannot clear data while a sync is running")
	}
	return s.Writer.ClearSchoolData(schoolID)
}

// Progress builds the UI progress snapshot from the checkpoint row and the
// stored pending count.
func (s *SyncService) Progress(schoolID int) SyncProgress {
	progress := SyncProgress{}

	if cp, err := s.Checkpoints.Get(schoolID); err == nil && cp != nil {
		progress.Processed = cp.LastProcessedIndex
		progress.Total = cp.TotalTransactions
		progress.SuccessCount = cp.SuccessCount
		if cp.TotalTransactions > 0 {
			progress.Percentage = float64(cp.LastProcessedIndex) / float64(cp.TotalTransactions) * 100
		}
	}

	if count, err := s.Writer.PendingCount(schoolID); err == nil {
		progress.PendingCount = count
	}

	return progress
}

// StartScheduler runs a periodic sweep that resumes enrichment for schools
// whose checkpoint has gone stale (a process died mid-pass).
func (s *SyncService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("*/30 * * * *", func() {
		log.Println("Running stalled-sync sweep...")
		s.resumeStalled()
	})
	if err != nil {
		log.Printf("Error scheduling stalled-sync sweep: %v", err)
		return
	}
	c.Start()
	log.Println("Sync Scheduler started (every 30 minutes)")
}

func (s *SyncService) resumeStalled() {
	var stalled []models.SyncCheckpoint
	cutoff := time.Now().Add(-10 * time.Minute)
	if err := s.DB.Where("updated_at < ?", cutoff).Find(&stalled).Error; err != nil {
		log.Printf("Stalled-sync sweep query failed: %v", err)
		return
	}

	for _, cp := range stalled {
		if s.isRunning(cp.SchoolID) {
			continue
		}
		log.Printf("Resuming stalled sync for school %d (checkpoint idle since %s)", cp.SchoolID, cp.UpdatedAt.Format(time.RFC3339))
		s.StartSync(cp.SchoolID, true)
	}
}

func (s *SyncService) scheduleContinuation(schoolID, round int) {
	if s.Client == nil {
		log.Printf("No task client configured, continuation round %d for school %d not scheduled", round, schoolID)
		return
	}

	payload, err := json.Marshal(SyncContinuationPayload{SchoolID: schoolID, Round: round})
	if err != nil {
		log.Printf("Failed to marshal continuation payload: %v", err)
		return
	}

	task := asynq.NewTask(TypeSyncContinuation, payload)
	info, err := s.Client.Enqueue(task,
		asynq.TaskID(fmt.Sprintf("sync-continuation:%d:%d", schoolID, round)),
		asynq.ProcessIn(s.ContinuationDelay),
	)
	if err != nil {
		log.Printf("Failed to enqueue continuation round %d for school %d: %v", round, schoolID, err)
		return
	}
	log.Printf("Continuation round %d for school %d enqueued as %s", round, schoolID, info.ID)
}

func (s *SyncService) register(run *SyncRun) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.SchoolID]; exists {
		return false
	}
	s.runs[run.SchoolID] = run
	return true
}

func (s *SyncService) unregister(schoolID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, schoolID)
}

func (s *SyncService) isRunning(schoolID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[schoolID]
	return ok
}

func (s *SyncService) progressFromResult(schoolID int, enr *EnrichmentResult) SyncProgress {
	progress := SyncProgress{
		Processed:    enr.Processed,
		Total:        enr.Total,
		SuccessCount: enr.SuccessCount,
		PendingCount: enr.PendingCount,
	}
	if enr.Total > 0 {
		progress.Percentage = float64(enr.Processed) / float64(enr.Total) * 100
	}
	if enr.Completed {
		progress.Percentage = 100
	}
	return progress
}

func (s *SyncService) roundCapResult(schoolID, round int) *SyncResult {
	log.Printf("Round cap (%d) reached for school %d, giving up", s.MaxRounds, schoolID)
	return &SyncResult{
		Success:  false,
		Message:  fmt.Sprintf("Sync did not finish within %d rounds", s.MaxRounds),
		Progress: s.Progress(schoolID),
	}
}

func (s *SyncService) errorResult(schoolID int, err error) *SyncResult {
	message := "Sync failed: " + err.Error()
	switch {
	case errors.Is(err, ErrReconnectRequired):
		message = "The ledger connection is no longer valid. Please reconnect the school's account."
	case errors.Is(err, ErrNotConnected):
		message = "This school is not connected to the ledger API yet."
	}
	return &SyncResult{
		Success:  false,
		Message:  message,
		Progress: s.Progress(schoolID),
	}
}

func (s *SyncService) failRound(syncLog *models.SyncLog, run *SyncRun, err error) (*SyncResult, error) {
	log.Printf("[%s] Round %d for school %d failed: %v", run.Ref, run.Round, run.SchoolID, err)
	s.closeLog(syncLog, models.SyncStatusFailed, 0, 0, 0, err.Error())
	return s.errorResult(run.SchoolID, err), err
}

func (s *SyncService) openLog(schoolID, round int) *models.SyncLog {
	entry := &models.SyncLog{
		ID:       uuid.NewString(),
		SchoolID: schoolID,
		Round:    round,
		Status:   models.SyncStatusRunning,
	}
	if err := s.DB.Create(entry).Error; err != nil {
		log.Printf("Failed to create sync log: %v", err)
	}
	return entry
}

func (s *SyncService) closeLog(entry *models.SyncLog, status string, fetched, processed, successCount int, message string) {
	now := time.Now()
	err := s.DB.Model(entry).Updates(map[string]interface{}{
		"status":          status,
		"fetched_count":   fetched,
		"processed_count": processed,
		"success_count":   successCount,
		"message":         message,
		"finished_at":     &now,
	}).Error
	if err != nil {
		log.Printf("Failed to update sync log %s: %v", entry.ID, err)
	}
}
