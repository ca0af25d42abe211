package services

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"finance-sync-service/internal/models"
)

// Per-record enrichment outcomes.
const (
	outcomeSuccess      = "success"
	outcomeNoCategory   = "no_category"
	outcomeHTTPError    = "http_error"
	outcomeNetworkError = "network_error"
	outcomeInterrupted  = "interrupted"
)

type passStatus int

const (
	passReachedEnd passStatus = iota
	passInterrupted
)

// EnrichmentResult summarizes one round of the enrichment engine.
type EnrichmentResult struct {
	Completed    bool
	TimedOut     bool
	Aborted      bool
	Processed    int
	Total        int
	SuccessCount int
	PendingCount int64
}

// EnrichmentService walks the pending set record by record, calling the
// ledger detail endpoint for the real category, persisting enriched records
// and checkpoint progress every CheckpointEvery records. It survives process
// restarts by resuming from the stored checkpoint index.
type EnrichmentService struct {
	DB          *gorm.DB
	Ledger      *LedgerClient
	Writer      *TransactionWriter
	Checkpoints *CheckpointService

	CheckpointEvery int
	MaxAttempts     int
	RetryDelay      time.Duration
	RateLimitDelay  time.Duration
	RateLimitCap    time.Duration
}

func NewEnrichmentService(db *gorm.DB, ledger *LedgerClient, writer *TransactionWriter, checkpoints *CheckpointService) *EnrichmentService {
	return &EnrichmentService{
		DB:              db,
		Ledger:          ledger,
		Writer:          writer,
		Checkpoints:     checkpoints,
		CheckpointEvery: 50,
		MaxAttempts:     3,
		RetryDelay:      500 * time.Millisecond,
		RateLimitDelay:  time.Second,
		RateLimitCap:    4 * time.Second,
	}
}

// Run executes enrichment passes until the pending set is confirmed empty of
// unattempted records, the time budget expires, or the run is aborted.
// Returned errors are round-fatal (invalid token, cancelled context); the
// checkpoint is left in place so a later round resumes where this one stopped.
func (s *EnrichmentService) Run(ctx context.Context, run *SyncRun, token string) (*EnrichmentResult, error) {
	result := &EnrichmentResult{}

	// Records that reached a terminal non-success outcome this round. They
	// stay pending in storage but must not keep the round alive forever.
	attempted := make(map[string]bool)

	for {
		pending, err := s.Writer.PendingTransactions(run.SchoolID)
		if err != nil {
			return result, err
		}

		cp, err := s.Checkpoints.Get(run.SchoolID)
		if err != nil {
			return result, err
		}

		if cp == nil {
			if len(pending) == 0 {
				result.Completed = true
				return result, nil
			}
			if cp, err = s.Checkpoints.Reset(run.SchoolID, len(pending)); err != nil {
				return result, err
			}
		}
		result.Total = cp.TotalTransactions

		status, err := s.runPass(ctx, run, token, pending, cp, attempted, result)
		if err != nil {
			return result, err
		}
		if status == passInterrupted {
			result.TimedOut = run.OverBudget()
			result.Aborted = run.Aborted()
			result.PendingCount, _ = s.Writer.PendingCount(run.SchoolID)
			return result, nil
		}

		// End of pass: re-check the true pending set in storage. Records that
		// became pending again through a concurrent bulk refresh restart the
		// pass at index 0; records already attempted this round do not.
		pendingNow, err := s.Writer.PendingTransactions(run.SchoolID)
		if err != nil {
			return result, err
		}

		fresh := 0
		for i := range pendingNow {
			if !attempted[pendingNow[i].ExternalID] {
				fresh++
			}
		}

		if fresh == 0 {
			if err := s.Checkpoints.Delete(run.SchoolID); err != nil {
				return result, err
			}
			result.Completed = true
			result.PendingCount = int64(len(pendingNow))
			log.Printf("[%s] Enrichment complete for school %d: %d processed, %d categorized, %d left uncategorized by source",
				run.Ref, run.SchoolID, result.Processed, result.SuccessCount, len(pendingNow))
			return result, nil
		}

		log.Printf("[%s] Re-check found %d pending records for school %d, restarting pass",
			run.Ref, len(pendingNow), run.SchoolID)
		if _, err := s.Checkpoints.Reset(run.SchoolID, len(pendingNow)); err != nil {
			return result, err
		}
	}
}

func (s *EnrichmentService) runPass(ctx context.Context, run *SyncRun, token string, pending []models.SyncedTransaction, cp *models.SyncCheckpoint, attempted map[string]bool, result *EnrichmentResult) (passStatus, error) {
	var staged []models.SyncedTransaction
	processedSinceSave := 0

	flush := func(index int) error {
		if len(staged) > 0 {
			if err := s.Writer.UpsertBatch(staged); err != nil {
				return err
			}
			staged = staged[:0]
		}
		return s.Checkpoints.Save(run.SchoolID, index, cp.SuccessCount)
	}

	start := cp.LastProcessedIndex
	if start > len(pending) {
		start = len(pending)
	}

	for i := start; i < len(pending); i++ {
		if run.Aborted() || run.OverBudget() {
			if err := flush(i); err != nil {
				return passInterrupted, err
			}
			return passInterrupted, nil
		}

		record := pending[i]

		outcome, category, err := s.enrichOne(ctx, run, &record, token)
		if err != nil {
			// Round-fatal. Save what we have; index stays at the last
			// unprocessed record.
			if ferr := flush(i); ferr != nil {
				return passInterrupted, ferr
			}
			return passInterrupted, err
		}

		if outcome == outcomeInterrupted {
			if err := flush(i); err != nil {
				return passInterrupted, err
			}
			return passInterrupted, nil
		}

		if outcome == outcomeSuccess {
			record.CategoryName = category
			staged = append(staged, record)
			cp.SuccessCount++
			result.SuccessCount++
			run.SpeedUp()
		} else {
			attempted[record.ExternalID] = true
			run.SlowDown()
		}

		cp.LastProcessedIndex = i + 1
		result.Processed++
		processedSinceSave++

		if processedSinceSave >= s.CheckpointEvery {
			if err := flush(i + 1); err != nil {
				return passInterrupted, err
			}
			processedSinceSave = 0
		}

		if i+1 < len(pending) {
			if err := sleepCtx(ctx, run.Delay); err != nil {
				return passInterrupted, err
			}
		}
	}

	if err := flush(len(pending)); err != nil {
		return passInterrupted, err
	}
	return passReachedEnd, nil
}

// enrichOne fetches the real category for a single record, classifying the
// outcome. Rate limiting retries the same record without a ceiling; server
// and network errors get a small bounded number of attempts, after which the
// record keeps its fallback category and is retried on a later pass.
func (s *EnrichmentService) enrichOne(ctx context.Context, run *SyncRun, record *models.SyncedTransaction, token string) (string, string, error) {
	endpoint := ReceivablesEndpoint
	if record.Type == models.TypeExpense {
		endpoint = PayablesEndpoint
	}

	attempts := 0
	rateWait := s.RateLimitDelay

	for {
		if run.Aborted() || run.OverBudget() {
			return outcomeInterrupted, "", nil
		}

		detail, err := s.Ledger.FetchDetail(ctx, endpoint, record.SourceID(), token)
		if err == nil {
			if name := detail.CategoryName(); name != "" {
				return outcomeSuccess, name, nil
			}
			// The source system itself has no category for this record. Not
			// an error; the fallback stays.
			return outcomeNoCategory, "", nil
		}

		switch {
		case errors.Is(err, ErrRateLimited):
			run.SlowDown()
			if serr := sleepCtx(ctx, rateWait); serr != nil {
				return "", "", serr
			}
			rateWait *= 2
			if rateWait > s.RateLimitCap {
				rateWait = s.RateLimitCap
			}

		case errors.Is(err, ErrReconnectRequired):
			return "", "", err

		case ctx.Err() != nil:
			return "", "", ctx.Err()

		default:
			attempts++
			if attempts >= s.MaxAttempts {
				var apiErr *LedgerAPIError
				if errors.As(err, &apiErr) {
					log.Printf("[%s] Record %s failed with status %d after %d attempts", run.Ref, record.ExternalID, apiErr.StatusCode, attempts)
					return outcomeHTTPError, "", nil
				}
				log.Printf("[%s] Record %s failed with network error after %d attempts: %v", run.Ref, record.ExternalID, attempts, err)
				return outcomeNetworkError, "", nil
			}
			if serr := sleepCtx(ctx, time.Duration(attempts)*s.RetryDelay); serr != nil {
				return "", "", serr
			}
		}
	}
}
