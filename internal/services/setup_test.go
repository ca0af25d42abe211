package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"finance-sync-service/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// In-memory sqlite is per connection; pin the pool to one so every
	// goroutine sees the same database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.TokenConfig{},
		&models.SyncedTransaction{},
		&models.SyncCheckpoint{},
		&models.SyncLog{},
	))

	return db
}

// quietDelays zeroes the adaptive-delay knobs so enrichment loops do not
// sleep between records during tests.
func quietDelays(t *testing.T) {
	t.Helper()
	t.Setenv("SYNC_CALL_DELAY_MS", "0")
	t.Setenv("SYNC_MIN_CALL_DELAY_MS", "0")
	t.Setenv("SYNC_MAX_CALL_DELAY_MS", "1")
}

func testRun(schoolID int) *SyncRun {
	run := NewSyncRun(schoolID, 1, "TEST")
	run.Delay = 0
	run.MinDelay = 0
	run.MaxDelay = time.Millisecond
	return run
}

func fastEnricher(db *gorm.DB, ledger *LedgerClient) *EnrichmentService {
	e := NewEnrichmentService(db, ledger, NewTransactionWriter(db), NewCheckpointService(db))
	e.RetryDelay = time.Millisecond
	e.RateLimitDelay = time.Millisecond
	e.RateLimitCap = 4 * time.Millisecond
	return e
}

func seedToken(t *testing.T, db *gorm.DB, schoolID int, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.TokenConfig{
		SchoolID:     schoolID,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    expiresAt,
	}).Error)
}

// seedPending inserts n income records still carrying the fallback category,
// with ascending transaction dates so the pending order is deterministic.
func seedPending(t *testing.T, db *gorm.DB, schoolID, n int) []models.SyncedTransaction {
	t.Helper()
	records := make([]models.SyncedTransaction, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		record := models.SyncedTransaction{
			SchoolID:        schoolID,
			ExternalID:      fmt.Sprintf("receivable_%d", i),
			Type:            models.TypeIncome,
			Amount:          decimal.NewFromInt(100),
			Description:     fmt.Sprintf("Tuition %d", i),
			TransactionDate: base.AddDate(0, 0, i),
			Status:          StatusOpen,
			CategoryName:    models.FallbackIncomeCategory,
		}
		require.NoError(t, db.Create(&record).Error)
		records = append(records, record)
	}
	return records
}

// fakeLedger is an httptest stand-in for the bookkeeping API: list endpoints
// with page-numbered pagination, per-record detail endpoints with scriptable
// 429/5xx behavior, and the OAuth refresh endpoint.
type fakeLedger struct {
	mu sync.Mutex

	receivables []map[string]interface{}
	payables    []map[string]interface{}

	// categories maps "receivable_12" style keys to the category the detail
	// endpoint returns. A missing key or empty value means no allocations.
	categories map[string]string

	remaining429 map[string]int
	remaining5xx map[string]int

	detailCalls map[string]int
	detailOrder []string
	refreshHits int
	detailDelay time.Duration

	onDetail func(key string)

	srv *httptest.Server
}

func newFakeLedger(t *testing.T) *fakeLedger {
	f := &fakeLedger{
		categories:   make(map[string]string),
		remaining429: make(map[string]int),
		remaining5xx: make(map[string]int),
		detailCalls:  make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLedger) client() *LedgerClient {
	return &LedgerClient{
		BaseURL:      f.srv.URL,
		AuthURL:      f.srv.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		PageDelay:    time.Millisecond,
	}
}

func (f *fakeLedger) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/oauth/token":
		f.mu.Lock()
		f.refreshHits++
		f.mu.Unlock()
		writeJSON(w, 200, map[string]interface{}{
			"access_token":  "new-access-token",
			"refresh_token": "new-refresh-token",
			"expires_in":    3600,
		})

	case r.URL.Path == ReceivablesEndpoint:
		f.serveList(w, r, f.receivables)

	case r.URL.Path == PayablesEndpoint:
		f.serveList(w, r, f.payables)

	case strings.HasPrefix(r.URL.Path, ReceivablesEndpoint+"/"):
		id := strings.TrimPrefix(r.URL.Path, ReceivablesEndpoint+"/")
		f.serveDetail(w, "receivable_"+id, id)

	case strings.HasPrefix(r.URL.Path, PayablesEndpoint+"/"):
		id := strings.TrimPrefix(r.URL.Path, PayablesEndpoint+"/")
		f.serveDetail(w, "payable_"+id, id)

	default:
		w.WriteHeader(404)
	}
}

func (f *fakeLedger) serveList(w http.ResponseWriter, r *http.Request, items []map[string]interface{}) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	start := (page - 1) * ledgerPageSize
	end := start + ledgerPageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	writeJSON(w, 200, map[string]interface{}{"items": items[start:end]})
}

func (f *fakeLedger) serveDetail(w http.ResponseWriter, key, id string) {
	f.mu.Lock()
	f.detailCalls[key]++
	f.detailOrder = append(f.detailOrder, key)
	delay := f.detailDelay
	hook := f.onDetail

	if f.remaining429[key] > 0 {
		f.remaining429[key]--
		f.mu.Unlock()
		w.WriteHeader(429)
		return
	}
	if f.remaining5xx[key] > 0 {
		f.remaining5xx[key]--
		f.mu.Unlock()
		w.WriteHeader(500)
		return
	}
	category := f.categories[key]
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	numericID, _ := strconv.Atoi(id)
	allocations := []map[string]interface{}{}
	if category != "" {
		allocations = append(allocations, map[string]interface{}{"category_name": category})
	}
	writeJSON(w, 200, map[string]interface{}{"id": numericID, "allocations": allocations})
}

func (f *fakeLedger) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshHits
}

func (f *fakeLedger) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls[key]
}

func (f *fakeLedger) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailOrder...)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ledgerItem(id int, status string, total, paid float64, dueDate string) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"description":  fmt.Sprintf("Item %d", id),
		"status":       status,
		"total_amount": total,
		"paid_amount":  paid,
		"due_date":     dueDate,
		"entity_name":  fmt.Sprintf("Entity %d", id),
	}
}
