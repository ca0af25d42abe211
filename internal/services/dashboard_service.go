package services

import (
	"time"

	"gorm.io/gorm"

	"finance-sync-service/internal/models"
)

// A checkpoint that has not moved for this long while a sync should be
// running is shown to the user as stalled rather than in progress.
const stalledAfter = 5 * time.Minute

type CategoryTotal struct {
	CategoryName string  `json:"categoryName"`
	Type         string  `json:"type"`
	Total        float64 `json:"total"`
	Count        int64   `json:"count"`
}

type DashboardSummary struct {
	TotalIncome  float64         `json:"totalIncome"`
	TotalExpense float64         `json:"totalExpense"`
	Categories   []CategoryTotal `json:"categories"`
	PendingCount int64           `json:"pendingCount"`
	RecordCount  int64           `json:"recordCount"`
}

type SyncStatus struct {
	InProgress bool         `json:"inProgress"`
	Stalled    bool         `json:"stalled"`
	Progress   SyncProgress `json:"progress"`
	UpdatedAt  *time.Time   `json:"updatedAt,omitempty"`
}

// DashboardService serves the read-only queries the dashboard UI renders.
// It never mutates synced data.
type DashboardService struct {
	DB *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{DB: db}
}

// Summary aggregates income/expense totals and per-category breakdowns for a
// school over a date range.
func (s *DashboardService) Summary(schoolID int, from, to time.Time) (*DashboardSummary, error) {
	summary := &DashboardSummary{}

	base := s.DB.Model(&models.SyncedTransaction{}).
		Where("school_id = ? AND transaction_date BETWEEN ? AND ?", schoolID, from, to)

	var totals []struct {
		Type  string
		Total float64
	}
	if err := base.Session(&gorm.Session{}).
		Select("type, COALESCE(SUM(amount), 0) as total").
		Group("type").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	for _, t := range totals {
		switch t.Type {
		case models.TypeIncome:
			summary.TotalIncome = t.Total
		case models.TypeExpense:
			summary.TotalExpense = t.Total
		}
	}

	if err := base.Session(&gorm.Session{}).
		Select("category_name, type, COALESCE(SUM(amount), 0) as total, COUNT(*) as count").
		Group("category_name, type").
		Order("total DESC").
		Scan(&summary.Categories).Error; err != nil {
		return nil, err
	}

	if err := base.Session(&gorm.Session{}).Count(&summary.RecordCount).Error; err != nil {
		return nil, err
	}

	if err := s.DB.Model(&models.SyncedTransaction{}).
		Where("school_id = ? AND category_name IN ?", schoolID, models.FallbackCategories()).
		Count(&summary.PendingCount).Error; err != nil {
		return nil, err
	}

	return summary, nil
}

// Status reports enrichment progress for the UI, distinguishing an actively
// moving checkpoint from a stalled one by its last update age.
func (s *DashboardService) Status(schoolID int, sync *SyncService) SyncStatus {
	status := SyncStatus{Progress: sync.Progress(schoolID)}

	cp, err := sync.Checkpoints.Get(schoolID)
	if err != nil || cp == nil {
		return status
	}

	status.InProgress = true
	status.UpdatedAt = &cp.UpdatedAt
	status.Stalled = time.Since(cp.UpdatedAt) > stalledAfter
	return status
}
