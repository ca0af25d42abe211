package models

import (
	"time"
)

// Sync log statuses
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusTimeout   = "timeout"
	SyncStatusFailed    = "failed"
)

// SyncLog is an append-only record of one sync round, kept for
// observability only. It never drives control flow.
type SyncLog struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	SchoolID       int        `gorm:"column:school_id;not null;index" json:"school_id"`
	Round          int        `gorm:"column:round;not null" json:"round"`
	Status         string     `gorm:"column:status;size:20;not null" json:"status"`
	FetchedCount   int        `gorm:"column:fetched_count;default:0" json:"fetched_count"`
	ProcessedCount int        `gorm:"column:processed_count;default:0" json:"processed_count"`
	SuccessCount   int        `gorm:"column:success_count;default:0" json:"success_count"`
	Message        string     `gorm:"column:message;type:text" json:"message"`
	StartedAt      time.Time  `gorm:"column:started_at;autoCreateTime" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}
