package models

import (
	"time"
)

// SyncCheckpoint tracks enrichment progress for one school. At most one row
// per school exists at any time: presence means enrichment is in progress or
// paused, absence means fully enriched or never started.
type SyncCheckpoint struct {
	ID                 int       `gorm:"primaryKey;autoIncrement" json:"id"`
	SchoolID           int       `gorm:"column:school_id;not null;uniqueIndex" json:"school_id"`
	LastProcessedIndex int       `gorm:"column:last_processed_index;not null;default:0" json:"last_processed_index"`
	TotalTransactions  int       `gorm:"column:total_transactions;not null;default:0" json:"total_transactions"`
	SuccessCount       int       `gorm:"column:success_count;not null;default:0" json:"success_count"`
	StartedAt          time.Time `gorm:"column:started_at;autoCreateTime" json:"started_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}
