package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finance-sync-service/internal/models"
)

type CheckpointService struct {
	DB *gorm.DB
}

func NewCheckpointService(db *gorm.DB) *CheckpointService {
	return &CheckpointService{DB: db}
}

// Get returns the school's checkpoint, or nil when none exists.
func (s *CheckpointService) Get(schoolID int) (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	err := s.DB.Where("school_id = ?", schoolID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &cp, nil
}

// Reset creates the school's checkpoint at index 0 over a pending list of
// the given size, replacing any existing row.
func (s *CheckpointService) Reset(schoolID, total int) (*models.SyncCheckpoint, error) {
	cp := models.SyncCheckpoint{
		SchoolID:           schoolID,
		LastProcessedIndex: 0,
		TotalTransactions:  total,
		SuccessCount:       0,
	}

	err := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "school_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_processed_index", "total_transactions", "success_count", "updated_at",
		}),
	}).Create(&cp).Error
	if err != nil {
		return nil, fmt.Errorf("reset checkpoint: %w", err)
	}

	return s.Get(schoolID)
}

// Save persists enrichment progress.
func (s *CheckpointService) Save(schoolID, lastProcessedIndex, successCount int) error {
	return s.DB.Model(&models.SyncCheckpoint{}).
		Where("school_id = ?", schoolID).
		Updates(map[string]interface{}{
			"last_processed_index": lastProcessedIndex,
			"success_count":        successCount,
		}).Error
}

// Delete removes the checkpoint, signalling enrichment is complete.
func (s *CheckpointService) Delete(schoolID int) error {
	return s.DB.Where("school_id = ?", schoolID).Delete(&models.SyncCheckpoint{}).Error
}
