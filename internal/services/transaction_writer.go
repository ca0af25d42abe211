package services

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finance-sync-service/internal/models"
)

// Rows are written in chunks to respect the storage layer's payload limit.
// Chunking is not a correctness mechanism; every write is idempotent.
const upsertChunkSize = 500

type TransactionWriter struct {
	DB *gorm.DB
}

func NewTransactionWriter(db *gorm.DB) *TransactionWriter {
	return &TransactionWriter{DB: db}
}

// UpsertBatch persists records with insert-or-replace semantics keyed by
// (school_id, external_id). Safe to call repeatedly with overlapping input;
// the latest write wins. A chunk failure aborts the remaining chunks but
// already-written chunks are not rolled back.
func (w *TransactionWriter) UpsertBatch(records []models.SyncedTransaction) error {
	for start := 0; start < len(records); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(records) {
			end = len(records)
		}

		chunk := records[start:end]
		err := w.DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "school_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"type", "amount", "description", "transaction_date",
				"status", "entity_name", "category_name", "raw_data", "updated_at",
			}),
		}).Create(&chunk).Error
		if err != nil {
			return fmt.Errorf("upsert chunk starting at %d: %w", start, err)
		}
	}
	return nil
}

// UpdateCategory overwrites the category of one record in place.
func (w *TransactionWriter) UpdateCategory(schoolID int, externalID, categoryName string) error {
	return w.DB.Model(&models.SyncedTransaction{}).
		Where("school_id = ? AND external_id = ?", schoolID, externalID).
		Update("category_name", categoryName).Error
}

// PendingTransactions returns the records still carrying a fallback category,
// in a stable order (transaction date, then id) so index-based checkpoint
// resume walks the same sequence across process restarts.
func (w *TransactionWriter) PendingTransactions(schoolID int) ([]models.SyncedTransaction, error) {
	var pending []models.SyncedTransaction
	err := w.DB.Where("school_id = ? AND category_name IN ?", schoolID, models.FallbackCategories()).
		Order("transaction_date ASC, id ASC").
		Find(&pending).Error
	return pending, err
}

// PendingCount returns how many records still carry a fallback category.
func (w *TransactionWriter) PendingCount(schoolID int) (int64, error) {
	var count int64
	err := w.DB.Model(&models.SyncedTransaction{}).
		Where("school_id = ? AND category_name IN ?", schoolID, models.FallbackCategories()).
		Count(&count).Error
	return count, err
}

// ClearSchoolData removes every synced row for a school ahead of a fresh
// resync. The admin-only "clear and resync" operation is the single caller.
func (w *TransactionWriter) ClearSchoolData(schoolID int) error {
	return w.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("school_id = ?", schoolID).Delete(&models.SyncedTransaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("school_id = ?", schoolID).Delete(&models.SyncCheckpoint{}).Error; err != nil {
			return err
		}
		return tx.Where("school_id = ?", schoolID).Delete(&models.SyncLog{}).Error
	})
}
