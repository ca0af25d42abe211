package services

import (
	"fmt"
	"time"

	"gorm.io/datatypes"

	"finance-sync-service/internal/models"
)

// Source statuses accepted by the mapper. Anything else (cancelled, draft,
// refunded, ...) is dropped during bulk import.
const (
	StatusSettled = "settled"
	StatusOverdue = "overdue"
	StatusOpen    = "open"
)

const defaultEntityName = "Unknown"

// MapReceivable maps one ledger receivable into a local income transaction.
// Returns nil when the item's status is outside the allow-list.
func MapReceivable(schoolID int, item LedgerItem) *models.SyncedTransaction {
	return mapItem(schoolID, item, models.TypeIncome, models.ReceivablePrefix, models.FallbackIncomeCategory)
}

// MapPayable maps one ledger payable into a local expense transaction.
// Returns nil when the item's status is outside the allow-list.
func MapPayable(schoolID int, item LedgerItem) *models.SyncedTransaction {
	return mapItem(schoolID, item, models.TypeExpense, models.PayablePrefix, models.FallbackExpenseCategory)
}

func mapItem(schoolID int, item LedgerItem, trxType, prefix, fallbackCategory string) *models.SyncedTransaction {
	switch item.Status {
	case StatusSettled, StatusOverdue, StatusOpen:
	default:
		return nil
	}

	// Settled records carry the actually paid amount; open and overdue ones
	// only have a nominal total.
	amount := item.TotalAmount
	if item.Status == StatusSettled {
		amount = item.PaidAmount
	}

	entityName := item.EntityName
	if entityName == "" {
		entityName = defaultEntityName
	}

	trxDate, err := time.Parse("2006-01-02", item.DueDate)
	if err != nil {
		trxDate = time.Now()
	}

	return &models.SyncedTransaction{
		SchoolID:        schoolID,
		ExternalID:      fmt.Sprintf("%s%d", prefix, item.ID),
		Type:            trxType,
		Amount:          amount,
		Description:     item.Description,
		TransactionDate: trxDate,
		Status:          item.Status,
		EntityName:      entityName,
		CategoryName:    fallbackCategory,
		RawData:         datatypes.JSON(item.Raw),
	}
}
