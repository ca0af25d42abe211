package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction types
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Fallback categories assigned at bulk-fetch time. A transaction still
// carrying one of these is pending enrichment.
const (
	FallbackIncomeCategory  = "Uncategorized Income"
	FallbackExpenseCategory = "Uncategorized Expense"
)

// External id prefixes, matching the ledger API record sources.
const (
	ReceivablePrefix = "receivable_"
	PayablePrefix    = "payable_"
)

func FallbackCategories() []string {
	return []string{FallbackIncomeCategory, FallbackExpenseCategory}
}

type SyncedTransaction struct {
	ID              int             `gorm:"primaryKey;autoIncrement" json:"id"`
	SchoolID        int             `gorm:"column:school_id;not null;uniqueIndex:idx_school_external;index" json:"school_id"`
	ExternalID      string          `gorm:"column:external_id;size:64;not null;uniqueIndex:idx_school_external" json:"external_id"`
	Type            string          `gorm:"column:type;size:20;not null" json:"type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	TransactionDate time.Time       `gorm:"column:transaction_date;index" json:"transaction_date"`
	Status          string          `gorm:"column:status;size:50" json:"status"`
	EntityName      string          `gorm:"column:entity_name;size:255" json:"entity_name"`
	CategoryName    string          `gorm:"column:category_name;size:255;not null;index" json:"category_name"`
	RawData         datatypes.JSON  `gorm:"column:raw_data" json:"raw_data"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncedTransaction) TableName() string {
	return "synced_transactions"
}

// IsPending reports whether the transaction still carries a fallback category.
func (t *SyncedTransaction) IsPending() bool {
	return t.CategoryName == FallbackIncomeCategory || t.CategoryName == FallbackExpenseCategory
}

// SourceID strips the type prefix from ExternalID, yielding the numeric id
// the ledger detail endpoint expects.
func (t *SyncedTransaction) SourceID() string {
	if strings.HasPrefix(t.ExternalID, ReceivablePrefix) {
		return strings.TrimPrefix(t.ExternalID, ReceivablePrefix)
	}
	return strings.TrimPrefix(t.ExternalID, PayablePrefix)
}
