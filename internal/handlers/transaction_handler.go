package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"finance-sync-service/internal/models"
	"finance-sync-service/pkg/common"
)

type TransactionHandler struct {
	DB *gorm.DB
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{DB: db}
}

// GetTransactions lists synced transactions for a school, newest first, with
// optional type and pending filters.
func (h *TransactionHandler) GetTransactions(c *gin.Context) {
	schoolID, err := strconv.Atoi(c.Query("school_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid school_id"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}

	query := h.DB.Model(&models.SyncedTransaction{}).Where("school_id = ?", schoolID)

	if trxType := c.Query("type"); trxType != "" {
		query = query.Where("type = ?", trxType)
	}
	if c.Query("pending") == "true" {
		query = query.Where("category_name IN ?", models.FallbackCategories())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var transactions []models.SyncedTransaction
	err = query.Order("transaction_date DESC, id DESC").
		Offset(common.Offset(page, limit)).
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, common.PaginateResponse(transactions, total, page, limit, ""))
}
