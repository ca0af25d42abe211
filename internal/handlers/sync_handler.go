package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"finance-sync-service/internal/services"
)

type SyncHandler struct {
	Sync      *services.SyncService
	Dashboard *services.DashboardService
}

func NewSyncHandler(sync *services.SyncService, dashboard *services.DashboardService) *SyncHandler {
	return &SyncHandler{Sync: sync, Dashboard: dashboard}
}

type StartSyncRequest struct {
	SchoolID   int  `json:"school_id" binding:"required"`
	ResumeOnly bool `json:"resume_only"`
}

type SchoolRequest struct {
	SchoolID int `json:"school_id" binding:"required"`
}

// StartSync triggers a sync round for a school. Returns immediately; the
// round runs in the background and progress is exposed via /sync/status.
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.Sync.StartSync(req.SchoolID, req.ResumeOnly)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// PauseSync requests a cooperative stop of the active run.
func (h *SyncHandler) PauseSync(c *gin.Context) {
	var req SchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.Sync.PauseSync(req.SchoolID) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No active sync for this school"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Pause requested"})
}

// Status returns the checkpoint-backed progress snapshot the UI polls.
func (h *SyncHandler) Status(c *gin.Context) {
	schoolID, err := strconv.Atoi(c.Query("school_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid school_id"})
		return
	}

	c.JSON(http.StatusOK, h.Dashboard.Status(schoolID, h.Sync))
}

// Clear deletes a school's synced data and starts a fresh sync.
func (h *SyncHandler) Clear(c *gin.Context) {
	var req SchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Sync.ClearSyncedData(req.SchoolID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
		return
	}

	result := h.Sync.StartSync(req.SchoolID, false)
	c.JSON(http.StatusOK, result)
}

// Summary serves dashboard totals for a school over a date range. Defaults
// to the trailing twelve months when no range is given.
func (h *SyncHandler) Summary(c *gin.Context) {
	schoolID, err := strconv.Atoi(c.Query("school_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid school_id"})
		return
	}

	to := time.Now()
	from := to.AddDate(-1, 0, 0)
	if v := c.Query("from"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			from = parsed
		}
	}
	if v := c.Query("to"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			to = parsed
		}
	}

	summary, err := h.Dashboard.Summary(schoolID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
