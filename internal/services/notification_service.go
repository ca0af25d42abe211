package services

import (
	"context"
	"log"
	"os"
	"time"

	"finance-sync-service/pkg/common"
)

// SyncSummary is the payload posted to the notification webhook when a sync
// finishes.
type SyncSummary struct {
	SchoolID     int    `json:"schoolId"`
	Round        int    `json:"round"`
	Status       string `json:"status"`
	Fetched      int    `json:"fetched"`
	Processed    int    `json:"processed"`
	SuccessCount int    `json:"successCount"`
}

// NotificationService posts sync summaries to a configured webhook. It is
// strictly fire-and-forget; a notification failure never fails the pipeline.
type NotificationService struct {
	WebhookURL string
}

func NewNotificationService() *NotificationService {
	return &NotificationService{WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL")}
}

// NotifySummary sends the summary in the background and returns immediately.
func (s *NotificationService) NotifySummary(summary SyncSummary) {
	if s.WebhookURL == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := common.PostJSON(ctx, s.WebhookURL, summary, nil)
		if err != nil {
			log.Printf("Sync notification for school %d failed: %v", summary.SchoolID, err)
			return
		}
		if !resp.IsSuccess() {
			log.Printf("Sync notification for school %d rejected with status %d", summary.SchoolID, resp.StatusCode)
		}
	}()
}
