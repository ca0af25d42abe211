package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finance-sync-service/internal/models"
)

// Access tokens are refreshed proactively this long before expiry. A token
// inside the buffer is never handed out.
const tokenExpiryBuffer = 5 * time.Minute

// ErrNotConnected means the school never completed the ledger OAuth flow.
var ErrNotConnected = errors.New("school has no ledger connection configured")

type TokenService struct {
	DB     *gorm.DB
	Ledger *LedgerClient
}

func NewTokenService(db *gorm.DB, ledger *LedgerClient) *TokenService {
	return &TokenService{DB: db, Ledger: ledger}
}

// GetValidToken returns an access token that is guaranteed to be outside the
// expiry buffer, refreshing and persisting a new pair first when necessary.
// The new pair is committed before the token is returned, so a crash between
// refresh and use can never leave an unpersisted token in flight.
func (s *TokenService) GetValidToken(ctx context.Context, schoolID int) (string, error) {
	var cfg models.TokenConfig
	if err := s.DB.Where("school_id = ?", schoolID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("load token config: %w", err)
	}

	if time.Now().Before(cfg.ExpiresAt.Add(-tokenExpiryBuffer)) {
		return cfg.AccessToken, nil
	}

	log.Printf("Token for school %d is near expiry, refreshing", schoolID)

	pair, err := s.Ledger.RefreshToken(ctx, cfg.RefreshToken)
	if err != nil {
		return "", err
	}

	if err := s.SaveTokenPair(schoolID, pair, "system"); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	return pair.AccessToken, nil
}

// SaveTokenPair upserts the token pair for a school.
func (s *TokenService) SaveTokenPair(schoolID int, pair *TokenPair, updatedBy string) error {
	cfg := models.TokenConfig{
		SchoolID:     schoolID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second),
		UpdatedBy:    updatedBy,
	}

	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "school_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "updated_by", "updated_at",
		}),
	}).Create(&cfg).Error
}
