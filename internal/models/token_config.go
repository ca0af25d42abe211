package models

import (
	"time"
)

// TokenConfig holds the ledger API token pair for one school.
type TokenConfig struct {
	ID           int       `gorm:"primaryKey;autoIncrement" json:"id"`
	SchoolID     int       `gorm:"column:school_id;not null;uniqueIndex" json:"school_id"`
	AccessToken  string    `gorm:"column:access_token;type:text;not null" json:"-"`
	RefreshToken string    `gorm:"column:refresh_token;type:text;not null" json:"-"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	UpdatedBy    string    `gorm:"column:updated_by;size:255" json:"updated_by"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TokenConfig) TableName() string {
	return "token_configs"
}
