package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

type ApiKey struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	ProjectID snowflake.ID   `gorm:"not null;index"`
	KeyHash   string         `gorm:"type:text;not null;uniqueIndex"`
	Scopes    pq.StringArray `gorm:"column:scopes;type:text[]"`
	Active    bool           `gorm:"not null;default:true"`
	ExpiresAt *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ApiKey) TableName() string { return "api_keys" }

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
