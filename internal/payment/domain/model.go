package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentMethod is the stored reference to a provider-side instrument.
// The provider integration itself lives outside the engine; billing
// jobs only ask whether a usable method exists.
type PaymentMethod struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	Provider   string       `gorm:"type:text;not null"`
	ProviderRef string      `gorm:"type:text;not null"`
	Usable     bool         `gorm:"not null;default:true"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

type Repository interface {
	HasUsable(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (bool, error)
}
