package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ProjectID snowflake.ID `gorm:"not null;index"`
	Currency  string       `gorm:"type:text;not null;default:'USD'"`
	// Internal marks the platform's own workspace; internal customers
	// bypass entitlement limits entirely.
	Internal  bool           `gorm:"not null;default:false"`
	Active    bool           `gorm:"not null;default:true"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time     `gorm:"index"`
}

func (Customer) TableName() string { return "customers" }
