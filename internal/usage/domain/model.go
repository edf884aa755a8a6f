package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RecordKind string

const (
	RecordKindReport RecordKind = "report"
	// RecordKindReset marks compensating records inserted at cycle
	// boundaries; history is never mutated.
	RecordKindReset RecordKind = "reset"
)

// Record is an append-only consumption fact. The running total per
// (customer, feature) is the sum of deltas.
type Record struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	CustomerID      snowflake.ID   `gorm:"not null;index:idx_usage_records_pair"`
	FeatureSlug     string         `gorm:"type:text;not null;index:idx_usage_records_pair"`
	Delta           float64        `gorm:"not null"`
	Kind            RecordKind     `gorm:"type:text;not null;default:'report'"`
	IdempotencyHash string         `gorm:"type:text;not null;uniqueIndex"`
	Metadata        datatypes.JSON `gorm:"type:jsonb"`
	RecordedAt      time.Time      `gorm:"not null;index"`
}

func (Record) TableName() string { return "usage_records" }

// Counter materializes the running total so reads avoid summing the
// record history. Writes go through an atomic increment.
type Counter struct {
	CustomerID  snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	FeatureSlug string       `gorm:"primaryKey;type:text"`
	Total       float64      `gorm:"not null;default:0"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

func (Counter) TableName() string { return "usage_counters" }
