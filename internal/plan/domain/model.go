// Package domain holds the persisted plan catalog the resolver reads:
// plan versions and their per-feature configurations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Cadence string

const (
	CadenceRecurring Cadence = "recurring"
	CadenceOneTime   Cadence = "one_time"
)

type FeatureType string

const (
	FeatureTypeFlat    FeatureType = "flat"
	FeatureTypeUsage   FeatureType = "usage"
	FeatureTypeTier    FeatureType = "tier"
	FeatureTypePackage FeatureType = "package"
)

// Metered reports whether the feature type carries a numeric limit.
func (t FeatureType) Metered() bool {
	return t == FeatureTypeUsage || t == FeatureTypeTier || t == FeatureTypePackage
}

func (t FeatureType) Valid() bool {
	return t == FeatureTypeFlat || t.Metered()
}

type PlanVersion struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	PlanID    snowflake.ID `gorm:"not null;index"`
	Cadence   Cadence      `gorm:"type:text;not null;default:'recurring'"`
	TrialDays int          `gorm:"not null;default:0"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PlanVersion) TableName() string { return "plan_versions" }

type PlanFeature struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	PlanVersionID snowflake.ID `gorm:"not null;index:idx_plan_features_version_slug,unique"`
	Slug          string       `gorm:"type:text;not null;index:idx_plan_features_version_slug,unique"`
	FeatureType   FeatureType  `gorm:"type:text;not null"`
	// Limit applies to metered types; zero means no usage is allowed.
	Limit float64 `gorm:"column:usage_limit;not null;default:0"`
	// Units is the purchased allotment; nil when none were purchased.
	Units     *float64       `gorm:"column:purchased_units"`
	SortOrder int            `gorm:"not null;default:0"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PlanFeature) TableName() string { return "plan_features" }
