package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is a pure read surface; plan authoring happens elsewhere.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	FindFeature(ctx context.Context, db *gorm.DB, versionID snowflake.ID, slug string) (*PlanFeature, error)
	ListFeatures(ctx context.Context, db *gorm.DB, versionID snowflake.ID) ([]PlanFeature, error)
}
