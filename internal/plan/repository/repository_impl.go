package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/meterwise/meterwise/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) FindFeature(ctx context.Context, db *gorm.DB, versionID snowflake.ID, slug string) (*plandomain.PlanFeature, error) {
	var feature plandomain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_version_id, slug, feature_type, usage_limit, purchased_units, sort_order, metadata, created_at
		 FROM plan_features WHERE plan_version_id = ? AND slug = ?`,
		versionID,
		slug,
	).Scan(&feature).Error
	if err != nil {
		return nil, err
	}
	if feature.ID == 0 {
		return nil, nil
	}
	return &feature, nil
}

func (r *repo) ListFeatures(ctx context.Context, db *gorm.DB, versionID snowflake.ID) ([]plandomain.PlanFeature, error) {
	var features []plandomain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_version_id, slug, feature_type, usage_limit, purchased_units, sort_order, metadata, created_at
		 FROM plan_features WHERE plan_version_id = ? ORDER BY sort_order ASC, slug ASC`,
		versionID,
	).Scan(&features).Error
	if err != nil {
		return nil, err
	}
	return features, nil
}
