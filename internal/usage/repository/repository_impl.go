package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

// AppendAndIncrement keeps the append and the counter bump in one
// transaction; the upsert increment is atomic at the storage tier, so
// concurrent writers for the same pair cannot lose updates.
func (r *repo) AppendAndIncrement(ctx context.Context, db *gorm.DB, record *usagedomain.Record) (float64, error) {
	var total float64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO usage_records (id, customer_id, feature_slug, delta, kind, idempotency_hash, metadata, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			record.CustomerID,
			record.FeatureSlug,
			record.Delta,
			record.Kind,
			record.IdempotencyHash,
			record.Metadata,
			record.RecordedAt,
		).Error; err != nil {
			return err
		}

		if err := tx.Exec(
			`INSERT INTO usage_counters (customer_id, feature_slug, total, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (customer_id, feature_slug)
			 DO UPDATE SET total = usage_counters.total + excluded.total, updated_at = excluded.updated_at`,
			record.CustomerID,
			record.FeatureSlug,
			record.Delta,
			record.RecordedAt,
		).Error; err != nil {
			return err
		}

		return tx.Raw(
			`SELECT total FROM usage_counters WHERE customer_id = ? AND feature_slug = ?`,
			record.CustomerID,
			record.FeatureSlug,
		).Scan(&total).Error
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) Total(ctx context.Context, db *gorm.DB, customerID snowflake.ID, featureSlug string) (float64, error) {
	var total float64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(total, 0) FROM usage_counters WHERE customer_id = ? AND feature_slug = ?`,
		customerID,
		featureSlug,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (map[string]float64, error) {
	var rows []usagedomain.Counter
	err := db.WithContext(ctx).Raw(
		`SELECT customer_id, feature_slug, total, updated_at
		 FROM usage_counters WHERE customer_id = ?`,
		customerID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]float64, len(rows))
	for _, row := range rows {
		totals[row.FeatureSlug] = row.Total
	}
	return totals, nil
}

func (r *repo) DeleteByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM usage_counters WHERE customer_id = ?`, customerID).Error; err != nil {
			return err
		}
		return tx.Exec(`DELETE FROM usage_records WHERE customer_id = ?`, customerID).Error
	})
}
