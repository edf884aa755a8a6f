package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() customerdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID) (*customerdomain.Customer, error) {
	var customer customerdomain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, project_id, currency, internal, active, metadata, created_at, updated_at, deleted_at
		 FROM customers
		 WHERE project_id = ? AND id = ? AND deleted_at IS NULL`,
		projectID,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET active = ?, deleted_at = ?, updated_at = ?
		 WHERE project_id = ? AND id = ? AND deleted_at IS NULL`,
		false,
		now,
		now,
		projectID,
		id,
	).Error
}
