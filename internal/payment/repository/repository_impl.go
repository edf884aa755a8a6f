package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) HasUsable(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_methods WHERE customer_id = ? AND usable = ?`,
		customerID,
		true,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
