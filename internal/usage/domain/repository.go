package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// AppendAndIncrement inserts the record and atomically adds its
	// delta to the pair's counter in one transaction, returning the new
	// running total.
	AppendAndIncrement(ctx context.Context, db *gorm.DB, record *Record) (float64, error)

	Total(ctx context.Context, db *gorm.DB, customerID snowflake.ID, featureSlug string) (float64, error)
	Totals(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (map[string]float64, error)
	DeleteByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) error
}
