package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID) (*Customer, error)
	SoftDelete(ctx context.Context, db *gorm.DB, projectID, id snowflake.ID) error
}
