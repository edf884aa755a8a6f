package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/meterwise/meterwise/internal/apikey/domain"
	"github.com/meterwise/meterwise/internal/projectcontext"
)

// APIKeyRequired authenticates requests using an API key only.
// Project identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(parts[1])

		var record struct {
			ID        snowflake.ID `gorm:"column:id"`
			ProjectID snowflake.ID `gorm:"column:project_id"`
			KeyHash   string       `gorm:"column:key_hash"`
		}

		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, project_id, key_hash
			 FROM api_keys
			 WHERE key_hash = ?
			   AND active = true
			   AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
			 LIMIT 1`,
			hash,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := projectcontext.WithProjectID(c.Request.Context(), record.ProjectID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
