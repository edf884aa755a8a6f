package idempotency

import (
	"github.com/meterwise/meterwise/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency",
	fx.Provide(func(client *redis.Client, log *zap.Logger, cfg config.Config) *Store {
		return NewStore(client, log, cfg.Idempotency.TTL)
	}),
)
