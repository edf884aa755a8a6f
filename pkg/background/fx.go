package background

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("background",
	fx.Provide(func(lc fx.Lifecycle, log *zap.Logger) *Runner {
		r := NewRunner(log)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				r.Close()
				return nil
			},
		})
		return r
	}),
)
