package subscription

import (
	"github.com/meterwise/meterwise/internal/subscription/repository"
	"github.com/meterwise/meterwise/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
