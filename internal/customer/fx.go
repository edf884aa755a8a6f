package customer

import (
	"github.com/meterwise/meterwise/internal/customer/repository"
	"github.com/meterwise/meterwise/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
