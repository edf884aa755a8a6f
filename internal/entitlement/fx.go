package entitlement

import (
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) entitlementdomain.Service { return s }),
	fx.Provide(func(s *service.Service) entitlementdomain.Guard { return s }),
	fx.Provide(func(s *service.Service) entitlementdomain.Evictor { return s }),
)
