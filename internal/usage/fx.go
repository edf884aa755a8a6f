package usage

import (
	"github.com/meterwise/meterwise/internal/usage/ledger"
	"github.com/meterwise/meterwise/internal/usage/repository"
	"github.com/meterwise/meterwise/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(ledger.New),
	fx.Provide(service.NewService),
)
