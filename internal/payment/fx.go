package payment

import (
	"github.com/meterwise/meterwise/internal/payment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
)
