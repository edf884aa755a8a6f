package migration

import (
	"go.uber.org/fx"
)

var Module = fx.Module("migration",
	fx.Invoke(RunMigrations),
)
