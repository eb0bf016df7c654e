package httpapi

import (
	"payout-engine/pkg/middleware"

	"go.uber.org/fx"
)

var Module = fx.Module("internal.httpapi",
	fx.Provide(
		NewHandler,
		middleware.NewTokenVerifier,
		middleware.NewEnforcer,
	),
	fx.Invoke(Register),
)
