package membership

import "go.uber.org/fx"

// Module exposes the membership store and lifecycle service via Fx.
var Module = fx.Options(
	fx.Provide(NewStore, NewService),
)
