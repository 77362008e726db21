package records

import "go.uber.org/fx"

var Module = fx.Module("records",
	fx.Provide(NewClient),
)
