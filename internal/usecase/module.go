package usecase

import "go.uber.org/fx"

var Module = fx.Module("usecase",
	fx.Provide(NewEventPublisher),
	fx.Provide(NewStatusPropagator),
	fx.Provide(NewVersionUsecase),
	fx.Provide(NewCompletionUsecase),
	fx.Provide(NewRequestUsecase),
	fx.Provide(NewSignerUsecase),
)
