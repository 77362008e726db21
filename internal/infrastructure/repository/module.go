package repository

import (
	"go.uber.org/fx"

	"signflow/internal/domain/repository"
	"signflow/internal/infrastructure/httpclient"
)

var Module = fx.Module("repository",
	fx.Provide(NewSignatureRequestRepository),
	fx.Provide(NewVersionRepository),
	fx.Provide(
		fx.Annotate(
			NewAPILogRepository,
			fx.As(new(httpclient.APILogSaver)),
			fx.As(new(repository.APILogRepository)),
		),
	),
)
