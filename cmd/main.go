package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"signflow/internal/config"
	deliveryhttp "signflow/internal/delivery/http"
	"signflow/internal/infrastructure/database"
	"signflow/internal/infrastructure/httpclient"
	"signflow/internal/infrastructure/logger"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/notification"
	"signflow/internal/infrastructure/pdf"
	"signflow/internal/infrastructure/records"
	"signflow/internal/infrastructure/redis"
	"signflow/internal/infrastructure/repository"
	"signflow/internal/infrastructure/storage"
	"signflow/internal/server"
	"signflow/internal/usecase"
	"signflow/internal/worker"
)

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Configuration
		config.Module,

		// Infrastructure
		logger.Module,
		metrics.Module,
		database.Module,
		redis.Module,
		storage.Module,
		pdf.Module,
		httpclient.Module,
		records.Module,
		notification.Module,
		repository.Module,

		// Business Logic
		usecase.Module,

		// Background jobs
		worker.Module,

		// Delivery
		deliveryhttp.Module,

		// Server
		server.Module,
	).Run()
}
