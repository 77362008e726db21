package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/delivery/http/handler"
	"signflow/internal/delivery/http/middleware"
)

// maxBodySize leaves room for base64 encoded source documents.
const maxBodySize = 32 * 1024 * 1024

type Router struct {
	app            *fiber.App
	config         *config.Config
	logger         *zap.Logger
	signingHandler *handler.SigningHandler
	requestHandler *handler.RequestHandler
	versionHandler *handler.VersionHandler
	healthHandler  *handler.HealthHandler
	logHandler     *handler.LogHandler
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	signingHandler *handler.SigningHandler,
	requestHandler *handler.RequestHandler,
	versionHandler *handler.VersionHandler,
	healthHandler *handler.HealthHandler,
	logHandler *handler.LogHandler,
) *Router {
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		BodyLimit:    maxBodySize,
		ErrorHandler: newErrorHandler(logger),
	})

	return &Router{
		app:            app,
		config:         cfg,
		logger:         logger,
		signingHandler: signingHandler,
		requestHandler: requestHandler,
		versionHandler: versionHandler,
		healthHandler:  healthHandler,
		logHandler:     logHandler,
	}
}

func (r *Router) Setup() *fiber.App {
	// Middleware
	r.app.Use(recover.New())
	r.app.Use(requestid.New())
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	if r.config.IsDevelopment() {
		r.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	// Ops routes
	r.app.Get("/health", r.healthHandler.Health)
	r.app.Get("/metrics", r.healthHandler.Metrics)

	// Public signing routes, authenticated by the access token
	sign := r.app.Group("/sign/:token")
	{
		sign.Get("", r.signingHandler.Session)
		sign.Post("", r.signingHandler.Submit)
		sign.Post("/decline", r.signingHandler.Decline)
		sign.Get("/document", r.signingHandler.Document)
	}

	// API v1 routes
	api := r.app.Group("/api/v1", middleware.APIKeyAuth(r.config, r.logger))
	{
		requests := api.Group("/requests")
		{
			requests.Post("", r.requestHandler.Create)
			requests.Get("", r.requestHandler.List)
			requests.Get("/:id", r.requestHandler.Get)
			requests.Delete("/:id", r.requestHandler.Delete)
			requests.Post("/:id/signers", r.requestHandler.AddSigners)
			requests.Post("/:id/fields", r.requestHandler.AssignFields)
			requests.Post("/:id/send", r.requestHandler.Send)
			requests.Post("/:id/evaluate", r.requestHandler.Evaluate)
			requests.Post("/:id/expire", r.requestHandler.Expire)
			requests.Post("/:id/finalize", r.requestHandler.Finalize)
		}

		versions := api.Group("/documents/:documentId/versions")
		{
			versions.Get("", r.versionHandler.List)
			versions.Get("/current", r.versionHandler.Current)
			versions.Post("", r.versionHandler.Create)
		}

		// Log routes
		logs := api.Group("/logs")
		{
			logs.Get("", r.logHandler.GetLogs)
			logs.Get("/search", r.logHandler.SearchLogs)
		}
	}

	return r.app
}

func (r *Router) GetApp() *fiber.App {
	return r.app
}
