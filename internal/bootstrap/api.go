package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	apihttp "mailsift/adapter/in/http"
	"mailsift/config"
	"mailsift/infra/middleware"
	"mailsift/pkg/logger"
)

// NewAPI builds the Fiber app with all routes and starts the background
// scheduler. The returned cleanup stops the scheduler and closes connections.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "mailsift-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json is measurably faster than encoding/json for the envelope
		// shapes this API serves.
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 1 * 1024 * 1024,
	})

	// Global middleware stack (order matters)
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	// Public routes
	apihttp.NewHealthHandler(deps.DB, deps.Redis).Register(app)

	var stateStore apihttp.OAuthStateStore
	if deps.Redis != nil {
		stateStore = apihttp.NewRedisStateStore(deps.Redis)
	}
	apihttp.NewOAuthHandler(deps.CredentialService, stateStore).Register(app)

	// Protected routes
	api := app.Group("/", middleware.JWTAuth(cfg.JWTSecret))
	apihttp.NewSyncHandler(deps.SyncService).Register(api)

	if cfg.SchedulerEnabled {
		deps.Scheduler.Start()
	}

	stop := func() {
		if cfg.SchedulerEnabled {
			deps.Scheduler.Stop()
		}
		cleanup()
	}
	return app, stop, nil
}
