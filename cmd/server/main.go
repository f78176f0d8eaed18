package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/stationquest/render-api/internal/client"
	"github.com/stationquest/render-api/internal/compiler"
	"github.com/stationquest/render-api/internal/config"
	"github.com/stationquest/render-api/internal/engine"
	"github.com/stationquest/render-api/internal/handler"
	"github.com/stationquest/render-api/internal/logging"
	"github.com/stationquest/render-api/internal/middleware"
	"github.com/stationquest/render-api/internal/service"
	"github.com/stationquest/render-api/internal/staging"
	"github.com/stationquest/render-api/internal/store"
	"github.com/stationquest/render-api/internal/worker"
	ws "github.com/stationquest/render-api/internal/websocket"
)

// @title          Station Quest Render API
// @version        1.0
// @description    Asynchronous video composition service for event highlight reels.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Init(cfg.Server.LogLevel, cfg.Server.Env)
	mainLog := logging.WithComponent("server")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		mainLog.Warn().Err(err).Msg("redis not available")
	}

	// Object storage: R2 when configured, local disk otherwise.
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			mainLog.Fatal().Err(err).Msg("r2 client init failed")
		}
		storage = r2Client
	} else {
		mainLog.Info().Msg("r2 not configured, using local disk storage")
		local, err := client.NewLocalStorage(filepath.Join(cfg.Worker.WorkDir, "storage"))
		if err != nil {
			mainLog.Fatal().Err(err).Msg("local storage init failed")
		}
		storage = local
	}

	validate := validator.New()

	hub := ws.NewHub(logging.WithComponent("websocket"))
	go hub.Run()

	jobStore := store.NewRedisStore(redisClient)
	templates := store.NewRedisTemplates(redisClient)

	renderService := service.NewRenderService(
		jobStore,
		templates,
		storage,
		cfg.Worker.MaxRetries,
		time.Duration(cfg.Render.SignedURLExpiry)*time.Minute,
	)
	renderHandler := handler.NewRenderHandler(renderService, validate)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":  redisClient.Ping(c.Context()).Err() == nil,
				"worker": cfg.Worker.Enabled,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	render := api.Group("/render")
	render.Post("/", rateLimiter.EnqueueLimit(cfg.RateLimit.EnqueuePerHour), renderHandler.Start)
	render.Get("/:jobId", renderHandler.Status)
	render.Get("/:jobId/output", renderHandler.Output)
	render.Post("/:jobId/cancel", renderHandler.Cancel)

	api.Get("/events/:eventId/renders", renderHandler.ListForEvent)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Render worker runs in-process. Split into its own deployment by
	// setting WORKER_ENABLED=false here and true in a worker-only instance.
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	if cfg.Worker.Enabled {
		stager := staging.New(storage, cfg.Worker.WorkDir, logging.WithComponent("staging"))
		runner := engine.New(cfg.Worker.FFmpegPath, cfg.Render, logging.WithComponent("engine"))
		renderWorker := worker.New(jobStore, templates, stager, runner, hub, worker.Config{
			PollInterval:  time.Duration(cfg.Worker.PollInterval) * time.Second,
			BatchSize:     cfg.Worker.BatchSize,
			MaxConcurrent: cfg.Worker.MaxConcurrent,
			MaxRetries:    cfg.Worker.MaxRetries,
			RetryBackoff:  time.Duration(cfg.Worker.RetryBackoff) * time.Second,
			CompileOptions: compiler.Options{
				Width:               cfg.Render.Width,
				Height:              cfg.Render.Height,
				FPS:                 cfg.Render.FPS,
				PlaceholderDuration: time.Duration(cfg.Render.PlaceholderSec) * time.Second,
			},
		}, logging.WithComponent("worker"))
		go func() {
			defer close(workerDone)
			renderWorker.Run(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		mainLog.Info().Msg("shutting down")
		stopWorker()
		<-workerDone
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			mainLog.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	mainLog.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		mainLog.Fatal().Err(err).Msg("server error")
	}
	stopWorker()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
