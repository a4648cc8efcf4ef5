package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/auth"
	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/events"
	"github.com/generatecover/api/internal/handler"
	"github.com/generatecover/api/internal/logger"
	"github.com/generatecover/api/internal/middleware"
	"github.com/generatecover/api/internal/repository"
	"github.com/generatecover/api/internal/service"
	ws "github.com/generatecover/api/internal/websocket"
	"github.com/generatecover/api/internal/worker"
)

// @title          Generate Cover API
// @version        1.0
// @description    Generates AI cover images for blog posts.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "production").Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	pool, err := repository.NewPostgresPool(ctx, &cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	posts := repository.NewPostRepository(pool)
	if err := posts.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	jobs := repository.NewRedisJobStore(redisClient)

	// R2 is optional; without it images get placeholder URLs
	var objects client.ObjectStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			objects = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, using placeholder URLs")
	}

	chatClient := client.NewOpenRouterClient(&cfg.OpenRouter, log)
	imageClient := client.NewJimengClient(&cfg.Jimeng, log)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	notifier := events.Fanout{hub}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewRabbitPublisher(&cfg.RabbitMQ, log)
		if err != nil {
			log.Warn().Err(err).Msg("event publishing disabled")
		} else {
			defer publisher.Close()
			notifier = append(notifier, publisher)
		}
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	scheduler := service.NewAsynqScheduler(asynqClient)

	covers := service.NewCoverService(service.CoverDeps{
		Posts:      posts,
		Jobs:       jobs,
		Media:      service.NewMediaLibrary(objects, posts, log),
		Chat:       chatClient,
		Images:     imageClient,
		Downloader: client.NewHTTPDownloader(),
		Scheduler:  scheduler,
		Notifier:   notifier,
	}, cfg.Generation, log)

	recheckWorker := worker.NewRecheckWorker(worker.RecheckDeps{
		Jobs:      jobs,
		Images:    imageClient,
		Covers:    covers,
		Scheduler: scheduler,
	}, cfg.Generation, log)

	workerServer, sweepScheduler := startWorkers(cfg, redisOpt, recheckWorker, log)
	defer workerServer.Shutdown()
	defer sweepScheduler.Shutdown()

	var verifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			verifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(authenticator).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	validate := validator.New()
	coverHandler := handler.NewCoverHandler(covers, validate)
	postHandler := handler.NewPostHandler(posts, covers, validate)
	authHandler := handler.NewAuthHandler(authenticator)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"chat":     chatClient.IsConfigured(),
				"image":    imageClient.IsConfigured(),
				"r2":       objects != nil,
				"auth":     authenticator.Configured(),
				"rabbitmq": len(notifier) > 1,
			},
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuth)
	coverHandler.Register(api,
		rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour),
		rateLimiter.BatchLimit(cfg.RateLimit.BatchPerHour),
	)
	api.Put("/posts/:postId", postHandler.Upsert)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/covers/:postId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("postId"))
	}))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("mode", string(covers.DefaultMode())).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// startWorkers runs the asynq worker server for cover tasks and the
// scheduler that enqueues the periodic reconciliation sweep.
func startWorkers(cfg *config.Config, redisOpt asynq.RedisClientOpt, w *worker.RecheckWorker, log zerolog.Logger) (*asynq.Server, *asynq.Scheduler) {
	asynqLog := logger.NewAsynqLogger(log)
	level := logger.AsynqLevel(cfg.Server.LogLevel)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{service.QueueCovers: 1},
		Logger:      asynqLog,
		LogLevel:    level,
	})

	mux := asynq.NewServeMux()
	w.Register(mux)
	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("failed to start asynq worker")
	}

	sched := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLog, LogLevel: level})
	if _, err := sched.Register(cfg.Generation.SweepSpec, asynq.NewTask(service.TaskTypeSweep, nil), asynq.Queue(service.QueueCovers)); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Generation.SweepSpec).Msg("invalid sweep schedule")
	}
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start asynq scheduler")
	}
	return srv, sched
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
