package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scoreleaf/api/internal/client"
	"github.com/scoreleaf/api/internal/config"
	"github.com/scoreleaf/api/internal/handler"
	"github.com/scoreleaf/api/internal/middleware"
	"github.com/scoreleaf/api/internal/pipeline"
	"github.com/scoreleaf/api/internal/queue"
	"github.com/scoreleaf/api/internal/service"
	"github.com/scoreleaf/api/internal/store"
	"github.com/scoreleaf/api/internal/transcription"
	"github.com/scoreleaf/api/internal/worker"
	ws "github.com/scoreleaf/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := newLogger(&cfg.Server)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zl.Warn("redis not available", zap.Error(err))
	}

	// Initialize Asynq client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	policy := queue.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseDelay:   cfg.Worker.RetryBaseDelay,
		MaxDelay:    cfg.Worker.RetryMaxDelay,
	}
	queueClient := queue.NewClient(asynqClient, policy, cfg.Worker.HardTimeout, cfg.Worker.Retention)

	// Initialize validator
	validate := validator.New()

	// Initialize progress hub
	hub := ws.NewHub(ws.Config{
		SendBuffer:        cfg.Hub.SendBuffer,
		HeartbeatInterval: cfg.Hub.HeartbeatInterval,
		PongGrace:         cfg.Hub.PongGrace,
	}, zl.Named("hub"))
	go hub.Run()

	// Job store
	jobStore := store.NewRedisJobStore(redisClient)

	// Storage + collaborator clients
	storageClient, err := client.NewS3Client(&cfg.Storage)
	if err != nil {
		zl.Fatal("storage client init failed", zap.Error(err))
	}
	fetcher := client.NewAudioFetcher(cfg.Services.FetchTimeout, storageClient)
	separatorClient := client.NewSeparatorClient(cfg.Services.SeparatorURL, cfg.Services.SeparatorTimeout)
	refinerClient := client.NewRefinerClient(cfg.Services.RefinerURL, cfg.Services.RefinerTimeout, cfg.Refiner.MaxWindow)
	notationClient := client.NewNotationClient(cfg.Services.NotationURL, cfg.Services.NotationTimeout,
		storageClient, cfg.Storage.ResultExpiry)

	detectors := make([]transcription.Detector, 0, len(cfg.Detectors))
	for _, dc := range cfg.Detectors {
		detectors = append(detectors, client.NewDetectorClient(dc.Tag, dc.Weight, dc.URL, dc.Timeout))
	}
	if len(detectors) == 0 {
		zl.Warn("no detectors configured, jobs will fail at detection")
	}

	// Ensemble pipeline
	voter := transcription.NewVoter(transcription.VoterConfig{
		OnsetTolerance:    cfg.Ensemble.OnsetTolerance,
		MinScore:          cfg.Ensemble.MinScore,
		SoloWeight:        cfg.Ensemble.SoloWeight,
		ScaleByConfidence: cfg.Ensemble.ScaleByConfidence,
	})
	filter := transcription.NewFilter(transcription.FilterConfig{
		BaseThreshold:  cfg.Filter.BaseThreshold,
		SlowTempoBPM:   cfg.Filter.SlowTempoBPM,
		FastTempoBPM:   cfg.Filter.FastTempoBPM,
		SlowThreshold:  cfg.Filter.SlowThreshold,
		FastThreshold:  cfg.Filter.FastThreshold,
		DecayMaxGap:    cfg.Filter.DecayMaxGap,
		DecayDropRatio: cfg.Filter.DecayDropRatio,
	})
	refiner := transcription.NewRefiner(refinerClient, cfg.Refiner.Overlap, zl.Named("refiner"))

	runner := pipeline.NewRunner(
		jobStore,
		hub,
		fetcher,
		separatorAdapter{client: separatorClient},
		detectors,
		voter,
		filter,
		refiner,
		notationClient,
		zl.Named("pipeline"),
	)

	transcribeWorker := worker.NewTranscribeWorker(
		jobStore, hub, runner, policy, cfg.Worker.SoftTimeout, zl.Named("worker"))

	// Services and handlers
	transcriptionService := service.NewTranscriptionService(jobStore, queueClient, zl.Named("service"))
	transcribeHandler := handler.NewTranscribeHandler(transcriptionService, validate)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api")

	transcriptions := api.Group("/transcriptions")
	transcriptions.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), transcribeHandler.Submit)
	transcriptions.Get("/:jobId", transcribeHandler.Status)
	transcriptions.Post("/:jobId/cancel", transcribeHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		snapshot, err := transcriptionService.GetJob(context.Background(), jobID)
		if err != nil {
			c.Close()
			return
		}
		hub.HandleConnection(c, jobID, snapshot)
	}))

	// Start worker servers: one per resource class so the GPU cap is exact
	go runWorkerServer(redisOpt, queue.GPUServerConfig(cfg.Worker.GPUSlots, policy, zl.Named("asynq.gpu")), transcribeWorker, zl)
	go runWorkerServer(redisOpt, queue.CPUServerConfig(cfg.Worker.CPUConcurrency, policy, zl.Named("asynq.cpu")), transcribeWorker, zl)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zl.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zl.Error("server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zl.Info("server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}

func runWorkerServer(redisOpt asynq.RedisClientOpt, cfg asynq.Config, w *worker.TranscribeWorker, zl *zap.Logger) {
	srv := asynq.NewServer(redisOpt, cfg)
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeTranscribe, w.ProcessTask)
	if err := srv.Run(mux); err != nil {
		zl.Error("asynq worker error", zap.Error(err))
	}
}

// separatorAdapter maps the separation service response onto the pipeline
// boundary type.
type separatorAdapter struct {
	client *client.SeparatorClient
}

func (a separatorAdapter) Separate(ctx context.Context, sourceRef, instrumentHint string) (*pipeline.SeparationResult, error) {
	resp, err := a.client.Separate(ctx, sourceRef, instrumentHint)
	if err != nil {
		return nil, err
	}
	return &pipeline.SeparationResult{
		StemRef:  resp.StemURL,
		TempoBPM: resp.TempoBPM,
		Key:      resp.Key,
	}, nil
}

func newLogger(cfg *config.ServerConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
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
