package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/accountlock"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/clock"
	"github.com/maheshrc27/postflow/internal/fsm"
	"github.com/maheshrc27/postflow/internal/governor"
	"github.com/maheshrc27/postflow/internal/logging"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/planner"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/scheduler"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	if err := logging.Init(getLogLevel(), os.Getenv("LOG_FORMAT") == "json"); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logging.Sync()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	if err := repository.Migrate(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	asynqClient := asynq.NewClient(redisConn)
	defer asynqClient.Close()

	// The governor's remote-quota cache mirrors into Redis when available;
	// it degrades to process-local caching if Redis is unreachable.
	var rdb *redis.Client
	if cfg.RedisURI != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logging.L().Sugar().Errorw("unhandled request error", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	accountRepo := repository.NewAccountRepository(db)
	postRepo := repository.NewPostRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	attemptRepo := repository.NewPublishAttemptRepository(db)
	apiKeyRepo := repository.NewApiKeyRepository(db)

	realClock := clock.Real{}
	secretKey := []byte(cfg.SecretKey)

	platformClient := platform.NewClient(&http.Client{Timeout: cfg.PublishTimeout}, cfg.PlatformBaseURL)
	rateGovernor := governor.NewGovernor(platformClient, postRepo, rdb, realClock)
	lockRegistry := accountlock.NewRegistry(cfg.LeaseTTL)
	postPlanner := planner.NewPlanner(postRepo)

	machine := fsm.NewMachine(postRepo, accountRepo, attemptRepo, platformClient, rateGovernor, realClock, fsm.Config{
		MaxRetries:     cfg.MaxRetries,
		PollInitial:    cfg.PollInitial,
		PollFactor:     cfg.PollFactor,
		PollCap:        cfg.PollCap,
		PollMaxWait:    cfg.PollMaxWait,
		PublishTimeout: cfg.PublishTimeout,

		AutoPauseAfterFails: cfg.AutoPauseAfterFails,
	}, secretKey)

	queueWorker := queue.NewQueue(postRepo, machine, lockRegistry)
	leaser := scheduler.NewLeaser(postRepo, asynqClient, realClock, scheduler.Config{
		TickInterval: cfg.TickInterval,
		LeaseTTL:     cfg.LeaseTTL,
		BatchSize:    cfg.BatchSize,
		Grace:        0,
	})

	apiKeyService := service.NewApiKeyService(apiKeyRepo)
	accountService := service.NewAccountService(accountRepo, postRepo, realClock, secretKey)
	plannerService := service.NewPlannerService(db, postPlanner, postRepo, accountRepo)

	// mediaAssetRepo's CRUD surface is an out-of-scope external
	// collaborator (spec.md §1 "Miscellaneous CRUD surface for media
	// assets"), so no handler is registered for it directly. It is still
	// exercised internally: the Ingestor fetches a post's media_url back
	// and dedupes it into this table by content hash (spec.md §3).
	mediaIngestor := media.NewIngestor(mediaAssetRepo, &http.Client{Timeout: 30 * time.Second})

	postService := service.NewPostService(db, postRepo, accountRepo, mediaIngestor, realClock, cfg)

	authMiddleware := middleware.NewAuthMiddleware(apiKeyService)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	apiKeys := handlers.NewApiKeyHandler(apiKeyService)
	api.Post("/keys", apiKeys.CreateApiKey)
	api.Get("/keys", apiKeys.ListKeys)
	api.Delete("/keys", apiKeys.RemoveAPIKey)

	accounts := handlers.NewAccountHandler(accountService)
	api.Get("/accounts", accounts.ListAccounts)
	api.Post("/accounts/refresh", accounts.RefreshAccount)
	api.Post("/accounts/:id/freeze", accounts.FreezeAccount)
	api.Post("/accounts/:id/unfreeze", accounts.UnfreezeAccount)
	api.Post("/accounts/:id/clear_old_posts", accounts.ClearOldPosts)

	posts := handlers.NewPostHandler(postService)
	api.Get("/posts/query", posts.QueryPosts)
	api.Post("/posts", posts.CreatePost)
	api.Get("/posts/:id", posts.GetPost)
	api.Put("/posts/:id", posts.UpdatePost)
	api.Patch("/posts/:id", posts.UpdatePost)
	api.Delete("/posts/:id", posts.RemovePost)
	api.Post("/posts/bulk_delete", posts.BulkDelete)
	api.Post("/posts/delete_after", posts.DeleteAfter)

	plannerHandler := handlers.NewPlannerHandler(plannerService)
	api.Post("/posts/batch_preflight", plannerHandler.Preflight)
	api.Post("/posts/batch/commit", plannerHandler.Commit)

	schedulerHandler := handlers.NewSchedulerHandler(leaser)
	api.Post("/scheduler/tick", schedulerHandler.Tick)

	c := cron.New()
	c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), leaser.Tick)
	c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), leaser.WatchdogSweep)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePublishPost, queueWorker.HandlePublishTask)

		logging.L().Sugar().Infow("starting asynq server")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	logging.L().Sugar().Infow("server is running", "addr", "http://localhost:3000")

	gracefulShutdown(app, db)
}

func getLogLevel() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
