package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-sage/internal/account"
	"stock-sage/internal/cache"
	"stock-sage/internal/config"
	"stock-sage/internal/db"
	"stock-sage/internal/handler"
	"stock-sage/internal/job"
	"stock-sage/internal/ml/inference"
	"stock-sage/internal/ml/predictions"
	"stock-sage/internal/ml/registry"
	"stock-sage/internal/ml/training"
	"stock-sage/internal/ml/tuning"
	"stock-sage/internal/provider"
	"stock-sage/internal/repository"
	"stock-sage/internal/service"
	"stock-sage/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "stock-sage/docs"
)

// tunerTrials bounds the random hyperparameter search per training run.
const tunerTrials = 15

type starter interface {
	Start(ctx context.Context)
}

var (
	loadEnvFunc          = godotenv.Load
	loadConfigFunc       = config.Load
	initPostgresFunc     = db.InitPostgres
	initRedisFunc        = cache.InitRedis
	initTracerFunc       = tracing.InitTracer
	newBarRepoFunc       = repository.NewBarRepository
	newPriceProviderFunc = func(tracer trace.Tracer) service.PriceProvider {
		return provider.NewCompositeProvider(
			provider.NewCoinGeckoProvider(tracer),
			provider.NewStooqProvider(tracer),
		)
	}
	newMarketServiceFunc   = service.NewMarketService
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	startJobFunc           = func(ctx context.Context, j starter) { go j.Start(ctx) }
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Stock Sage API
// @version         1.0
// @description     Next-day market direction predictions over daily OHLCV bars.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey ApiKeyAuth
// @in   header
// @name X-API-Key

// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations
	barRepo := newBarRepoFunc(db.Pool, tracer)
	modelRepo := registry.NewRepository(db.Pool, tracer)
	predictionRepo := predictions.NewRepository(db.Pool, tracer)
	userRepo := account.NewRepository(db.Pool, tracer)
	if db.Pool != nil {
		for _, migrate := range []func(context.Context) error{
			barRepo.RunMigrations,
			modelRepo.RunMigrations,
			predictionRepo.RunMigrations,
			userRepo.RunMigrations,
		} {
			if err := migrate(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
	}

	store := cache.NewStore(cache.Client)

	// Market data over the composite provider
	priceProvider := newPriceProviderFunc(tracer)
	marketService := newMarketServiceFunc(tracer, priceProvider, barRepo, store, cfg.LookbackDays)

	// ML pipeline
	trainingService := training.NewService(tracer, barRepo, modelRepo,
		tuning.RandomSearch{Trials: tunerTrials, Seed: time.Now().UnixNano()},
		training.Config{
			Variant:          cfg.MLVariant,
			LookbackDays:     cfg.LookbackDays,
			TrainFraction:    cfg.MLTrainFraction,
			TopK:             cfg.MLTopK,
			MinRows:          cfg.MLMinRows,
			WalkForwardFolds: cfg.MLWalkForwardFolds,
			BlendStacked:     cfg.MLBlendStacked,
			BlendRegime:      cfg.MLBlendRegime,
		})
	inferenceService := inference.NewService(tracer, modelRepo, barRepo, predictionRepo, store, inference.Config{})
	accountService := account.NewService(tracer, userRepo, store)

	// Background jobs (stopped by ctx cancel)
	startJobFunc(ctx, job.NewBarSyncJob(tracer, marketService, cfg.Symbols, cfg.BarSyncMinutes))
	startJobFunc(ctx, job.NewMLTrainingJob(tracer, trainingService, cfg.Symbols, cfg.TrainHourUTC))
	startJobFunc(ctx, job.NewMLPredictionJob(tracer, inferenceService, cfg.Symbols, 0))
	startJobFunc(ctx, job.NewMLOutcomeResolverJob(tracer, inferenceService, 0))

	// Create handlers and routes
	h := newHandlerFunc(tracer, marketService, inferenceService, modelRepo, accountService)
	h.SetTrainingRunner(trainingService, cfg.Symbols)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("stock-sage"))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
