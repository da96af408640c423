package handler

import (
	"context"
	"net/http"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/inference"
	"stock-sage/internal/ml/training"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// MarketService serves quotes and stored history.
type MarketService interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	GetBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error)
	EnsureHistory(ctx context.Context, symbol string) (bool, error)
}

// InferenceService produces next-day direction predictions.
type InferenceService interface {
	Predict(ctx context.Context, symbol string) (*domain.Prediction, error)
	PredictBatch(ctx context.Context, symbols []string) []inference.BatchItem
	History(ctx context.Context, symbol string, limit int) ([]domain.Prediction, error)
}

// TrainingRunner retrains models on demand.
type TrainingRunner interface {
	TrainSymbol(ctx context.Context, symbol string, now time.Time) (*training.TrainResult, error)
	TrainAll(ctx context.Context, symbols []string, now time.Time) ([]training.TrainResult, error)
}

// ModelRegistry exposes read-only model version lookups.
type ModelRegistry interface {
	GetActiveModel(ctx context.Context, symbol string) (*domain.ModelVersion, error)
	GetLatestModel(ctx context.Context, symbol string) (*domain.ModelVersion, error)
}

// AccountService backs the auth endpoints.
type AccountService interface {
	Register(ctx context.Context, email, username, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	AddToWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error)
	RemoveFromWatchlist(ctx context.Context, user *domain.User, symbol string) ([]string, error)
}

type Handler struct {
	tracer    trace.Tracer
	market    MarketService
	inference InferenceService
	registry  ModelRegistry
	accounts  AccountService

	trainer      TrainingRunner
	trainSymbols []string
}

func New(tracer trace.Tracer, market MarketService, inference InferenceService, registry ModelRegistry, accounts AccountService) *Handler {
	return &Handler{
		tracer:    tracer,
		market:    market,
		inference: inference,
		registry:  registry,
		accounts:  accounts,
	}
}

// SetTrainingRunner wires the manual retrain endpoint. Until a runner is
// set the endpoint serves 503.
func (h *Handler) SetTrainingRunner(trainer TrainingRunner, symbols []string) {
	h.trainer = trainer
	h.trainSymbols = symbols
}

// RegisterRoutes mounts all endpoints. The train endpoint is guarded by the
// API key; auth/me and the watchlist require a session token.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/assets", h.GetAssets)
	api.GET("/quote/:symbol", h.GetQuote)
	api.GET("/historical/:symbol", h.GetHistorical)
	api.GET("/predict/:symbol", h.GetPrediction)
	api.GET("/predict/:symbol/history", h.GetPredictionHistory)
	api.POST("/predict/batch", h.PredictBatch)
	api.GET("/model/info", h.GetModelInfo)
	api.POST("/model/train", APIKeyAuth(apiKey), h.TriggerTraining)

	auth := api.Group("/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/logout", h.Logout)
	auth.GET("/me", SessionAuth(h.accounts), h.Me)
	auth.PUT("/watchlist", SessionAuth(h.accounts), h.UpdateWatchlist)
}

func unsupportedSymbol(c *gin.Context, symbol string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":             "unsupported symbol: " + symbol,
		"supported_symbols": domain.SupportedSymbols,
	})
}
