package handler

import (
	"net/http"
	"strings"
	"time"

	"stock-sage/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetModelInfo godoc
// @Summary      Inspect the model registry for a symbol
// @Description  Returns the active and latest model versions with their stored metrics
// @Tags         models
// @Produce      json
// @Param        symbol  query  string  true  "Asset symbol (e.g., SPY, BTC)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/model/info [get]
func (h *Handler) GetModelInfo(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-model-info")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		unsupportedSymbol(c, symbol)
		return
	}

	active, err := h.registry.GetActiveModel(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	latest, err := h.registry.GetLatestModel(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"symbol":  symbol,
		"active":  active,
		"latest":  latest,
	})
}

// TriggerTraining godoc
// @Summary      Trigger model training manually
// @Description  Retrains one symbol when ?symbol= is given, otherwise every configured symbol, and returns per-symbol outcomes
// @Tags         models
// @Produce      json
// @Param        symbol  query  string  false  "Train a single symbol instead of all"
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/model/train [post]
func (h *Handler) TriggerTraining(c *gin.Context) {
	if h.trainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "training service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-training")
	defer span.End()

	now := time.Now().UTC()

	if symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); symbol != "" {
		if !domain.IsSupportedSymbol(symbol) {
			unsupportedSymbol(c, symbol)
			return
		}
		result, err := h.trainer.TrainSymbol(ctx, symbol, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"trained": 1,
			"results": []any{result},
		})
		return
	}

	results, err := h.trainer.TrainAll(ctx, h.trainSymbols, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"trained": len(results),
		"results": results,
	})
}
