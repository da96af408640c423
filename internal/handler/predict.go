package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/inference"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const maxBatchSymbols = 20

// GetPrediction godoc
// @Summary      Predict the next trading day's direction
// @Description  Returns an UP/DOWN call with calibrated probabilities from the symbol's active model
// @Tags         predictions
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., SPY, BTC)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/predict/{symbol} [get]
func (h *Handler) GetPrediction(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		unsupportedSymbol(c, symbol)
		return
	}

	// A failed refresh is not fatal, the stored history still serves.
	_, _ = h.market.EnsureHistory(ctx, symbol)

	pred, err := h.inference.Predict(ctx, symbol)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, inference.ErrNoActiveModel) || errors.Is(err, common.ErrDataInsufficiency) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, predictionPayload(pred))
}

// GetPredictionHistory godoc
// @Summary      List recent predictions for a symbol
// @Description  Returns stored predictions newest first, with resolved outcomes where the next close is already known
// @Tags         predictions
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., SPY, BTC)"
// @Param        limit   query  int     false  "Number of predictions (default 30, max 200)"  default(30)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/predict/{symbol}/history [get]
func (h *Handler) GetPredictionHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prediction-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		unsupportedSymbol(c, symbol)
		return
	}

	limit := 30
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	preds, err := h.inference.History(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"symbol":      symbol,
		"predictions": preds,
		"count":       len(preds),
	})
}

// PredictBatch godoc
// @Summary      Predict several symbols in one call
// @Description  Returns one entry per requested symbol, each either a prediction or an error message
// @Tags         predictions
// @Accept       json
// @Produce      json
// @Param        request  body  object  true  "JSON body with a symbols array"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/predict/batch [post]
func (h *Handler) PredictBatch(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.predict-batch")
	defer span.End()

	var req struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols is required"})
		return
	}
	if len(req.Symbols) > maxBatchSymbols {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many symbols, max is 20"})
		return
	}

	items := h.inference.PredictBatch(ctx, req.Symbols)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": items,
		"count":   len(items),
	})
}

func predictionPayload(pred *domain.Prediction) gin.H {
	return gin.H{
		"success":       true,
		"symbol":        pred.Symbol,
		"prediction":    pred.Direction,
		"confidence":    pred.Confidence,
		"current_price": pred.CurrentPrice,
		"probabilities": gin.H{"up": pred.ProbUp, "down": pred.ProbDown},
		"model_version": pred.ModelVersion,
		"variant":       pred.Variant,
		"bar_date":      pred.BarDate.UTC().Format("2006-01-02"),
		"target_date":   pred.TargetDate.UTC().Format("2006-01-02"),
		"timestamp":     pred.CreatedAt.UTC().Format(time.RFC3339),
	}
}
