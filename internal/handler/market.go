package handler

import (
	"net/http"
	"strconv"
	"strings"

	"stock-sage/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetAssets godoc
// @Summary      List supported assets
// @Description  Returns every symbol the service tracks with its name and asset class
// @Tags         market
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/assets [get]
func (h *Handler) GetAssets(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-assets")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"assets":  domain.Assets,
		"count":   len(domain.Assets),
	})
}

// GetQuote godoc
// @Summary      Get the latest quote for a symbol
// @Description  Returns the current price and 24h change, cached for a short window
// @Tags         market
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., SPY, BTC)"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/quote/{symbol} [get]
func (h *Handler) GetQuote(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-quote")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		unsupportedSymbol(c, symbol)
		return
	}

	quote, err := h.market.GetQuote(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "quote": quote})
}

// GetHistorical godoc
// @Summary      Get daily OHLCV history
// @Description  Returns stored daily bars in ascending date order, syncing from the upstream source when the history is stale
// @Tags         market
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., SPY, BTC)"
// @Param        limit   query  int     false  "Number of bars (default 180, max 1000)"  default(180)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/historical/{symbol} [get]
func (h *Handler) GetHistorical(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-historical")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if !domain.IsSupportedSymbol(symbol) {
		unsupportedSymbol(c, symbol)
		return
	}

	limit := 180
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	// A failed refresh is not fatal, the stored history still serves.
	_, _ = h.market.EnsureHistory(ctx, symbol)

	bars, err := h.market.GetBars(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"symbol":  symbol,
		"bars":    bars,
		"count":   len(bars),
	})
}
