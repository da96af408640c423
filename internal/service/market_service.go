package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"stock-sage/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const quoteCacheTTL = 90 * time.Second

// barStaleAfter is how old the newest stored bar may be before EnsureHistory
// re-syncs a symbol. Two days covers weekends for listed funds.
const barStaleAfter = 48 * time.Hour

type PriceProvider interface {
	FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error)
	FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error)
}

type BarRepository interface {
	UpsertBars(ctx context.Context, bars []*domain.PriceBar) error
	LatestBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error)
	LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

type QuoteCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MarketService orchestrates bar syncing, quote caching, and retrieval.
type MarketService struct {
	tracer       trace.Tracer
	provider     PriceProvider
	repo         BarRepository
	cache        QuoteCache
	lookbackDays int
}

func NewMarketService(
	tracer trace.Tracer,
	provider PriceProvider,
	repo BarRepository,
	cache QuoteCache,
	lookbackDays int,
) *MarketService {
	if lookbackDays <= 0 {
		lookbackDays = 730
	}
	return &MarketService{
		tracer:       tracer,
		provider:     provider,
		repo:         repo,
		cache:        cache,
		lookbackDays: lookbackDays,
	}
}

// GetQuote returns the current price snapshot for a symbol, served from the
// short-lived cache when fresh.
func (s *MarketService) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := s.tracer.Start(ctx, "market-service.get-quote")
	defer span.End()

	asset, err := s.asset(symbol)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, quoteCacheKey(asset.Symbol)); err == nil && ok {
			var quote domain.Quote
			if json.Unmarshal([]byte(raw), &quote) == nil {
				return &quote, nil
			}
		} else if err != nil {
			log.Printf("market: quote cache read for %s: %v", asset.Symbol, err)
		}
	}

	quote, err := s.provider.FetchQuote(ctx, asset)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if blob, err := json.Marshal(quote); err == nil {
			if err := s.cache.Set(ctx, quoteCacheKey(asset.Symbol), string(blob), quoteCacheTTL); err != nil {
				log.Printf("market: quote cache write for %s: %v", asset.Symbol, err)
			}
		}
	}
	return quote, nil
}

// GetBars returns up to limit of the newest stored bars, ascending.
func (s *MarketService) GetBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error) {
	_, span := s.tracer.Start(ctx, "market-service.get-bars")
	defer span.End()

	asset, err := s.asset(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 365
	}
	return s.repo.LatestBars(ctx, asset.Symbol, limit)
}

// SyncBars pulls the full lookback window from the provider and upserts it.
func (s *MarketService) SyncBars(ctx context.Context, symbol string) (int, error) {
	_, span := s.tracer.Start(ctx, "market-service.sync-bars")
	defer span.End()

	asset, err := s.asset(symbol)
	if err != nil {
		return 0, err
	}
	bars, err := s.provider.FetchDailyBars(ctx, asset, s.lookbackDays)
	if err != nil {
		return 0, err
	}
	if err := s.repo.UpsertBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("upsert bars for %s: %w", asset.Symbol, err)
	}
	return len(bars), nil
}

// EnsureHistory syncs a symbol only when its stored history is missing or
// stale. Returns whether a sync ran.
func (s *MarketService) EnsureHistory(ctx context.Context, symbol string) (bool, error) {
	_, span := s.tracer.Start(ctx, "market-service.ensure-history")
	defer span.End()

	asset, err := s.asset(symbol)
	if err != nil {
		return false, err
	}
	latest, ok, err := s.repo.LatestBarDate(ctx, asset.Symbol)
	if err != nil {
		return false, err
	}
	if ok && time.Since(latest) < barStaleAfter {
		return false, nil
	}
	if _, err := s.SyncBars(ctx, asset.Symbol); err != nil {
		return false, err
	}
	return true, nil
}

// SyncAll refreshes every symbol, logging failures instead of stopping.
func (s *MarketService) SyncAll(ctx context.Context, symbols []string) (synced, failed int) {
	_, span := s.tracer.Start(ctx, "market-service.sync-all")
	defer span.End()

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return synced, failed
		}
		n, err := s.SyncBars(ctx, symbol)
		if err != nil {
			log.Printf("market: sync %s: %v", symbol, err)
			failed++
			continue
		}
		log.Printf("market: synced %d bars for %s", n, symbol)
		synced++
	}
	return synced, failed
}

func (s *MarketService) asset(symbol string) (domain.Asset, error) {
	asset, ok := domain.AssetBySymbol(strings.ToUpper(strings.TrimSpace(symbol)))
	if !ok {
		return domain.Asset{}, fmt.Errorf("unsupported symbol: %s", symbol)
	}
	return asset, nil
}

func quoteCacheKey(symbol string) string {
	return "quote:" + symbol
}
