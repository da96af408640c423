package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"stock-sage/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestMarketService_GetQuoteCacheHit(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	quote := &domain.Quote{Symbol: "BTC", Price: 97000}
	data, _ := json.Marshal(quote)
	cache.data["quote:BTC"] = string(data)

	provider := &mockProvider{}
	svc := NewMarketService(testTracer, provider, &mockBarRepo{}, cache, 0)

	got, err := svc.GetQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Price != 97000 {
		t.Fatalf("expected cached price, got %+v", got)
	}
	if provider.fetchQuoteCalls != 0 {
		t.Fatalf("provider called %d times on a cache hit", provider.fetchQuoteCalls)
	}
}

func TestMarketService_GetQuoteFetchesOnMiss(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{quote: &domain.Quote{Symbol: "BTC", Price: 42}}
	cache := newFakeCache()
	svc := NewMarketService(testTracer, provider, &mockBarRepo{}, cache, 0)

	got, err := svc.GetQuote(context.Background(), "btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "BTC" || got.Price != 42 {
		t.Fatalf("unexpected quote: %+v", got)
	}
	if provider.fetchQuoteCalls != 1 {
		t.Fatalf("expected one fetch, got %d", provider.fetchQuoteCalls)
	}
	if _, ok := cache.data["quote:BTC"]; !ok {
		t.Fatalf("quote not cached")
	}
}

func TestMarketService_GetQuoteUnsupported(t *testing.T) {
	t.Parallel()

	svc := NewMarketService(testTracer, &mockProvider{}, &mockBarRepo{}, nil, 0)
	if _, err := svc.GetQuote(context.Background(), "FAKE"); err == nil {
		t.Fatal("expected error for unsupported symbol")
	}
}

func TestMarketService_SyncBarsUpserts(t *testing.T) {
	t.Parallel()

	bars := []*domain.PriceBar{{Symbol: "SPY"}, {Symbol: "SPY"}, {Symbol: "SPY"}}
	provider := &mockProvider{bars: bars}
	repo := &mockBarRepo{}
	svc := NewMarketService(testTracer, provider, repo, nil, 0)

	n, err := svc.SyncBars(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 bars synced, got %d", n)
	}
	if provider.lastDays != 730 {
		t.Fatalf("expected the default lookback, got %d days", provider.lastDays)
	}
	if repo.upsertCalls != 1 || len(repo.upsertArg) != 3 {
		t.Fatalf("unexpected upsert: calls=%d args=%d", repo.upsertCalls, len(repo.upsertArg))
	}
}

func TestMarketService_EnsureHistorySkipsFresh(t *testing.T) {
	t.Parallel()

	repo := &mockBarRepo{latestDate: time.Now().UTC().Add(-time.Hour), hasDate: true}
	provider := &mockProvider{}
	svc := NewMarketService(testTracer, provider, repo, nil, 0)

	synced, err := svc.EnsureHistory(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synced {
		t.Fatalf("fresh history re-synced")
	}
	if provider.fetchBarsCalls != 0 {
		t.Fatalf("provider called %d times for fresh history", provider.fetchBarsCalls)
	}
}

func TestMarketService_EnsureHistorySyncsStale(t *testing.T) {
	t.Parallel()

	repo := &mockBarRepo{latestDate: time.Now().UTC().Add(-72 * time.Hour), hasDate: true}
	provider := &mockProvider{bars: []*domain.PriceBar{{Symbol: "BTC"}}}
	svc := NewMarketService(testTracer, provider, repo, nil, 0)

	synced, err := svc.EnsureHistory(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !synced || repo.upsertCalls != 1 {
		t.Fatalf("stale history not synced: synced=%v upserts=%d", synced, repo.upsertCalls)
	}
}

func TestMarketService_EnsureHistorySyncsMissing(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{bars: []*domain.PriceBar{{Symbol: "BTC"}}}
	svc := NewMarketService(testTracer, provider, &mockBarRepo{}, nil, 0)

	synced, err := svc.EnsureHistory(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !synced {
		t.Fatalf("missing history not synced")
	}
}

func TestMarketService_GetBarsDefaultsLimit(t *testing.T) {
	t.Parallel()

	repo := &mockBarRepo{latest: []*domain.PriceBar{{Symbol: "SPY"}}}
	svc := NewMarketService(testTracer, &mockProvider{}, repo, nil, 0)

	bars, err := svc.GetBars(context.Background(), "SPY", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if repo.lastLimit != 365 {
		t.Fatalf("expected default limit 365, got %d", repo.lastLimit)
	}
}

func TestMarketService_SyncAllCountsFailures(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{
		bars:    []*domain.PriceBar{{Symbol: "BTC"}},
		barsErr: map[string]error{"ETH": errors.New("upstream down")},
	}
	svc := NewMarketService(testTracer, provider, &mockBarRepo{}, nil, 0)

	synced, failed := svc.SyncAll(context.Background(), []string{"BTC", "ETH"})
	if synced != 1 || failed != 1 {
		t.Fatalf("synced=%d failed=%d, want 1 and 1", synced, failed)
	}
}

type mockProvider struct {
	bars     []*domain.PriceBar
	quote    *domain.Quote
	barsErr  map[string]error
	quoteErr error

	fetchBarsCalls  int
	fetchQuoteCalls int
	lastAsset       domain.Asset
	lastDays        int
}

func (m *mockProvider) FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error) {
	m.fetchBarsCalls++
	m.lastAsset = asset
	m.lastDays = days
	if err := m.barsErr[asset.Symbol]; err != nil {
		return nil, err
	}
	return m.bars, nil
}

func (m *mockProvider) FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error) {
	m.fetchQuoteCalls++
	m.lastAsset = asset
	if m.quoteErr != nil {
		return nil, m.quoteErr
	}
	return m.quote, nil
}

type mockBarRepo struct {
	latest     []*domain.PriceBar
	latestDate time.Time
	hasDate    bool

	upsertCalls int
	upsertArg   []*domain.PriceBar
	lastLimit   int
}

func (m *mockBarRepo) UpsertBars(ctx context.Context, bars []*domain.PriceBar) error {
	m.upsertCalls++
	m.upsertArg = bars
	return nil
}

func (m *mockBarRepo) LatestBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error) {
	m.lastLimit = limit
	return m.latest, nil
}

func (m *mockBarRepo) LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	return m.latestDate, m.hasDate, nil
}

type fakeCache struct {
	data map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.data[key] = value
	return nil
}
