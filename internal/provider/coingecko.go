// Package provider fetches market data from the upstream price APIs. Crypto
// comes from CoinGecko, listed funds from Stooq, and the composite routes
// each asset to the source that carries it.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"

	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoProvider fetches price and chart data from the CoinGecko free API.
type CoinGeckoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewCoinGeckoProvider creates a provider with built-in rate limiting.
// Rate limited to 8 requests per minute (one token every 7.5 seconds).
func NewCoinGeckoProvider(tracer trace.Tracer) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: coingeckoBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(8, 7500*time.Millisecond),
	}
}

// FetchDailyBars builds daily bars from the market_chart endpoint. The raw
// series is bucketed per UTC day; the current partial day is included and
// converges on the next sync through the bar upsert.
func (p *CoinGeckoProvider) FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-daily-bars")
	defer span.End()

	if asset.Class != domain.AssetCrypto {
		return nil, fmt.Errorf("coingecko does not carry %s (%s)", asset.Symbol, asset.Class)
	}
	// The free tier caps market_chart history at one year.
	if days > 365 {
		days = 365
	}
	if days <= 0 {
		days = 1
	}

	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d",
		p.baseURL, asset.SourceID, days)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch market chart for %s: %w", asset.Symbol, err)
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse market chart for %s: %v", common.ErrExternalData, asset.Symbol, err)
	}
	bars := buildDailyBars(asset.Symbol, raw.Prices, raw.TotalVolumes)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty market chart for %s", common.ErrExternalData, asset.Symbol)
	}
	return bars, nil
}

// FetchQuote returns the current price snapshot for one coin.
func (p *CoinGeckoProvider) FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-quote")
	defer span.End()

	if asset.Class != domain.AssetCrypto {
		return nil, fmt.Errorf("coingecko does not carry %s (%s)", asset.Symbol, asset.Class)
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true",
		p.baseURL, asset.SourceID)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", asset.Symbol, err)
	}

	// Response shape: {"bitcoin": {"usd": 97000, "usd_24h_change": 2.34}}
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse quote for %s: %v", common.ErrExternalData, asset.Symbol, err)
	}
	data, ok := raw[asset.SourceID]
	if !ok {
		return nil, fmt.Errorf("%w: no quote for %s in response", common.ErrExternalData, asset.Symbol)
	}
	return &domain.Quote{
		Symbol:    asset.Symbol,
		Price:     data["usd"],
		ChangePct: data["usd_24h_change"],
		AsOf:      time.Now().UTC(),
	}, nil
}

func (p *CoinGeckoProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrExternalData, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: coingecko status %d: %s", common.ErrExternalData, resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildDailyBars buckets raw market_chart points into UTC-day bars. The
// first price of a day opens it, the last closes it, and the closest volume
// point to the day's end supplies volume.
func buildDailyBars(symbol string, prices, volumes [][]float64) []*domain.PriceBar {
	if len(prices) == 0 {
		return nil
	}
	const day = 24 * time.Hour

	volPoints := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volPoints = append(volPoints, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i][0] < prices[j][0]
	})

	type bucket struct {
		open, high, low, close float64
		date                   time.Time
	}
	buckets := make(map[int64]*bucket)
	for _, pt := range prices {
		if len(pt) < 2 {
			continue
		}
		price := pt[1]
		key := time.UnixMilli(int64(pt[0])).UTC().Truncate(day).UnixMilli()

		b, exists := buckets[key]
		if !exists {
			buckets[key] = &bucket{
				open: price, high: price, low: price, close: price,
				date: time.UnixMilli(key).UTC(),
			}
			continue
		}
		b.high = math.Max(b.high, price)
		b.low = math.Min(b.low, price)
		b.close = price
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	bars := make([]*domain.PriceBar, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		vol := findClosestVolume(volPoints, k+int64(day/time.Millisecond))
		bars = append(bars, &domain.PriceBar{
			Symbol:  symbol,
			BarDate: b.date,
			Open:    b.open,
			High:    b.high,
			Low:     b.low,
			Close:   b.close,
			Volume:  vol,
		})
	}
	return bars
}

func findClosestVolume(volumes []volumePoint, targetMs int64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	closest := volumes[0]
	minDiff := int64(math.MaxInt64)
	for _, v := range volumes {
		diff := v.ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = v
		}
	}
	return closest.vol
}
