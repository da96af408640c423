package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"

	"go.opentelemetry.io/otel/trace"
)

const stooqBaseURL = "https://stooq.com"

// StooqProvider fetches daily OHLCV history for listed funds from the Stooq
// CSV export. Stooq serves full history per request; the provider trims to
// the requested window client-side.
type StooqProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewStooqProvider(tracer trace.Tracer) *StooqProvider {
	return &StooqProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: stooqBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(30, 2*time.Second),
	}
}

func (p *StooqProvider) FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error) {
	_, span := p.tracer.Start(ctx, "stooq.fetch-daily-bars")
	defer span.End()

	if asset.Class == domain.AssetCrypto {
		return nil, fmt.Errorf("stooq does not carry %s (%s)", asset.Symbol, asset.Class)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	url := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", p.baseURL, asset.SourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrExternalData, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: stooq status %d: %s", common.ErrExternalData, resp.StatusCode, string(body))
	}

	bars, err := parseStooqCSV(asset.Symbol, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse history for %s: %w", asset.Symbol, err)
	}

	if days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		for len(bars) > 0 && bars[0].BarDate.Before(cutoff) {
			bars = bars[1:]
		}
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s in the requested window", common.ErrExternalData, asset.Symbol)
	}
	return bars, nil
}

// FetchQuote derives a snapshot from the two newest daily bars. Stooq has
// no separate live quote endpoint on the free export.
func (p *StooqProvider) FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "stooq.fetch-quote")
	defer span.End()

	bars, err := p.FetchDailyBars(ctx, asset, 14)
	if err != nil {
		return nil, err
	}
	last := bars[len(bars)-1]
	quote := &domain.Quote{
		Symbol: asset.Symbol,
		Price:  last.Close,
		AsOf:   last.BarDate,
	}
	if len(bars) >= 2 {
		prev := bars[len(bars)-2]
		if prev.Close != 0 {
			quote.ChangePct = (last.Close - prev.Close) / prev.Close * 100
		}
	}
	return quote, nil
}

// parseStooqCSV reads the Date,Open,High,Low,Close,Volume export. Stooq
// answers plain text like "No data" for unknown tickers, which fails the
// header check.
func parseStooqCSV(symbol string, r io.Reader) ([]*domain.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: empty response", common.ErrExternalData)
	}
	if len(header) < 5 || !strings.EqualFold(strings.TrimSpace(header[0]), "Date") {
		return nil, fmt.Errorf("%w: unexpected response %q", common.ErrExternalData, strings.Join(header, ","))
	}

	var bars []*domain.PriceBar
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrExternalData, err)
		}
		if len(record) < 5 {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(record[0]))
		if err != nil {
			continue
		}
		open, err1 := strconv.ParseFloat(record[1], 64)
		high, err2 := strconv.ParseFloat(record[2], 64)
		low, err3 := strconv.ParseFloat(record[3], 64)
		closePrice, err4 := strconv.ParseFloat(record[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume := 0.0
		if len(record) >= 6 && record[5] != "" {
			volume, _ = strconv.ParseFloat(record[5], 64)
		}
		bars = append(bars, &domain.PriceBar{
			Symbol:  symbol,
			BarDate: date.UTC(),
			Open:    open,
			High:    high,
			Low:     low,
			Close:   closePrice,
			Volume:  volume,
		})
	}
	return bars, nil
}
