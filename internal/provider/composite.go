package provider

import (
	"context"

	"stock-sage/internal/domain"
)

// PriceSource is one upstream market data API.
type PriceSource interface {
	FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error)
	FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error)
}

// CompositeProvider routes each asset to the source that carries its class:
// crypto to CoinGecko, everything listed to Stooq.
type CompositeProvider struct {
	crypto PriceSource
	listed PriceSource
}

func NewCompositeProvider(crypto, listed PriceSource) *CompositeProvider {
	return &CompositeProvider{crypto: crypto, listed: listed}
}

func (p *CompositeProvider) FetchDailyBars(ctx context.Context, asset domain.Asset, days int) ([]*domain.PriceBar, error) {
	return p.route(asset).FetchDailyBars(ctx, asset, days)
}

func (p *CompositeProvider) FetchQuote(ctx context.Context, asset domain.Asset) (*domain.Quote, error) {
	return p.route(asset).FetchQuote(ctx, asset)
}

func (p *CompositeProvider) route(asset domain.Asset) PriceSource {
	if asset.Class == domain.AssetCrypto {
		return p.crypto
	}
	return p.listed
}
