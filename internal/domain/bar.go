package domain

import "time"

// PriceBar is a single daily OHLCV observation for a symbol. Bars for a
// symbol are keyed by BarDate (midnight UTC) and strictly ordered by it.
type PriceBar struct {
	Symbol  string    `json:"symbol"`
	BarDate time.Time `json:"bar_date"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
}

// Quote is a lightweight current-price snapshot used by the quote endpoint
// and attached to predictions as the entry price.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct_24h"`
	AsOf      time.Time `json:"as_of"`
}

type AssetClass string

const (
	AssetETF       AssetClass = "etf"
	AssetCommodity AssetClass = "commodity"
	AssetCrypto    AssetClass = "crypto"
)

// Asset describes one tradable instrument in the supported universe.
// SourceID is the provider-native identifier: a Stooq ticker for ETFs and
// commodity funds, a CoinGecko coin id for crypto.
type Asset struct {
	Symbol   string     `json:"symbol"`
	Name     string     `json:"name"`
	Class    AssetClass `json:"class"`
	SourceID string     `json:"-"`
}

var Assets = map[string]Asset{
	"SPY":  {Symbol: "SPY", Name: "SPDR S&P 500 ETF", Class: AssetETF, SourceID: "spy.us"},
	"IWF":  {Symbol: "IWF", Name: "iShares Russell 1000 Growth ETF", Class: AssetETF, SourceID: "iwf.us"},
	"SCHD": {Symbol: "SCHD", Name: "Schwab US Dividend Equity ETF", Class: AssetETF, SourceID: "schd.us"},
	"VOO":  {Symbol: "VOO", Name: "Vanguard S&P 500 ETF", Class: AssetETF, SourceID: "voo.us"},
	"QQQ":  {Symbol: "QQQ", Name: "Invesco QQQ Trust", Class: AssetETF, SourceID: "qqq.us"},
	"GLD":  {Symbol: "GLD", Name: "SPDR Gold Shares", Class: AssetCommodity, SourceID: "gld.us"},
	"SLV":  {Symbol: "SLV", Name: "iShares Silver Trust", Class: AssetCommodity, SourceID: "slv.us"},
	"BTC":  {Symbol: "BTC", Name: "Bitcoin", Class: AssetCrypto, SourceID: "bitcoin"},
	"ETH":  {Symbol: "ETH", Name: "Ethereum", Class: AssetCrypto, SourceID: "ethereum"},
}

// SupportedSymbols lists the universe in presentation order.
var SupportedSymbols = []string{"SPY", "IWF", "SCHD", "VOO", "QQQ", "GLD", "SLV", "BTC", "ETH"}

func IsSupportedSymbol(symbol string) bool {
	_, ok := Assets[symbol]
	return ok
}

func AssetBySymbol(symbol string) (Asset, bool) {
	a, ok := Assets[symbol]
	return a, ok
}
