// Package features turns raw daily bars into the engineered model inputs.
// Column names and their order are part of the artifact contract: a trained
// model only accepts frames produced by the same variant of this engine.
package features

import (
	"fmt"
	"math"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"
	"stock-sage/internal/ta"
)

// FeatureSpecVersion identifies the engineered column layout. Bump it when
// columns are added, removed or reordered so stale artifacts are rejected.
const FeatureSpecVersion = "2"

// VariantSpec selects which feature families an engine computes. All
// variants share the base technical block.
type VariantSpec struct {
	Name           string
	Microstructure bool
	Intermarket    bool
	Interactions   bool
}

var variantSpecs = map[string]VariantSpec{
	"baseline":  {Name: "baseline"},
	"enhanced":  {Name: "enhanced"},
	"optimized": {Name: "optimized"},
	"advanced":  {Name: "advanced", Microstructure: true, Intermarket: true, Interactions: true},
}

// VariantByName resolves a configured variant name.
func VariantByName(name string) (VariantSpec, error) {
	v, ok := variantSpecs[name]
	if !ok {
		return VariantSpec{}, fmt.Errorf("unknown model variant %q", name)
	}
	return v, nil
}

// VariantNames lists the configurable variants in rough capability order.
func VariantNames() []string {
	return []string{"baseline", "enhanced", "optimized", "advanced"}
}

// warmup is the number of leading rows dropped so that every active column
// has a full window behind it. The 252-day jump window dominates once
// microstructure features are on.
func (v VariantSpec) warmup() int {
	w := 50
	if v.Intermarket && w < 60 {
		w = 60
	}
	if v.Microstructure && w < 252 {
		w = 252
	}
	return w
}

var baseColumns = []string{
	"RSI", "BB_Position", "Volume_Ratio", "SMA_5_20_Ratio", "SMA_20_50_Ratio",
	"Price_to_SMA5", "Price_to_SMA20", "Daily_Return", "Momentum_Pct", "Volatility",
	"Return_2d", "Return_5d", "HL_Ratio", "Volume_Change", "Price_Acceleration",
	"MACD_Hist", "Stochastic", "ATR_Pct", "MFI", "OBV_Ratio",
	"Williams_R", "CCI", "ROC", "DI_Diff", "Up_Streak",
	"Down_Streak", "Gap", "Intraday_Range", "Close_Position", "Volume_Momentum",
}

// Engine computes the engineered frame for one variant.
type Engine struct {
	variant VariantSpec
}

func NewEngine(v VariantSpec) *Engine {
	return &Engine{variant: v}
}

func (e *Engine) Variant() VariantSpec { return e.variant }

// Columns returns the canonical column order for this variant.
func (e *Engine) Columns() []string {
	cols := append([]string{}, baseColumns...)
	if e.variant.Microstructure {
		cols = append(cols, microColumns...)
	}
	if e.variant.Intermarket {
		cols = append(cols, intermarketColumns...)
	}
	if e.variant.Interactions {
		cols = append(cols, InteractionColumns()...)
	}
	return cols
}

// MinBars is the smallest input that yields at least one usable row.
func (e *Engine) MinBars() int {
	return e.variant.warmup() + 1
}

// Compute builds the engineered frame from chronologically ordered bars.
// Rows before the warm-up cutoff are dropped; the final row keeps a nil
// Target because the next close is not yet observed. Interior NaN and Inf
// values survive into the frame for the dataset cleaner to handle.
func (e *Engine) Compute(bars []*domain.PriceBar) (*domain.FeatureSet, error) {
	n := len(bars)
	warm := e.variant.warmup()
	if n < warm+1 {
		return nil, fmt.Errorf("%w: %d bars, need at least %d for variant %s",
			common.ErrDataInsufficiency, n, warm+1, e.variant.Name)
	}

	symbol := bars[0].Symbol
	open := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, b := range bars {
		if i > 0 && !b.BarDate.After(bars[i-1].BarDate) {
			return nil, fmt.Errorf("bars for %s not strictly ordered by date at index %d", symbol, i)
		}
		open[i], high[i], low[i] = b.Open, b.High, b.Low
		closes[i], volume[i] = b.Close, b.Volume
	}

	cols := baseFeatures(open, high, low, closes, volume)
	if e.variant.Microstructure {
		for name, series := range microFeatures(open, high, low, closes, volume, cols) {
			cols[name] = series
		}
	}
	if e.variant.Intermarket {
		for name, series := range intermarketFeatures(closes, cols) {
			cols[name] = series
		}
	}
	if e.variant.Interactions {
		for name, series := range interactionFeatures(cols, n) {
			cols[name] = series
		}
	}

	names := e.Columns()
	rows := make([]domain.FeatureRow, 0, n-warm)
	for i := warm; i < n; i++ {
		vals := make([]float64, len(names))
		for j, name := range names {
			vals[j] = cols[name][i]
		}
		var target *int
		if i+1 < n {
			t := 0
			if closes[i+1] > closes[i] {
				t = 1
			}
			target = &t
		}
		rows = append(rows, domain.FeatureRow{Date: bars[i].BarDate, Values: vals, Target: target})
	}
	return &domain.FeatureSet{Symbol: symbol, Names: names, Rows: rows}, nil
}

func baseFeatures(open, high, low, closes, volume []float64) map[string][]float64 {
	n := len(closes)
	f := make(map[string][]float64, len(baseColumns))

	ret := ta.PctChange(closes, 1)
	sma5 := ta.RollingMean(closes, 5)
	sma20 := ta.RollingMean(closes, 20)
	sma50 := ta.RollingMean(closes, 50)

	f["RSI"] = ta.RSISeries(closes, 14)

	_, upper, lower := ta.BollingerSeries(closes, 20, 2)
	bbPos := make([]float64, n)
	for i := range bbPos {
		bbPos[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
	}
	f["BB_Position"] = bbPos

	f["Volume_Ratio"] = div(volume, ta.RollingMean(volume, 20))
	f["SMA_5_20_Ratio"] = div(sma5, sma20)
	f["SMA_20_50_Ratio"] = div(sma20, sma50)

	toSMA5 := make([]float64, n)
	toSMA20 := make([]float64, n)
	for i := range closes {
		toSMA5[i] = (closes[i] - sma5[i]) / sma5[i]
		toSMA20[i] = (closes[i] - sma20[i]) / sma20[i]
	}
	f["Price_to_SMA5"] = toSMA5
	f["Price_to_SMA20"] = toSMA20

	f["Daily_Return"] = ret
	f["Momentum_Pct"] = ta.PctChange(closes, 10)
	f["Volatility"] = ta.RollingStd(ret, 20)
	f["Return_2d"] = ta.PctChange(closes, 2)
	f["Return_5d"] = ta.PctChange(closes, 5)

	hlRatio := make([]float64, n)
	for i := range closes {
		hlRatio[i] = (high[i] - low[i]) / closes[i]
	}
	f["HL_Ratio"] = hlRatio

	f["Volume_Change"] = ta.PctChange(volume, 1)
	f["Price_Acceleration"] = ta.Diff(ret, 1)

	macd, signal := ta.MACDSeries(closes, 12, 26, 9)
	hist := make([]float64, n)
	for i := range hist {
		hist[i] = macd[i] - signal[i]
	}
	f["MACD_Hist"] = hist

	f["Stochastic"] = ta.StochasticKSeries(high, low, closes, 14)
	f["ATR_Pct"] = div(ta.ATRSeries(high, low, closes, 14), closes)
	f["MFI"] = ta.MFISeries(high, low, closes, volume, 14)

	obv := ta.OBVSeries(closes, volume)
	f["OBV_Ratio"] = div(obv, ta.RollingMean(obv, 20))

	f["Williams_R"] = ta.WilliamsRSeries(high, low, closes, 14)
	f["CCI"] = ta.CCISeries(high, low, closes, 20)
	f["ROC"] = scale(ta.PctChange(closes, 12), 100)
	f["DI_Diff"] = ta.DIDiffSeries(high, low, closes, 14)

	upFlag := make([]float64, n)
	downFlag := make([]float64, n)
	for i := 1; i < n; i++ {
		if closes[i] > closes[i-1] {
			upFlag[i] = 1
		}
		if closes[i] < closes[i-1] {
			downFlag[i] = 1
		}
	}
	f["Up_Streak"] = ta.RollingSum(upFlag, 5)
	f["Down_Streak"] = ta.RollingSum(downFlag, 5)

	gap := nans(n)
	for i := 1; i < n; i++ {
		gap[i] = (open[i] - closes[i-1]) / closes[i-1]
	}
	f["Gap"] = gap

	intraday := make([]float64, n)
	closePos := make([]float64, n)
	for i := range closes {
		intraday[i] = (high[i] - low[i]) / open[i]
		closePos[i] = (closes[i] - low[i]) / (high[i] - low[i])
	}
	f["Intraday_Range"] = intraday
	f["Close_Position"] = closePos

	f["Volume_Momentum"] = ta.PctChange(volume, 5)
	return f
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// div is elementwise a/b. Native float division already gives the frame
// semantics: NaN propagates, x/0 is signed Inf, 0/0 is NaN.
func div(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] / b[i]
	}
	return out
}

func scale(a []float64, k float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] * k
	}
	return out
}
