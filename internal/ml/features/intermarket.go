package features

import (
	"stock-sage/internal/ta"

	"gonum.org/v1/gonum/stat"
)

var intermarketColumns = []string{
	"VIX_Proxy", "Dollar_Strength", "Bond_Stock_Corr", "Sector_Rotation",
}

// interactionBases are the features crossed pairwise into product columns.
var interactionBases = []string{"RSI", "BB_Position", "Momentum_Pct", "Volume_Ratio", "Volatility"}

// intermarketFeatures derives cross-market regime proxies from the symbol's
// own series: smoothed volatility as a fear gauge, inverted momentum as a
// dollar-strength stand-in, the trend correlation of returns and a
// volume-momentum rotation signal.
func intermarketFeatures(closes []float64, base map[string][]float64) map[string][]float64 {
	n := len(closes)
	f := make(map[string][]float64, len(intermarketColumns))

	f["VIX_Proxy"] = scale(ta.RollingMean(base["Volatility"], 20), 100)

	mom20 := ta.PctChange(closes, 20)
	dollar := make([]float64, n)
	for i := range dollar {
		dollar[i] = 100 - mom20[i]*100
	}
	f["Dollar_Strength"] = dollar

	f["Bond_Stock_Corr"] = trendCorrelation(base["Daily_Return"], 60)

	volChange := ta.RollingMean(base["Volume_Change"], 20)
	momentum := base["Momentum_Pct"]
	rotation := make([]float64, n)
	for i := range rotation {
		rotation[i] = volChange[i] * momentum[i]
	}
	f["Sector_Rotation"] = rotation
	return f
}

// trendCorrelation is the rolling Pearson correlation of values against a
// linear time index, NaN while the window is incomplete or flat.
func trendCorrelation(values []float64, window int) []float64 {
	out := nans(len(values))
	if window < 2 {
		return out
	}
	idx := make([]float64, window)
	for i := range idx {
		idx[i] = float64(i)
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if windowHasNaN(w) {
			continue
		}
		out[i] = stat.Correlation(w, idx, nil)
	}
	return out
}

// InteractionColumns lists the pairwise product columns in combination
// order, named "A B" after their factors.
func InteractionColumns() []string {
	out := make([]string, 0, len(interactionBases)*(len(interactionBases)-1)/2)
	for i := 0; i < len(interactionBases); i++ {
		for j := i + 1; j < len(interactionBases); j++ {
			out = append(out, interactionBases[i]+" "+interactionBases[j])
		}
	}
	return out
}

func interactionFeatures(cols map[string][]float64, n int) map[string][]float64 {
	f := make(map[string][]float64)
	for i := 0; i < len(interactionBases); i++ {
		for j := i + 1; j < len(interactionBases); j++ {
			a := cols[interactionBases[i]]
			b := cols[interactionBases[j]]
			prod := make([]float64, n)
			for k := 0; k < n; k++ {
				prod[k] = a[k] * b[k]
			}
			f[interactionBases[i]+" "+interactionBases[j]] = prod
		}
	}
	return f
}
