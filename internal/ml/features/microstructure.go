package features

import (
	"math"

	"stock-sage/internal/ta"

	"gonum.org/v1/gonum/stat"
)

var microColumns = []string{
	"Illiquidity", "Illiquidity_MA", "Roll_Spread", "Kyle_Lambda", "CS_Spread",
	"Order_Imbalance", "VPIN", "RV_5min", "RV_30min", "RV_Ratio",
	"Noise", "Price_Jump", "Jump_Intensity", "Hurst", "Info_Share",
}

// microFeatures estimates liquidity and price-formation quality from daily
// bars: Amihud illiquidity, Roll and Corwin-Schultz spreads, Kyle lambda,
// order-flow imbalance with VPIN, realized-volatility ratios, jump counts
// and a rolling Hurst exponent.
func microFeatures(open, high, low, closes, volume []float64, base map[string][]float64) map[string][]float64 {
	n := len(closes)
	f := make(map[string][]float64, len(microColumns))
	ret := base["Daily_Return"]

	illiq := make([]float64, n)
	for i := range illiq {
		illiq[i] = math.Abs(ret[i]) / (volume[i] + 1)
	}
	f["Illiquidity"] = illiq
	f["Illiquidity_MA"] = ta.RollingMean(illiq, 20)

	priceChange := ta.Diff(closes, 1)
	f["Roll_Spread"] = rollSpread(priceChange, 20)

	vol5 := ta.RollingMean(volume, 5)
	kyle := make([]float64, n)
	for i := range kyle {
		kyle[i] = math.Abs(priceChange[i]) / (vol5[i] + 1)
	}
	f["Kyle_Lambda"] = kyle

	hlr := make([]float64, n)
	for i := range hlr {
		hlr[i] = math.Log(high[i] / low[i])
	}
	cs2 := ta.RollingMean(hlr, 2)
	cs := make([]float64, n)
	for i := range cs {
		e := math.Exp(cs2[i])
		cs[i] = 2 * (e - 1) / (1 + e)
	}
	f["CS_Spread"] = cs

	oi := make([]float64, n)
	for i := range oi {
		buy, sell := 0.0, 0.0
		if closes[i] > open[i] {
			buy = volume[i]
		} else {
			sell = volume[i]
		}
		oi[i] = (buy - sell) / (volume[i] + 1)
	}
	f["Order_Imbalance"] = oi

	vpinMean := ta.RollingMean(oi, 50)
	vpin := make([]float64, n)
	for i := range vpin {
		vpin[i] = math.Abs(vpinMean[i])
	}
	f["VPIN"] = vpin

	rv5 := ta.RollingStd(hlr, 5)
	rv30 := ta.RollingStd(hlr, 30)
	f["RV_5min"] = rv5
	f["RV_30min"] = rv30
	rvRatio := make([]float64, n)
	for i := range rvRatio {
		rvRatio[i] = rv5[i] / (rv30[i] + 0.001)
	}
	f["RV_Ratio"] = rvRatio

	noiseStd := ta.RollingStd(closes, 20)
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = (high[i] - low[i]) / (noiseStd[i] + 0.001)
	}
	f["Noise"] = noise

	jumpStd := ta.RollingStd(ret, 252)
	jump := make([]float64, n)
	for i := range jump {
		if !math.IsNaN(ret[i]) && !math.IsNaN(jumpStd[i]) && math.Abs(ret[i]) > 3*jumpStd[i] {
			jump[i] = 1
		}
	}
	f["Price_Jump"] = jump
	f["Jump_Intensity"] = ta.RollingSum(jump, 20)

	f["Hurst"] = hurstSeries(closes, 50)

	volSum := ta.RollingSum(volume, 20)
	info := make([]float64, n)
	for i := range info {
		info[i] = volume[i] * math.Abs(ret[i]) / volSum[i]
	}
	f["Info_Share"] = info
	return f
}

// rollSpread is the Roll (1984) effective-spread estimator: twice the square
// root of the negated first-order autocovariance of price changes over the
// window. A positive autocovariance leaves the estimate undefined (NaN).
func rollSpread(priceChange []float64, window int) []float64 {
	out := nans(len(priceChange))
	if window < 3 {
		return out
	}
	for i := window - 1; i < len(priceChange); i++ {
		w := priceChange[i-window+1 : i+1]
		if windowHasNaN(w) {
			continue
		}
		cov := stat.Covariance(w[:len(w)-1], w[1:], nil)
		if -cov < 0 {
			continue
		}
		out[i] = 2 * math.Sqrt(-cov)
	}
	return out
}

// hurstSeries estimates the Hurst exponent over a trailing window from the
// scaling of lagged-difference dispersion, via the slope of log tau against
// log lag for lags 2..19.
func hurstSeries(closes []float64, window int) []float64 {
	out := nans(len(closes))
	if window < 40 {
		return out
	}
	const maxLag = 20
	logLags := make([]float64, 0, maxLag-2)
	for lag := 2; lag < maxLag; lag++ {
		logLags = append(logLags, math.Log(float64(lag)))
	}
	for i := window - 1; i < len(closes); i++ {
		ts := closes[i-window+1 : i+1]
		logTau := make([]float64, 0, len(logLags))
		ok := true
		for lag := 2; lag < maxLag; lag++ {
			d := make([]float64, len(ts)-lag)
			for j := range d {
				d[j] = ts[j+lag] - ts[j]
			}
			_, sd := ta.MeanStd(d)
			tau := math.Sqrt(sd)
			if tau <= 0 || math.IsNaN(tau) {
				ok = false
				break
			}
			logTau = append(logTau, math.Log(tau))
		}
		if !ok {
			continue
		}
		_, slope := stat.LinearRegression(logLags, logTau, nil, false)
		out[i] = slope * 2
	}
	return out
}

func windowHasNaN(w []float64) bool {
	for _, v := range w {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
