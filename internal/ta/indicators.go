// Package ta implements technical analysis primitives over daily price
// series. Series functions return slices aligned with their input where
// positions without enough history hold NaN, so callers can compose
// indicators and decide the warm-up cutoff once at the end.
package ta

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func hasNaN(window []float64) bool {
	for _, v := range window {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// MeanStd returns the mean and population standard deviation of values.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := stat.Mean(values, nil)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return mean, math.Sqrt(sum / float64(len(values)))
}

// RollingMean computes the trailing window average. A window containing NaN
// yields NaN, so derived series keep their warm-up gaps.
func RollingMean(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.Mean(w, nil)
	}
	return out
}

// RollingStd computes the trailing window sample standard deviation
// (n-1 denominator).
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out
}

// RollingSum computes the trailing window sum.
func RollingSum(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		sum := 0.0
		for _, v := range w {
			sum += v
		}
		out[i] = sum
	}
	return out
}

// RollingMin computes the trailing window minimum.
func RollingMin(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		min := w[0]
		for _, v := range w[1:] {
			if v < min {
				min = v
			}
		}
		out[i] = min
	}
	return out
}

// RollingMax computes the trailing window maximum.
func RollingMax(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		max := w[0]
		for _, v := range w[1:] {
			if v > max {
				max = v
			}
		}
		out[i] = max
	}
	return out
}

// RollingMeanAbsDev computes the trailing window mean absolute deviation
// around the window mean.
func RollingMeanAbsDev(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		mean := stat.Mean(w, nil)
		sum := 0.0
		for _, v := range w {
			sum += math.Abs(v - mean)
		}
		out[i] = sum / float64(len(w))
	}
	return out
}

// Diff returns values[i] - values[i-lag] with NaN for the first lag positions.
func Diff(values []float64, lag int) []float64 {
	out := nanSlice(len(values))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(values); i++ {
		out[i] = values[i] - values[i-lag]
	}
	return out
}

// Shift returns values delayed by lag positions, NaN-filled at the front.
func Shift(values []float64, lag int) []float64 {
	out := nanSlice(len(values))
	if lag <= 0 {
		copy(out, values)
		return out
	}
	for i := lag; i < len(values); i++ {
		out[i] = values[i-lag]
	}
	return out
}

// PctChange returns the fractional change over lag positions. A zero base
// yields signed infinity, matching float division semantics downstream
// cleaning relies on.
func PctChange(values []float64, lag int) []float64 {
	out := nanSlice(len(values))
	if lag <= 0 {
		return out
	}
	for i := lag; i < len(values); i++ {
		prev := values[i-lag]
		cur := values[i]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		if prev == 0 {
			if cur == 0 {
				continue
			}
			out[i] = math.Inf(1)
			if cur < 0 {
				out[i] = math.Inf(-1)
			}
			continue
		}
		out[i] = cur/prev - 1
	}
	return out
}

// EMASeries computes an exponential moving average seeded at the first value
// with alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDSeries returns the MACD line (fast EMA minus slow EMA) and its signal
// line (EMA of the MACD line).
func MACDSeries(values []float64, fast, slow, signal int) ([]float64, []float64) {
	fastEMA := EMASeries(values, fast)
	slowEMA := EMASeries(values, slow)
	macd := make([]float64, len(values))
	for i := range macd {
		macd[i] = fastEMA[i] - slowEMA[i]
	}
	return macd, EMASeries(macd, signal)
}

// RSISeries computes the relative strength index using simple rolling
// averages of gains and losses.
func RSISeries(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < period+1 || period <= 0 {
		return out
	}
	delta := Diff(closes, 1)
	gains := nanSlice(n)
	losses := nanSlice(n)
	for i := 1; i < n; i++ {
		gains[i], losses[i] = 0, 0
		if delta[i] > 0 {
			gains[i] = delta[i]
		}
		if delta[i] < 0 {
			losses[i] = -delta[i]
		}
	}
	avgGain := RollingMean(gains, period)
	avgLoss := RollingMean(losses, period)
	for i := range out {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) {
			continue
		}
		out[i] = rsiFromAvg(avgGain[i], avgLoss[i])
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerSeries returns the middle, upper and lower bands: a rolling mean
// plus/minus mult rolling sample standard deviations.
func BollingerSeries(values []float64, period int, mult float64) (mid, upper, lower []float64) {
	mid = RollingMean(values, period)
	sd := RollingStd(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	for i := range values {
		if math.IsNaN(mid[i]) || math.IsNaN(sd[i]) {
			continue
		}
		upper[i] = mid[i] + mult*sd[i]
		lower[i] = mid[i] - mult*sd[i]
	}
	return mid, upper, lower
}

// TrueRangeSeries computes the daily true range: the largest of high-low,
// |high-prevClose| and |low-prevClose|. The first bar falls back to high-low.
func TrueRangeSeries(high, low, closes []float64) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			if hc := math.Abs(high[i] - closes[i-1]); hc > tr {
				tr = hc
			}
			if lc := math.Abs(low[i] - closes[i-1]); lc > tr {
				tr = lc
			}
		}
		out[i] = tr
	}
	return out
}

// ATRSeries computes the average true range as a rolling mean of the true
// range.
func ATRSeries(high, low, closes []float64, period int) []float64 {
	return RollingMean(TrueRangeSeries(high, low, closes), period)
}

// StochasticKSeries computes the %K oscillator: the close position inside
// the trailing high-low range, scaled to 0..100.
func StochasticKSeries(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	lowMin := RollingMin(low, period)
	highMax := RollingMax(high, period)
	for i := range out {
		if math.IsNaN(lowMin[i]) || math.IsNaN(highMax[i]) {
			continue
		}
		denom := highMax[i] - lowMin[i]
		if denom == 0 {
			continue
		}
		out[i] = 100 * (closes[i] - lowMin[i]) / denom
	}
	return out
}

// WilliamsRSeries computes Williams %R over the trailing period, in -100..0.
func WilliamsRSeries(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	lowMin := RollingMin(low, period)
	highMax := RollingMax(high, period)
	for i := range out {
		if math.IsNaN(lowMin[i]) || math.IsNaN(highMax[i]) {
			continue
		}
		denom := highMax[i] - lowMin[i]
		if denom == 0 {
			continue
		}
		out[i] = -100 * (highMax[i] - closes[i]) / denom
	}
	return out
}

// CCISeries computes the commodity channel index of the typical price with
// the conventional 0.015 scaling constant.
func CCISeries(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	tp := make([]float64, n)
	for i := range tp {
		tp[i] = (high[i] + low[i] + closes[i]) / 3
	}
	sma := RollingMean(tp, period)
	mad := RollingMeanAbsDev(tp, period)
	for i := range out {
		if math.IsNaN(sma[i]) || math.IsNaN(mad[i]) {
			continue
		}
		denom := 0.015 * mad[i]
		if denom == 0 {
			continue
		}
		out[i] = (tp[i] - sma[i]) / denom
	}
	return out
}

// MFISeries computes the money flow index: typical-price money flow split
// into up and down days and summed over the trailing period. Days with an
// unchanged typical price count toward neither side.
func MFISeries(high, low, closes, volume []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n || len(volume) != n {
		return out
	}
	tp := make([]float64, n)
	for i := range tp {
		tp[i] = (high[i] + low[i] + closes[i]) / 3
	}
	pos := make([]float64, n)
	neg := make([]float64, n)
	for i := 1; i < n; i++ {
		mf := tp[i] * volume[i]
		if tp[i] > tp[i-1] {
			pos[i] = mf
		} else if tp[i] < tp[i-1] {
			neg[i] = mf
		}
	}
	posSum := RollingSum(pos, period)
	negSum := RollingSum(neg, period)
	for i := range out {
		if math.IsNaN(posSum[i]) || math.IsNaN(negSum[i]) {
			continue
		}
		if negSum[i] == 0 {
			if posSum[i] == 0 {
				continue
			}
			out[i] = 100
			continue
		}
		ratio := posSum[i] / negSum[i]
		out[i] = 100 - 100/(1+ratio)
	}
	return out
}

// OBVSeries computes cumulative on-balance volume starting at zero.
func OBVSeries(closes, volume []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n == 0 || len(volume) != n {
		return out
	}
	cum := 0.0
	for i := 1; i < n; i++ {
		switch {
		case closes[i] > closes[i-1]:
			cum += volume[i]
		case closes[i] < closes[i-1]:
			cum -= volume[i]
		}
		out[i] = cum
	}
	return out
}

// DIDiffSeries returns the spread between the smoothed positive and negative
// directional indicators. Both directional movements are taken from raw
// one-day high and low differences gated against each other.
func DIDiffSeries(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 || len(high) != n || len(low) != n {
		return out
	}
	hd := Diff(high, 1)
	ld := Diff(low, 1)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 0; i < n; i++ {
		if hd[i] > ld[i] && hd[i] > 0 {
			plusDM[i] = hd[i]
		}
		if ld[i] > hd[i] && ld[i] > 0 {
			minusDM[i] = ld[i]
		}
	}
	trSum := RollingSum(TrueRangeSeries(high, low, closes), period)
	plusSum := RollingSum(plusDM, period)
	minusSum := RollingSum(minusDM, period)
	for i := range out {
		if math.IsNaN(trSum[i]) || math.IsNaN(plusSum[i]) || math.IsNaN(minusSum[i]) {
			continue
		}
		if trSum[i] == 0 {
			continue
		}
		out[i] = 100*plusSum[i]/trSum[i] - 100*minusSum[i]/trSum[i]
	}
	return out
}
