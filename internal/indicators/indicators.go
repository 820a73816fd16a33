// Package indicators computes technical statistics from a price series.
// All functions are pure and deterministic; degenerate inputs yield documented
// neutral values instead of errors.
package indicators

import (
	"math"

	"memecoin-signal-lab/internal/domain"
)

// Default parameters.
const (
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	BollingerPeriod = 20
	BollingerK      = 2.0

	// fallbackBand is the ±fraction of the last price used when the
	// series is shorter than the Bollinger period.
	fallbackBand = 0.05
)

// Compute returns RSI(14), MACD(12,26) and Bollinger(20, 2σ) for prices
// ordered oldest to newest. Non-finite values are ignored.
func Compute(prices []float64) domain.Indicators {
	clean := finite(prices)
	upper, lower := Bollinger(clean, BollingerPeriod, BollingerK)
	return domain.Indicators{
		RSI:            RSI(clean, RSIPeriod),
		MACD:           MACD(clean, MACDFast, MACDSlow),
		BollingerUpper: upper,
		BollingerLower: lower,
	}
}

// RSI computes the relative strength index over the trailing period using
// simple average gain and loss. Fewer than period+1 points yields 50.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return domain.NeutralRSI
	}

	window := prices[len(prices)-period-1:]
	var gain, loss float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	switch {
	case avgLoss == 0 && avgGain == 0:
		return domain.NeutralRSI
	case avgLoss == 0:
		return 100
	}

	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

// MACD returns SMA(fast) - SMA(slow) over the most recent points.
// Fewer than slow points yields 0.
func MACD(prices []float64, fast, slow int) float64 {
	if fast <= 0 || slow <= 0 || len(prices) < slow || len(prices) < fast {
		return 0
	}
	return SMA(prices, fast) - SMA(prices, slow)
}

// Bollinger returns SMA(period) ± k·σ using the population standard deviation.
// With fewer than period points the band falls back to ±5% of the last price;
// an empty series yields zeros.
func Bollinger(prices []float64, period int, k float64) (upper, lower float64) {
	if len(prices) == 0 {
		return 0, 0
	}
	if period <= 0 || len(prices) < period {
		last := prices[len(prices)-1]
		return last * (1 + fallbackBand), last * (1 - fallbackBand)
	}

	window := prices[len(prices)-period:]
	mean := SMA(window, period)
	var sq float64
	for _, p := range window {
		sq += (p - mean) * (p - mean)
	}
	sd := math.Sqrt(sq / float64(period))
	return mean + k*sd, mean - k*sd
}

// SMA is the simple moving average of the last n prices.
func SMA(prices []float64, n int) float64 {
	if n <= 0 || len(prices) < n {
		return 0
	}
	var sum float64
	for _, p := range prices[len(prices)-n:] {
		sum += p
	}
	return sum / float64(n)
}

func finite(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for _, p := range prices {
		if !math.IsNaN(p) && !math.IsInf(p, 0) {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
