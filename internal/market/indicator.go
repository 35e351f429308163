package market

import (
	"fmt"
	"math"
	"strings"

	talib "github.com/markcheno/go-talib"
)

// IndicatorSnapshot summarizes the primary series for the oracle prompt.
// 只取最后一根已收盘K线的数值，避免把半成品指标喂给模型。
type IndicatorSnapshot struct {
	Interval   string  `json:"interval"`
	RSI14      float64 `json:"rsi_14"`
	EMA20      float64 `json:"ema_20"`
	EMA50      float64 `json:"ema_50"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
}

const minIndicatorBars = 60

// Indicators computes the snapshot over a series. Returns an error when the
// series is too short for a stable read.
func Indicators(s Series) (IndicatorSnapshot, error) {
	cs := s.Candles
	if len(cs) < minIndicatorBars {
		return IndicatorSnapshot{}, fmt.Errorf("need at least %d candles for indicators, have %d", minIndicatorBars, len(cs))
	}
	cl := closes(cs)
	rsi := talib.Rsi(cl, 14)
	ema20 := talib.Ema(cl, 20)
	ema50 := talib.Ema(cl, 50)
	macd, signal, hist := talib.Macd(cl, 12, 26, 9)

	snap := IndicatorSnapshot{
		Interval:   strings.ToLower(s.Interval),
		RSI14:      lastFinite(rsi),
		EMA20:      lastFinite(ema20),
		EMA50:      lastFinite(ema50),
		MACD:       lastFinite(macd),
		MACDSignal: lastFinite(signal),
		MACDHist:   lastFinite(hist),
	}
	return snap, nil
}

func lastFinite(vals []float64) float64 {
	for i := len(vals) - 1; i >= 0; i-- {
		if !math.IsNaN(vals[i]) && !math.IsInf(vals[i], 0) {
			return vals[i]
		}
	}
	return 0
}
