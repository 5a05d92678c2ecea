package market

import (
	"github.com/markcheno/go-talib"

	"folio_pilot/internal/models"
)

const (
	smaPeriod = 20
	rsiPeriod = 14
)

// IndicatorContext is the per-ticker technical context attached to the
// advisory snapshot.
type IndicatorContext struct {
	Ticker    string  `json:"ticker"`
	LastClose float64 `json:"last_close"`
	SMA20     float64 `json:"sma_20"`
	RSI14     float64 `json:"rsi_14"`
}

// Indicators derives SMA-20 and RSI-14 from a daily bar series. Returns
// false when the series is too short to compute both.
func Indicators(ticker string, bars []models.Bar) (IndicatorContext, bool) {
	if len(bars) < smaPeriod+1 {
		return IndicatorContext{}, false
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
	}

	sma := talib.Sma(closes, smaPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)

	return IndicatorContext{
		Ticker:    ticker,
		LastClose: closes[len(closes)-1],
		SMA20:     sma[len(sma)-1],
		RSI14:     rsi[len(rsi)-1],
	}, true
}
