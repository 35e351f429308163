// Package market fetches candle history for the oracle context and for
// one-candle price lookups (commission conversion). Backed by the go-binance
// futures SDK; trading traffic does not go through here.
package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

type Source struct {
	client *futures.Client
}

func NewSource(restBaseURL string, timeout time.Duration) *Source {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(restBaseURL); base != "" {
		client.BaseURL = base
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Source{client: client}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s klines: %w", symbol, interval, err)
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

// ClosePriceAt fetches the single candle covering ts for pair, used to value
// commissions paid in a non-quote asset. Returns 0 when no candle exists.
func (s *Source) ClosePriceAt(ctx context.Context, pair, interval string, ts int64) (float64, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		interval = "1m"
	}
	kls, err := s.client.NewKlinesService().
		Symbol(strings.ToUpper(pair)).
		Interval(interval).
		StartTime(ts).
		Limit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching %s candle at %d: %w", pair, ts, err)
	}
	if len(kls) == 0 || kls[0] == nil {
		return 0, nil
	}
	return parseFloat(kls[0].Close), nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
