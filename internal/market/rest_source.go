package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/hl/rest"
)

// RestPriceSource serves closed bars from the venue's candle snapshot
// endpoint. Candles carry close prices only; mid and mark are left unset
// and the price field fallback resolves to close.
type RestPriceSource struct {
	client   *rest.Client
	interval string
	step     time.Duration
}

func NewRestPriceSource(client *rest.Client, barInterval time.Duration) *RestPriceSource {
	if barInterval <= 0 {
		barInterval = 15 * time.Minute
	}
	return &RestPriceSource{client: client, interval: intervalLabel(barInterval), step: barInterval}
}

func (s *RestPriceSource) FetchBar(ctx context.Context, instrument string, barClose time.Time) (PriceBar, error) {
	coin := coinForInstrument(instrument)
	startMs := barClose.UTC().UnixMilli()
	payload, err := s.client.InfoAny(ctx, map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  s.interval,
			"startTime": startMs,
			"endTime":   startMs,
		},
	})
	if err != nil {
		return PriceBar{}, err
	}
	candles, ok := toSlice(payload)
	if !ok {
		return PriceBar{}, fmt.Errorf("%w: candle snapshot for %s is not a list", ErrInconsistentPair, coin)
	}
	for _, item := range candles {
		candle, ok := toMap(item)
		if !ok {
			continue
		}
		openMs, ok := int64FromAny(candle["t"])
		if !ok || openMs != startMs {
			continue
		}
		closePrice, ok := decimalFromAny(candle["c"])
		if !ok {
			continue
		}
		return PriceBar{
			Instrument: instrument,
			Timestamp:  barClose.UTC(),
			Close:      &closePrice,
		}, nil
	}
	return PriceBar{}, fmt.Errorf("%w: %s at %s", ErrMissingPrice, instrument, barClose.UTC().Format(time.RFC3339))
}

// historyPageBars bounds one candleSnapshot request. The venue caps
// snapshot responses, so long ranges are walked in pages.
const historyPageBars = 500

func (s *RestPriceSource) FetchHistory(ctx context.Context, instrument string, start, end time.Time) ([]PriceBar, error) {
	start = start.UTC()
	end = end.UTC()
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidTimeRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	coin := coinForInstrument(instrument)
	var bars []PriceBar
	cursor := start
	for !cursor.After(end) {
		pageEnd := cursor.Add(time.Duration(historyPageBars-1) * s.step)
		if pageEnd.After(end) {
			pageEnd = end
		}
		payload, err := s.client.InfoAny(ctx, map[string]any{
			"type": "candleSnapshot",
			"req": map[string]any{
				"coin":      coin,
				"interval":  s.interval,
				"startTime": cursor.UnixMilli(),
				"endTime":   pageEnd.UnixMilli(),
			},
		})
		if err != nil {
			return nil, err
		}
		candles, ok := toSlice(payload)
		if !ok {
			return nil, fmt.Errorf("%w: candle snapshot for %s is not a list", ErrInconsistentPair, coin)
		}
		added := 0
		for _, item := range candles {
			candle, ok := toMap(item)
			if !ok {
				continue
			}
			openMs, ok := int64FromAny(candle["t"])
			if !ok {
				continue
			}
			ts := time.UnixMilli(openMs).UTC()
			if ts.Before(cursor) || ts.After(end) {
				continue
			}
			closePrice, ok := decimalFromAny(candle["c"])
			if !ok {
				continue
			}
			bars = append(bars, PriceBar{Instrument: instrument, Timestamp: ts, Close: &closePrice})
			added++
		}
		if added == 0 {
			// Venue history may start after the requested window; skip
			// the empty page instead of re-requesting it.
			cursor = pageEnd.Add(s.step)
			continue
		}
		cursor = bars[len(bars)-1].Timestamp.Add(s.step)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// RestFundingSource serves predicted funding rates from the venue.
type RestFundingSource struct {
	client *rest.Client
}

func NewRestFundingSource(client *rest.Client) *RestFundingSource {
	return &RestFundingSource{client: client}
}

func (s *RestFundingSource) FetchRate(ctx context.Context, instrument string, ts time.Time) (funding.Rate, error) {
	payload, err := s.client.InfoAny(ctx, rest.InfoRequest{Type: "predictedFundings"})
	if err != nil {
		return funding.Rate{}, err
	}
	coin := coinForInstrument(instrument)
	rate, interval, ok := findPredictedFunding(payload, coin)
	if !ok {
		return funding.Rate{}, fmt.Errorf("%w: predicted funding for %s", ErrMissingPrice, instrument)
	}
	if interval <= 0 {
		interval = 8
	}
	return funding.Rate{
		Instrument:    instrument,
		Rate:          rate,
		Timestamp:     ts.UTC(),
		IntervalHours: int(interval),
	}, nil
}

// RestBalanceSource reads perp account equity from the clearinghouse state.
type RestBalanceSource struct {
	client *rest.Client
	user   string
}

func NewRestBalanceSource(client *rest.Client, user string) *RestBalanceSource {
	return &RestBalanceSource{client: client, user: user}
}

func (s *RestBalanceSource) Equity(ctx context.Context) (decimal.Decimal, error) {
	payload, err := s.client.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: s.user})
	if err != nil {
		return decimal.Decimal{}, err
	}
	summary, ok := toMap(payload["marginSummary"])
	if !ok {
		return decimal.Decimal{}, errors.New("market: clearinghouse state missing margin summary")
	}
	equity, ok := decimalFromMap(summary, "accountValue", "equity")
	if !ok {
		return decimal.Decimal{}, errors.New("market: margin summary missing account value")
	}
	return equity, nil
}

// coinForInstrument maps an instrument name like ETH-PERP to the venue's
// coin identifier.
func coinForInstrument(instrument string) string {
	return strings.TrimSuffix(strings.TrimSuffix(instrument, "-PERP"), "-perp")
}

func intervalLabel(interval time.Duration) string {
	switch {
	case interval >= time.Hour && interval%time.Hour == 0:
		return fmt.Sprintf("%dh", int(interval/time.Hour))
	case interval >= time.Minute:
		return fmt.Sprintf("%dm", int(interval/time.Minute))
	default:
		return "15m"
	}
}
