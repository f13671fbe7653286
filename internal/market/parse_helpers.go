package market

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// findPredictedFunding walks the predictedFundings payload, which the venue
// serves either as a map keyed by coin or as a list of [coin, providers]
// entries, and returns the first usable rate for the coin.
func findPredictedFunding(payload any, coin string) (decimal.Decimal, int64, bool) {
	switch data := payload.(type) {
	case map[string]any:
		if nested, ok := data["predictedFundings"]; ok {
			return findPredictedFunding(nested, coin)
		}
		if nested, ok := data["data"]; ok {
			return findPredictedFunding(nested, coin)
		}
		for key, val := range data {
			if !strings.EqualFold(key, coin) {
				continue
			}
			return fundingFromProviders(val)
		}
	case []any:
		for _, item := range data {
			entry, ok := toSlice(item)
			if !ok || len(entry) < 2 {
				continue
			}
			name, _ := entry[0].(string)
			if !strings.EqualFold(strings.TrimSpace(name), coin) {
				continue
			}
			return fundingFromProviders(entry[1])
		}
	}
	return decimal.Decimal{}, 0, false
}

// fundingFromProviders picks a rate out of a provider list of
// [name, {fundingRate, fundingIntervalHours}] pairs, or a bare rate map.
func fundingFromProviders(payload any) (decimal.Decimal, int64, bool) {
	if providers, ok := toSlice(payload); ok {
		for _, item := range providers {
			pair, ok := toSlice(item)
			if !ok || len(pair) < 2 {
				continue
			}
			if rate, interval, ok := fundingFromMapAny(pair[1]); ok {
				return rate, interval, true
			}
		}
		return decimal.Decimal{}, 0, false
	}
	return fundingFromMapAny(payload)
}

func fundingFromMapAny(payload any) (decimal.Decimal, int64, bool) {
	entry, ok := toMap(payload)
	if !ok {
		return decimal.Decimal{}, 0, false
	}
	rate, ok := decimalFromMap(entry, "fundingRate", "funding", "rate")
	if !ok {
		return decimal.Decimal{}, 0, false
	}
	interval := int64(0)
	if v, ok := int64FromAny(entry["fundingIntervalHours"]); ok {
		interval = v
	}
	return rate, interval, true
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func decimalFromMap(m map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if d, ok := decimalFromAny(v); ok {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	default:
		return decimal.Decimal{}, false
	}
}

func int64FromAny(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case json.Number:
		i, err := val.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
