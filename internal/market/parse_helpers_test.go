package market

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFindPredictedFundingListShape(t *testing.T) {
	payload := []any{
		[]any{"BTC", []any{
			[]any{"HlPerp", map[string]any{"fundingRate": "0.0000125", "fundingIntervalHours": float64(8)}},
		}},
		[]any{"ETH", []any{
			[]any{"HlPerp", map[string]any{"fundingRate": "0.0000371", "fundingIntervalHours": float64(8)}},
		}},
	}
	rate, interval, ok := findPredictedFunding(payload, "ETH")
	if !ok {
		t.Fatal("expected ETH funding to parse")
	}
	if !rate.Equal(decimal.RequireFromString("0.0000371")) {
		t.Fatalf("rate = %s", rate)
	}
	if interval != 8 {
		t.Fatalf("interval = %d", interval)
	}
}

func TestFindPredictedFundingMapShape(t *testing.T) {
	payload := map[string]any{
		"predictedFundings": map[string]any{
			"ETH": map[string]any{"fundingRate": "0.0001"},
		},
	}
	rate, interval, ok := findPredictedFunding(payload, "eth")
	if !ok {
		t.Fatal("expected case-insensitive coin match")
	}
	if !rate.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("rate = %s", rate)
	}
	if interval != 0 {
		t.Fatalf("interval = %d, want 0 when absent", interval)
	}
}

func TestFindPredictedFundingMissingCoin(t *testing.T) {
	if _, _, ok := findPredictedFunding([]any{}, "SOL"); ok {
		t.Fatal("expected no match on empty payload")
	}
}

func TestDecimalFromAnyShapes(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"2000.5", "2000.5", true},
		{float64(3), "3", true},
		{int64(7), "7", true},
		{" 1.25 ", "1.25", true},
		{true, "", false},
	}
	for _, tc := range cases {
		got, ok := decimalFromAny(tc.in)
		if ok != tc.ok {
			t.Fatalf("decimalFromAny(%v) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("decimalFromAny(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestCoinForInstrument(t *testing.T) {
	if got := coinForInstrument("ETH-PERP"); got != "ETH" {
		t.Fatalf("coin = %s", got)
	}
	if got := coinForInstrument("BTC"); got != "BTC" {
		t.Fatalf("coin = %s", got)
	}
}
