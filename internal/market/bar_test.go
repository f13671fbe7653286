package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

func dp(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestAlignBarClose(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 7, 31, 0, time.UTC)
	aligned := AlignBarClose(ts, 15*time.Minute)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !aligned.Equal(want) {
		t.Fatalf("aligned = %s, want %s", aligned, want)
	}
	if got := AlignBarClose(want, 15*time.Minute); !got.Equal(want) {
		t.Fatalf("already aligned timestamp moved to %s", got)
	}
}

func TestEffectivePriceFallback(t *testing.T) {
	bar := PriceBar{Instrument: "ETH-PERP", Mark: dp("2001"), Close: dp("2002")}
	if got := bar.EffectivePrice(config.PriceMid); got == nil || !got.Equal(decimal.RequireFromString("2001")) {
		t.Fatalf("mid preference should fall back to mark, got %v", got)
	}
	if got := bar.EffectivePrice(config.PriceClose); got == nil || !got.Equal(decimal.RequireFromString("2002")) {
		t.Fatalf("close preference should use close, got %v", got)
	}
	empty := PriceBar{Instrument: "ETH-PERP"}
	if got := empty.EffectivePrice(config.PriceMid); got != nil {
		t.Fatalf("expected nil for bar with no prices, got %v", got)
	}
}

func TestValidateRejectsNonPositivePrice(t *testing.T) {
	bar := PriceBar{Instrument: "BTC-PERP", Mid: dp("-1")}
	if err := bar.Validate(); err == nil {
		t.Fatal("expected validation error for negative mid")
	}
	if err := (PriceBar{Instrument: "BTC-PERP"}).Validate(); err != nil {
		t.Fatalf("bar with no prices should validate: %v", err)
	}
}

func TestBarRecordEffectivePrices(t *testing.T) {
	record := BarRecord{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MarkA:     dp("2000"),
		MidB:      dp("40000"),
	}
	if got := record.EffectiveA(config.PriceMid); got == nil || !got.Equal(decimal.RequireFromString("2000")) {
		t.Fatalf("leg A should fall back to mark, got %v", got)
	}
	if got := record.EffectiveB(config.PriceMark); got == nil || !got.Equal(decimal.RequireFromString("40000")) {
		t.Fatalf("leg B should fall back to mid, got %v", got)
	}
}
