package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/strategy"
)

func TestWriterAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer writer.Close()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	price := decimal.NewFromInt(2000)
	bar := strategy.BarLog{Timestamp: ts, PriceA: &price, State: state.Flat}
	if err := writer.WriteBar(bar); err != nil {
		t.Fatalf("WriteBar: %v", err)
	}
	trade := strategy.TradeLog{
		Timestamp: ts,
		Event:     strategy.TradeEntry,
		Direction: state.LongAShortB,
		QtyA:      decimal.NewFromInt(1),
	}
	if err := writer.WriteTrade(trade); err != nil {
		t.Fatalf("WriteTrade: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "bars.jsonl"))
	if err != nil {
		t.Fatalf("open bars: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("expected one bar line")
	}
	var decoded strategy.BarLog
	if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
		t.Fatalf("bar line is not valid JSON: %v", err)
	}
	if decoded.State != state.Flat {
		t.Fatalf("decoded state = %s", decoded.State)
	}
	if scanner.Scan() {
		t.Fatal("expected exactly one bar line")
	}

	trades, err := os.ReadFile(filepath.Join(dir, "trades.jsonl"))
	if err != nil {
		t.Fatalf("read trades: %v", err)
	}
	if !strings.Contains(string(trades), `"event":"ENTRY"`) {
		t.Fatalf("trade line missing event: %s", trades)
	}
}

func TestFileLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.jsonl")
	logger, err := newFileLogger(path, 64)
	if err != nil {
		t.Fatalf("newFileLogger: %v", err)
	}
	defer logger.close()

	long := strings.Repeat("x", 40)
	for i := 0; i < 3; i++ {
		if err := logger.writeLine(long); err != nil {
			t.Fatalf("writeLine %d: %v", i, err)
		}
	}
	if _, err := os.Stat(rotatedPath(path, 1)); err != nil {
		t.Fatalf("expected rotated file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current: %v", err)
	}
	if info.Size() > 64 {
		t.Fatalf("current file exceeds limit: %d", info.Size())
	}
}
