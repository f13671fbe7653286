package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func ExportMetricsJSON(path string, metrics Metrics) error {
	payload, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

func ExportTradesCSV(path string, trades []Trade) error {
	var b strings.Builder
	b.WriteString("entry_time,exit_time,pnl,exit_reason\n")
	for _, trade := range trades {
		fmt.Fprintf(&b, "%s,%s,%s,%s\n",
			trade.EntryTime.Format(time.RFC3339),
			trade.ExitTime.Format(time.RFC3339),
			trade.PnL,
			trade.ExitReason)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func ExportEquityCSV(path string, curve []EquityPoint) error {
	var b strings.Builder
	b.WriteString("timestamp,equity\n")
	for _, point := range curve {
		fmt.Fprintf(&b, "%s,%s\n", point.Timestamp.Format(time.RFC3339), point.Equity)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// BreakdownRow is realized pnl aggregated by the calendar month of the
// exit time.
type BreakdownRow struct {
	Year  int             `json:"year"`
	Month time.Month      `json:"month"`
	PnL   decimal.Decimal `json:"pnl"`
}

// BreakdownMonthly groups trades by exit month in chronological order.
func BreakdownMonthly(trades []Trade) []BreakdownRow {
	type key struct {
		year  int
		month time.Month
	}
	grouped := make(map[key]decimal.Decimal)
	for _, trade := range trades {
		k := key{trade.ExitTime.UTC().Year(), trade.ExitTime.UTC().Month()}
		grouped[k] = grouped[k].Add(trade.PnL)
	}
	keys := make([]key, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})
	rows := make([]BreakdownRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, BreakdownRow{Year: k.year, Month: k.month, PnL: grouped[k]})
	}
	return rows
}
