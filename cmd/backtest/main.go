package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hl-pairs-bot/internal/backtest"
	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/hl/rest"
	"hl-pairs-bot/internal/logging"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/state/sqlite"
	"hl-pairs-bot/internal/strategy"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	startArg := flag.String("start", "", "start of the window (RFC3339)")
	endArg := flag.String("end", "", "end of the window (RFC3339, default now)")
	outDir := flag.String("out", "data/backtest", "output directory for result files")
	entryZList := flag.String("sensitivity-entry-z", "", "comma-separated entry_z values for a sensitivity sweep")
	monthly := flag.Bool("monthly", false, "write a monthly pnl breakdown")
	verify := flag.Bool("verify", false, "run twice and check the results are identical")
	backfill := flag.Bool("backfill", false, "download candle history into the bar store instead of running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	start, end, err := parseWindow(*startArg, *endArg)
	if err != nil {
		fatal(err)
	}

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	if *backfill {
		client := rest.New(cfg.Rest.BaseURL, cfg.Rest.Timeout, log)
		source := market.NewRestPriceSource(client, cfg.Runtime.Interval)
		written, err := backtest.Backfill(ctx, store, source, cfg.Strategy.LegA, cfg.Strategy.LegB, start, end)
		if err != nil {
			fatal(err)
		}
		log.Info("backfill complete",
			zap.Int("bars", written),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		fmt.Printf("backfilled %d bars\n", written)
		return
	}

	bars, err := backtest.LoadBars(ctx, store, cfg, start, end)
	if err != nil {
		fatal(err)
	}
	log.Info("loaded bars",
		zap.Int("count", len(bars)),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	if *verify {
		if err := backtest.VerifyReproducibility(cfg, bars, log); err != nil {
			fatal(err)
		}
		fmt.Println("reproducibility check passed")
		return
	}

	if *entryZList != "" {
		runSensitivity(cfg, bars, *entryZList, *outDir, log)
		return
	}

	result, err := backtest.NewEngine(cfg, log).Run(bars)
	if err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatal(err)
	}
	if err := backtest.ExportMetricsJSON(filepath.Join(*outDir, "metrics.json"), result.Metrics); err != nil {
		fatal(err)
	}
	if err := backtest.ExportTradesCSV(filepath.Join(*outDir, "trades.csv"), result.Trades); err != nil {
		fatal(err)
	}
	if err := backtest.ExportEquityCSV(filepath.Join(*outDir, "equity.csv"), result.EquityCurve); err != nil {
		fatal(err)
	}
	if *monthly {
		rows := backtest.BreakdownMonthly(result.Trades)
		payload, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(filepath.Join(*outDir, "monthly.json"), payload, 0o644); err != nil {
			fatal(err)
		}
	}
	fmt.Printf("trades=%d win_rate=%s sharpe=%s max_drawdown=%s\n",
		result.Metrics.TradeCount,
		result.Metrics.WinRate,
		result.Metrics.SharpeRatio,
		result.Metrics.MaxDrawdown,
	)
}

func runSensitivity(cfg *config.Config, bars []strategy.Bar, list, outDir string, log *zap.Logger) {
	values, err := parseFloats(list)
	if err != nil {
		fatal(err)
	}
	cfgs := make([]*config.Config, 0, len(values))
	for _, value := range values {
		clone := *cfg
		clone.Strategy.EntryZ = value
		cfgs = append(cfgs, &clone)
	}
	results, err := backtest.RunSensitivity(cfgs, bars, log)
	if err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fatal(err)
	}
	for i, result := range results {
		name := fmt.Sprintf("metrics_entry_z_%g.json", values[i])
		if err := backtest.ExportMetricsJSON(filepath.Join(outDir, name), result.Metrics); err != nil {
			fatal(err)
		}
		fmt.Printf("entry_z=%g trades=%d win_rate=%s sharpe=%s\n",
			values[i],
			result.Metrics.TradeCount,
			result.Metrics.WinRate,
			result.Metrics.SharpeRatio,
		)
	}
}

func parseWindow(startArg, endArg string) (time.Time, time.Time, error) {
	if startArg == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-start is required")
	}
	start, err := time.Parse(time.RFC3339, startArg)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
	}
	end := time.Now().UTC()
	if endArg != "" {
		end, err = time.Parse(time.RFC3339, endArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
	}
	return start, end, nil
}

func parseFloats(list string) ([]float64, error) {
	parts := strings.Split(list, ",")
	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitivity value %q: %w", part, err)
		}
		values = append(values, value)
	}
	return values, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
