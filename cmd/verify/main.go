// Command verify checks venue connectivity without touching any state:
// it fetches the current pair bar, the predicted funding rates, and
// optionally the account equity, then prints what it got.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/hl/rest"
	"hl-pairs-bot/internal/logging"
	"hl-pairs-bot/internal/market"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	skipFunding := flag.Bool("skip-funding", false, "do not query predicted funding")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	client := rest.New(cfg.Rest.BaseURL, cfg.Rest.Timeout, log)
	fetcher := market.NewPairFetcher(market.NewRestPriceSource(client, cfg.Runtime.Interval), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := fetcher.FetchPair(ctx, time.Now().UTC())
	if err != nil {
		fatal(fmt.Errorf("pair fetch failed: %w", err))
	}
	fmt.Printf("bar %s: %s=%s %s=%s (%s)\n",
		snap.Timestamp.Format(time.RFC3339),
		cfg.Strategy.LegA, snap.PriceA,
		cfg.Strategy.LegB, snap.PriceB,
		snap.Field,
	)

	if !*skipFunding {
		rates, err := funding.NewFetcher(market.NewRestFundingSource(client), cfg.Strategy.LegA, cfg.Strategy.LegB).
			FetchPairRates(ctx, snap.Timestamp)
		if err != nil {
			fatal(fmt.Errorf("funding fetch failed: %w", err))
		}
		fmt.Printf("funding: %s=%s %s=%s interval=%dh\n",
			cfg.Strategy.LegA, rates.A.Rate,
			cfg.Strategy.LegB, rates.B.Rate,
			rates.IntervalHours,
		)
	}

	if cfg.Rest.User != "" {
		equity, err := market.NewRestBalanceSource(client, cfg.Rest.User).Equity(ctx)
		if err != nil {
			fatal(fmt.Errorf("equity fetch failed: %w", err))
		}
		fmt.Printf("equity: %s\n", equity)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
