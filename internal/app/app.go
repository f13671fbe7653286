// Package app wires the live runtime together: bar-close price fetch,
// funding rates, the strategy engine, persistence, and telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/alerts"
	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/hl/rest"
	"hl-pairs-bot/internal/journal"
	"hl-pairs-bot/internal/market"
	"hl-pairs-bot/internal/metrics"
	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/state/sqlite"
	"hl-pairs-bot/internal/strategy"
	"hl-pairs-bot/internal/timescale"

	"go.uber.org/zap"
)

// Collaborators are the runtime dependencies. All but Prices and Engine
// may be nil, in which case the corresponding feature is off.
type Collaborators struct {
	Store     *sqlite.Store
	Prices    *market.PairFetcher
	Funding   *funding.Fetcher
	Engine    *strategy.Engine
	Journal   *journal.Writer
	Timescale *timescale.Writer
	Alerts    alerts.Notifier
	Metrics   *metrics.Metrics
	PromHTTP  http.Handler
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	prices    *market.PairFetcher
	funding   *funding.Fetcher
	engine    *strategy.Engine
	journal   *journal.Writer
	timescale *timescale.Writer
	alerts    alerts.Notifier
	metrics   *metrics.Metrics
	promHTTP  http.Handler
}

// New builds the default collaborators: REST market data, sqlite
// persistence, and paper execution. Live order submission plugs in
// through NewWithCollaborators.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	restClient := rest.New(cfg.Rest.BaseURL, cfg.Rest.Timeout, log)
	prices := market.NewPairFetcher(market.NewRestPriceSource(restClient, cfg.Runtime.Interval), cfg)

	var fundingFetcher *funding.Fetcher
	if !cfg.Runtime.DisableFunding {
		var source funding.Source = market.NewRestFundingSource(restClient)
		if cfg.Runtime.Paper {
			source = funding.NewZeroSource(8)
		}
		fundingFetcher = funding.NewFetcher(source, cfg.Strategy.LegA, cfg.Strategy.LegB)
	}

	var balance market.BalanceSource
	switch {
	case cfg.Runtime.Paper && cfg.Backtest.InitialEquity != nil:
		balance = market.StaticBalance{Value: decimal.NewFromFloat(*cfg.Backtest.InitialEquity)}
	case cfg.Rest.User != "":
		balance = market.NewRestBalanceSource(restClient, cfg.Rest.User)
	}

	collab := Collaborators{
		Store:   store,
		Prices:  prices,
		Funding: fundingFetcher,
		Alerts:  alerts.NewTelegram(cfg.Telegram, cfg.Strategy.LegA+"/"+cfg.Strategy.LegB, log),
		Metrics: metrics.NewNoop(),
	}
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		collab.Metrics = prom.Metrics
		collab.PromHTTP = prom.Handler()
	}

	orders := exec.NewEngine(exec.PaperExecutor{}, exec.RetryFromConfig(cfg.Execution), log)
	orders.SetCounters(collab.Metrics.OrdersSubmitted, collab.Metrics.OrdersFailed)
	engine, err := strategy.NewEngine(cfg, state.NewMachine(cfg.Risk), orders, balance, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	collab.Engine = engine

	if cfg.Journal.Enabled {
		writer, err := journal.NewWriter(cfg.Journal.Dir)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		collab.Journal = writer
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	collab.Timescale = writer
	return NewWithCollaborators(cfg, log, collab), nil
}

func NewWithCollaborators(cfg *config.Config, log *zap.Logger, c Collaborators) *App {
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoop()
	}
	return &App{
		cfg:       cfg,
		log:       log,
		store:     c.Store,
		prices:    c.Prices,
		funding:   c.Funding,
		engine:    c.Engine,
		journal:   c.Journal,
		timescale: c.Timescale,
		alerts:    c.Alerts,
		metrics:   c.Metrics,
		promHTTP:  c.PromHTTP,
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.recover(ctx); err != nil {
		return err
	}
	if err := a.warmUp(ctx); err != nil {
		return err
	}
	if a.timescale != nil {
		a.timescale.Start(ctx)
	}
	a.serveMetrics(ctx)

	if a.cfg.Runtime.Once {
		return a.tick(ctx, time.Now().UTC())
	}

	ticker := time.NewTicker(a.cfg.Runtime.Interval)
	defer ticker.Stop()
	a.log.Info("runtime loop started",
		zap.Duration("interval", a.cfg.Runtime.Interval),
		zap.String("leg_a", a.cfg.Strategy.LegA),
		zap.String("leg_b", a.cfg.Strategy.LegB),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := a.tick(ctx, now.UTC()); err != nil {
				a.metrics.TickFailures.Inc()
				a.notify(ctx, fmt.Sprintf("tick failed: %v", err))
				return err
			}
		}
	}
}

// recover rehydrates the lifecycle state persisted by a previous run so
// an open position survives a restart.
func (a *App) recover(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	persisted, ok, err := state.LoadStrategyState(ctx, a.store)
	if err != nil {
		return fmt.Errorf("load strategy state: %w", err)
	}
	if !ok {
		return nil
	}
	report := state.Recover(persisted, time.Now().UTC())
	if err := a.engine.Machine().Hydrate(report.State); err != nil {
		return fmt.Errorf("hydrate strategy state: %w", err)
	}
	a.log.Info("recovered strategy state", zap.String("status", string(report.State.Status)))
	for _, alert := range report.Alerts {
		a.notify(ctx, "recovery: "+alert)
	}
	if report.State.Status == state.InPosition && report.State.Position != nil {
		a.notify(ctx, fmt.Sprintf("recovered open %s position from %s",
			report.State.Position.Direction, report.State.Position.EntryTime.Format(time.RFC3339)))
	}
	return nil
}

// warmUp replays recently stored bars so the rolling windows are primed
// before the first live tick.
func (a *App) warmUp(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	window := a.cfg.Strategy.NZ
	if a.cfg.Position.NVol+1 > window {
		window = a.cfg.Position.NVol + 1
	}
	end := market.AlignBarClose(time.Now().UTC(), a.cfg.Runtime.Interval)
	start := end.Add(-time.Duration(window) * a.cfg.Runtime.Interval)
	records, err := a.store.LoadBarRange(ctx, start, end)
	if err != nil {
		return fmt.Errorf("load warmup bars: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := a.engine.WarmUp(records); err != nil {
		return fmt.Errorf("warm up: %w", err)
	}
	a.log.Info("warmed up from stored bars", zap.Int("bars", len(records)))
	return nil
}

func (a *App) tick(ctx context.Context, now time.Time) error {
	snap, err := a.prices.FetchPair(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch pair prices: %w", err)
	}

	bar := strategy.Bar{
		Timestamp: snap.Timestamp,
		PriceA:    snap.PriceA,
		PriceB:    snap.PriceB,
	}
	record := recordFromSnapshot(snap)
	if a.funding != nil {
		rates, err := a.funding.FetchPairRates(ctx, snap.Timestamp)
		if err != nil {
			// Funding is advisory for entries. A fetch failure must not
			// stall exits, so the bar proceeds without rates.
			a.log.Warn("funding fetch failed", zap.Error(err))
		} else {
			rateA := rates.A.Rate
			rateB := rates.B.Rate
			bar.FundingA = &rateA
			bar.FundingB = &rateB
			bar.FundingIntervalHours = rates.IntervalHours
			record.FundingA = &rateA
			record.FundingB = &rateB
			interval := int64(rates.IntervalHours)
			record.FundingIntervalHours = &interval
		}
	}

	outcome, err := a.engine.ProcessBar(ctx, bar)
	if err != nil {
		return fmt.Errorf("process bar %s: %w", snap.Timestamp.Format(time.RFC3339), err)
	}
	a.metrics.BarsProcessed.Inc()

	if a.store != nil {
		if err := a.store.SaveBar(ctx, record); err != nil {
			return fmt.Errorf("save bar: %w", err)
		}
		if err := state.SaveStrategyState(ctx, a.store, a.engine.Machine().State()); err != nil {
			return fmt.Errorf("save strategy state: %w", err)
		}
	}

	a.publish(ctx, outcome)
	return nil
}

// publish fans a processed bar out to the journal, timescale, metrics,
// and alerts. Failures here are logged but never fail the tick.
func (a *App) publish(ctx context.Context, outcome strategy.Outcome) {
	if a.journal != nil {
		if err := a.journal.WriteBar(outcome.Bar); err != nil {
			a.log.Warn("journal bar write failed", zap.Error(err))
		}
		for _, trade := range outcome.Trades {
			if err := a.journal.WriteTrade(trade); err != nil {
				a.log.Warn("journal trade write failed", zap.Error(err))
			}
		}
	}
	if a.timescale != nil {
		a.timescale.EnqueueBar(barRow(outcome.Bar))
		for _, trade := range outcome.Trades {
			a.timescale.EnqueueTrade(tradeRow(trade))
		}
	}
	if outcome.Bar.FundingSkip != nil && *outcome.Bar.FundingSkip {
		a.metrics.FundingSkips.Inc()
	}
	for _, trade := range outcome.Trades {
		switch trade.Event {
		case strategy.TradeEntry:
			a.metrics.EntriesOpened.Inc()
			a.notify(ctx, fmt.Sprintf("entered %s qty_a=%s qty_b=%s", trade.Direction, trade.QtyA, trade.QtyB))
		case strategy.TradeExit:
			a.metrics.ExitsClosed.Inc()
			a.notify(ctx, fmt.Sprintf("exited %s (%s) pnl=%s", trade.Direction, trade.Reason, trade.RealizedPnL))
		}
	}
	for _, event := range outcome.Events {
		if event.Kind == strategy.EventResidualRepair {
			a.metrics.ResidualRepairs.Inc()
			a.notify(ctx, "flattened one-sided residual position")
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	if a.promHTTP == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.promHTTP)
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("journal close failed", zap.Error(err))
		}
	}
	if a.timescale != nil {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", zap.Error(err))
		}
	}
}

// recordFromSnapshot maps the resolved pair prices back onto the stored
// bar columns for the configured price field.
func recordFromSnapshot(snap market.PairSnapshot) market.BarRecord {
	record := market.BarRecord{Timestamp: snap.Timestamp}
	priceA := snap.PriceA
	priceB := snap.PriceB
	switch snap.Field {
	case config.PriceMark:
		record.MarkA = &priceA
		record.MarkB = &priceB
	case config.PriceClose:
		record.CloseA = &priceA
		record.CloseB = &priceB
	default:
		record.MidA = &priceA
		record.MidB = &priceB
	}
	return record
}
