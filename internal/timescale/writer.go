// Package timescale mirrors per-bar telemetry and trade events into a
// TimescaleDB instance for dashboards. Writes are asynchronous and lossy
// under backpressure; the sqlite store remains the source of truth.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"hl-pairs-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// BarRow is one processed bar. Indicator columns are nil while the
// rolling windows are still warming up.
type BarRow struct {
	Time           time.Time
	PriceA         *float64
	PriceB         *float64
	R              *float64
	Mu             *float64
	Sigma          *float64
	SigmaEff       *float64
	Z              *float64
	VolA           *float64
	VolB           *float64
	FundingA       *float64
	FundingB       *float64
	FundingCostEst *float64
	FundingSkip    bool
	UnrealizedPnL  *float64
	State          string
	Direction      string
}

// TradeRow is one entry or exit event.
type TradeRow struct {
	Time          time.Time
	Event         string
	Direction     string
	Reason        string
	PriceA        float64
	PriceB        float64
	QtyA          float64
	QtyB          float64
	NotionalA     float64
	NotionalB     float64
	RealizedPnL   *float64
	CumulativePnL float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	bars      chan BarRow
	trades    chan TradeRow
	started   atomic.Bool
	dropBar   atomic.Uint64
	dropTrade atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		bars:   make(chan BarRow, queueSize),
		trades: make(chan TradeRow, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueBar(row BarRow) {
	if w == nil {
		return
	}
	select {
	case w.bars <- row:
		return
	default:
		if w.dropBar.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale bar queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(row TradeRow) {
	if w == nil {
		return
	}
	select {
	case w.trades <- row:
		return
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.bars:
			w.writeBar(ctx, row)
		case row := <-w.trades:
			w.writeTrade(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		price_a DOUBLE PRECISION,
		price_b DOUBLE PRECISION,
		r DOUBLE PRECISION,
		mu DOUBLE PRECISION,
		sigma DOUBLE PRECISION,
		sigma_eff DOUBLE PRECISION,
		zscore DOUBLE PRECISION,
		vol_a DOUBLE PRECISION,
		vol_b DOUBLE PRECISION,
		funding_a DOUBLE PRECISION,
		funding_b DOUBLE PRECISION,
		funding_cost_est DOUBLE PRECISION,
		funding_skip BOOLEAN NOT NULL DEFAULT FALSE,
		unrealized_pnl DOUBLE PRECISION,
		state TEXT NOT NULL,
		direction TEXT NOT NULL,
		PRIMARY KEY (ts)
	)`, w.table("pair_bars"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		event TEXT NOT NULL,
		direction TEXT NOT NULL,
		reason TEXT NOT NULL,
		price_a DOUBLE PRECISION NOT NULL,
		price_b DOUBLE PRECISION NOT NULL,
		qty_a DOUBLE PRECISION NOT NULL,
		qty_b DOUBLE PRECISION NOT NULL,
		notional_a DOUBLE PRECISION NOT NULL,
		notional_b DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION,
		cumulative_realized_pnl DOUBLE PRECISION NOT NULL
	)`, w.table("pair_trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("pair_bars"))); err != nil && w.log != nil {
		w.log.Warn("timescale pair_bars hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("pair_trades"))); err != nil && w.log != nil {
		w.log.Warn("timescale pair_trades hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeBar(ctx context.Context, row BarRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, price_a, price_b, r, mu, sigma, sigma_eff, zscore, vol_a, vol_b,
		funding_a, funding_b, funding_cost_est, funding_skip, unrealized_pnl, state, direction
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
	)
	ON CONFLICT (ts) DO UPDATE SET
		price_a = EXCLUDED.price_a,
		price_b = EXCLUDED.price_b,
		r = EXCLUDED.r,
		mu = EXCLUDED.mu,
		sigma = EXCLUDED.sigma,
		sigma_eff = EXCLUDED.sigma_eff,
		zscore = EXCLUDED.zscore,
		vol_a = EXCLUDED.vol_a,
		vol_b = EXCLUDED.vol_b,
		funding_a = EXCLUDED.funding_a,
		funding_b = EXCLUDED.funding_b,
		funding_cost_est = EXCLUDED.funding_cost_est,
		funding_skip = EXCLUDED.funding_skip,
		unrealized_pnl = EXCLUDED.unrealized_pnl,
		state = EXCLUDED.state,
		direction = EXCLUDED.direction`, w.table("pair_bars"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.PriceA,
		row.PriceB,
		row.R,
		row.Mu,
		row.Sigma,
		row.SigmaEff,
		row.Z,
		row.VolA,
		row.VolB,
		row.FundingA,
		row.FundingB,
		row.FundingCostEst,
		row.FundingSkip,
		row.UnrealizedPnL,
		row.State,
		row.Direction,
	); err != nil && w.log != nil {
		w.log.Warn("timescale bar upsert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, row TradeRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, event, direction, reason, price_a, price_b, qty_a, qty_b,
		notional_a, notional_b, realized_pnl, cumulative_realized_pnl
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	)`, w.table("pair_trades"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Event,
		row.Direction,
		row.Reason,
		row.PriceA,
		row.PriceB,
		row.QtyA,
		row.QtyB,
		row.NotionalA,
		row.NotionalB,
		row.RealizedPnL,
		row.CumulativePnL,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
