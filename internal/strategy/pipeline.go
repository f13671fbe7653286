package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/indicators"
	"hl-pairs-bot/internal/signals"
	"hl-pairs-bot/internal/state"
)

// PipelineOutput carries everything the indicator and signal stages
// produced for one bar.
type PipelineOutput struct {
	R     decimal.Decimal
	Score indicators.ZScoreSnapshot
	Vol   indicators.VolatilitySnapshot
	Entry *signals.EntrySignal
	Exit  *signals.ExitSignal
}

// Pipeline runs the per-bar indicator chain and signal detectors in a
// fixed order: relative price, z-score, per-leg volatility, then entry
// and exit detection against the current machine status.
type Pipeline struct {
	zscore *indicators.ZScore
	vol    *indicators.Volatility
	entry  *signals.EntryDetector
	exit   *signals.ExitDetector
}

func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	zscore, err := indicators.NewZScore(cfg.Strategy.NZ, cfg.SigmaFloor, cfg.Data.BarsPerDay)
	if err != nil {
		return nil, err
	}
	vol, err := indicators.NewVolatility(cfg.Position.NVol)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		zscore: zscore,
		vol:    vol,
		entry:  signals.NewEntryDetector(cfg.Strategy),
		exit:   signals.NewExitDetector(cfg.Strategy, cfg.Risk),
	}, nil
}

func (p *Pipeline) Update(priceA, priceB decimal.Decimal, status state.Status, position *state.PositionSnapshot, now time.Time) (PipelineOutput, error) {
	r, err := indicators.RelativePrice(priceA, priceB)
	if err != nil {
		return PipelineOutput{}, err
	}
	score := p.zscore.Update(r)
	vol, err := p.vol.Update(priceA, priceB)
	if err != nil {
		return PipelineOutput{}, err
	}
	return PipelineOutput{
		R:     r,
		Score: score,
		Vol:   vol,
		Entry: p.entry.Update(score.Z, status),
		Exit:  p.exit.Evaluate(score.Z, status, position, now),
	}, nil
}
