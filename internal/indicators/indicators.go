// Package indicators holds the rolling statistics behind the pair signal:
// log relative price, windowed z-score with a sigma floor, and per-leg
// realized volatility.
package indicators

import (
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

var (
	ErrInvalidPrice  = errors.New("price must be > 0")
	ErrInvalidWindow = errors.New("window length must be > 0")
)

// lnDec and sqrtDec bridge through float64 for the transcendental parts;
// everything else stays in decimal.
func lnDec(v decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(math.Log(v.InexactFloat64()))
}

func sqrtDec(v decimal.Decimal) decimal.Decimal {
	f := v.InexactFloat64()
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}

// RelativePrice returns ln(a) - ln(b), the spread the whole strategy
// trades on.
func RelativePrice(a, b decimal.Decimal) (decimal.Decimal, error) {
	if a.Sign() <= 0 || b.Sign() <= 0 {
		return decimal.Zero, ErrInvalidPrice
	}
	return lnDec(a).Sub(lnDec(b)), nil
}

// LogReturn returns ln(current/previous).
func LogReturn(current, previous decimal.Decimal) (decimal.Decimal, error) {
	if current.Sign() <= 0 || previous.Sign() <= 0 {
		return decimal.Zero, ErrInvalidPrice
	}
	return lnDec(current.Div(previous)), nil
}

type rollingWindow struct {
	capacity int
	values   []decimal.Decimal
}

func newRollingWindow(capacity int) (*rollingWindow, error) {
	if capacity <= 0 {
		return nil, ErrInvalidWindow
	}
	return &rollingWindow{capacity: capacity, values: make([]decimal.Decimal, 0, capacity)}, nil
}

func (w *rollingWindow) push(v decimal.Decimal) {
	if len(w.values) == w.capacity {
		copy(w.values, w.values[1:])
		w.values[len(w.values)-1] = v
		return
	}
	w.values = append(w.values, v)
}

func (w *rollingWindow) len() int { return len(w.values) }

func (w *rollingWindow) mean() decimal.Decimal {
	if len(w.values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range w.values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(w.values))))
}

// std is the population standard deviation of the window.
func (w *rollingWindow) std() decimal.Decimal {
	if len(w.values) == 0 {
		return decimal.Zero
	}
	mean := w.mean()
	sum := decimal.Zero
	for _, v := range w.values {
		diff := v.Sub(mean)
		sum = sum.Add(diff.Mul(diff))
	}
	variance := sum.Div(decimal.NewFromInt(int64(len(w.values))))
	return sqrtDec(variance)
}

// quantile picks the value at index floor((len-1)*p) of the sorted window.
func (w *rollingWindow) quantile(p decimal.Decimal) decimal.Decimal {
	if len(w.values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(w.values))
	copy(sorted, w.values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	maxIndex := decimal.NewFromInt(int64(len(sorted) - 1))
	idx := int(maxIndex.Mul(p).Floor().IntPart())
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// ewmaStd is the exponentially weighted standard deviation with the
// decay implied by the half-life. Needs at least two observations.
func ewmaStd(values []decimal.Decimal, halfLife int) (decimal.Decimal, bool) {
	if len(values) < 2 || halfLife <= 0 {
		return decimal.Zero, false
	}
	decay := decimal.NewFromFloat(math.Pow(0.5, 1/float64(halfLife)))
	alpha := decimal.NewFromInt(1).Sub(decay)
	oneMinusAlpha := decimal.NewFromInt(1).Sub(alpha)
	mean := values[0]
	variance := decimal.Zero
	for _, v := range values[1:] {
		delta := v.Sub(mean)
		mean = mean.Add(alpha.Mul(delta))
		diff := v.Sub(mean)
		variance = alpha.Mul(diff.Mul(diff)).Add(oneMinusAlpha.Mul(variance))
	}
	return sqrtDec(variance), true
}

// SigmaFloor derives the lower bound on sigma used in the z-score
// denominator. In quantile and ewma_mix modes the floor is unavailable
// until a full quantile window of sigma observations has accumulated.
type SigmaFloor struct {
	mode           config.SigmaFloorMode
	floorConst     decimal.Decimal
	quantileWindow int
	quantileP      decimal.Decimal
	ewmaHalfLife   int
	history        *rollingWindow
}

func NewSigmaFloor(cfg config.SigmaFloorConfig, barsPerDay int) (*SigmaFloor, error) {
	if cfg.Const <= 0 {
		return nil, errors.New("sigma floor const must be > 0")
	}
	if cfg.QuantileP <= 0 || cfg.QuantileP > 1 {
		return nil, errors.New("sigma floor quantile_p must be in (0, 1]")
	}
	if cfg.EwmaHalfLife <= 0 {
		return nil, errors.New("sigma floor ewma_half_life must be > 0")
	}
	window := cfg.WindowDays * barsPerDay
	capacity := window
	if capacity < 1 {
		capacity = 1
	}
	history, err := newRollingWindow(capacity)
	if err != nil {
		return nil, err
	}
	return &SigmaFloor{
		mode:           cfg.Mode,
		floorConst:     decimal.NewFromFloat(cfg.Const),
		quantileWindow: window,
		quantileP:      decimal.NewFromFloat(cfg.QuantileP),
		ewmaHalfLife:   cfg.EwmaHalfLife,
		history:        history,
	}, nil
}

// Update records sigma and returns the current floor, or nil while the
// history is still warming up.
func (s *SigmaFloor) Update(sigma decimal.Decimal, rValues []decimal.Decimal) *decimal.Decimal {
	s.history.push(sigma)
	switch s.mode {
	case config.SigmaFloorConst:
		v := s.floorConst
		return &v
	case config.SigmaFloorQuantile:
		if s.history.len() < s.quantileWindow {
			return nil
		}
		v := s.history.quantile(s.quantileP)
		return &v
	case config.SigmaFloorEwmaMix:
		if s.history.len() < s.quantileWindow {
			return nil
		}
		quantile := s.history.quantile(s.quantileP)
		ewma, ok := ewmaStd(rValues, s.ewmaHalfLife)
		if !ok {
			return nil
		}
		v := quantile
		if ewma.GreaterThan(quantile) {
			v = ewma
		}
		return &v
	default:
		return nil
	}
}

// ZScoreSnapshot is the per-bar output of the z-score calculator. Nil
// fields mean the corresponding window has not filled yet.
type ZScoreSnapshot struct {
	R          decimal.Decimal
	Mean       *decimal.Decimal
	Sigma      *decimal.Decimal
	SigmaFloor *decimal.Decimal
	SigmaEff   *decimal.Decimal
	Z          *decimal.Decimal
}

type ZScore struct {
	nZ     int
	window *rollingWindow
	floor  *SigmaFloor
}

func NewZScore(nZ int, floorCfg config.SigmaFloorConfig, barsPerDay int) (*ZScore, error) {
	if nZ <= 0 {
		return nil, errors.New("n_z must be > 0")
	}
	window, err := newRollingWindow(nZ)
	if err != nil {
		return nil, err
	}
	floor, err := NewSigmaFloor(floorCfg, barsPerDay)
	if err != nil {
		return nil, err
	}
	return &ZScore{nZ: nZ, window: window, floor: floor}, nil
}

// Update pushes the latest relative price and recomputes the snapshot.
// sigma_eff = max(sigma, floor); z is zero when sigma_eff is zero.
func (z *ZScore) Update(r decimal.Decimal) ZScoreSnapshot {
	z.window.push(r)
	if z.window.len() < z.nZ {
		return ZScoreSnapshot{R: r}
	}
	mean := z.window.mean()
	sigma := z.window.std()
	floor := z.floor.Update(sigma, z.window.values)
	snap := ZScoreSnapshot{R: r, Mean: &mean, Sigma: &sigma, SigmaFloor: floor}
	if floor == nil {
		return snap
	}
	sigmaEff := sigma
	if floor.GreaterThan(sigma) {
		sigmaEff = *floor
	}
	snap.SigmaEff = &sigmaEff
	score := decimal.Zero
	if !sigmaEff.IsZero() {
		score = r.Sub(mean).Div(sigmaEff)
	}
	snap.Z = &score
	return snap
}

// VolatilitySnapshot carries per-leg realized volatility, nil until each
// leg has a full window of log returns.
type VolatilitySnapshot struct {
	VolA *decimal.Decimal
	VolB *decimal.Decimal
}

// Volatility tracks rolling realized volatility of both legs from
// consecutive bar prices.
type Volatility struct {
	nVol     int
	aReturns *rollingWindow
	bReturns *rollingWindow
	lastA    *decimal.Decimal
	lastB    *decimal.Decimal
}

func NewVolatility(nVol int) (*Volatility, error) {
	if nVol <= 0 {
		return nil, errors.New("n_vol must be > 0")
	}
	aReturns, err := newRollingWindow(nVol)
	if err != nil {
		return nil, err
	}
	bReturns, err := newRollingWindow(nVol)
	if err != nil {
		return nil, err
	}
	return &Volatility{nVol: nVol, aReturns: aReturns, bReturns: bReturns}, nil
}

func (v *Volatility) Update(priceA, priceB decimal.Decimal) (VolatilitySnapshot, error) {
	if priceA.Sign() <= 0 || priceB.Sign() <= 0 {
		return VolatilitySnapshot{}, ErrInvalidPrice
	}
	if v.lastA != nil {
		ret, err := LogReturn(priceA, *v.lastA)
		if err != nil {
			return VolatilitySnapshot{}, err
		}
		v.aReturns.push(ret)
	}
	if v.lastB != nil {
		ret, err := LogReturn(priceB, *v.lastB)
		if err != nil {
			return VolatilitySnapshot{}, err
		}
		v.bReturns.push(ret)
	}
	a, b := priceA, priceB
	v.lastA, v.lastB = &a, &b

	var snap VolatilitySnapshot
	if v.aReturns.len() >= v.nVol {
		vol := v.aReturns.std()
		snap.VolA = &vol
	}
	if v.bReturns.len() >= v.nVol {
		vol := v.bReturns.std()
		snap.VolB = &vol
	}
	return snap, nil
}
