package pricing

import (
	"math"
	"time"
)

// StockParams tunes the stock model. Volatilities are daily; per-tick
// quantities are scaled by √TickFraction.
type StockParams struct {
	TickFraction float64

	ReversionRate  float64 // share of the fair-value gap closed per tick
	MomentumWeight float64
	MomentumDecay  float64
	LiquidityRef   float64
	MaxMove        float64 // |log return| cap per tick

	MinPrice int64
	MaxPrice int64

	VolatilityRelax  float64
	ClusterThreshold float64 // in multiples of the expected move
	ClusterBoost     float64
	MinVolatility    float64
	MaxVolatility    float64

	FairValueNoise float64 // daily volatility of the fair value itself
}

// DefaultStockParams returns the stock model defaults for a tick period.
func DefaultStockParams(every time.Duration) StockParams {
	return StockParams{
		TickFraction:     TickFraction(every),
		ReversionRate:    0.02,
		MomentumWeight:   0.10,
		MomentumDecay:    0.90,
		LiquidityRef:     1_000_000,
		MaxMove:          0.25,
		MinPrice:         1,
		MaxPrice:         100_000_000_000,
		VolatilityRelax:  0.05,
		ClusterThreshold: 2.5,
		ClusterBoost:     1.5,
		MinVolatility:    0.01,
		MaxVolatility:    1.0,
		FairValueNoise:   0.02,
	}
}

// StockState is the model input for one stock.
type StockState struct {
	Price             int64
	FairValue         int64
	Momentum          float64
	Volatility        float64
	BaseVolatility    float64
	Liquidity         float64
	OutstandingShares int64
}

// StockStep is the model output for one stock.
type StockStep struct {
	Price      int64
	FairValue  int64
	Momentum   float64
	Volatility float64
	Return     float64 // realised log return
	Clustered  bool    // the move triggered a volatility boost
}

// StockModel advances stock prices.
type StockModel struct {
	Params StockParams
}

// NewStockModel creates a model with the given parameters.
func NewStockModel(p StockParams) *StockModel {
	return &StockModel{Params: p}
}

// Step computes the next state of one stock. It draws two normals from
// rng: the price shock, then the fair-value drift.
func (m *StockModel) Step(s StockState, rng Rand) StockStep {
	p := m.Params
	hi := Ceiling(s.OutstandingShares, p.MaxPrice)
	price := positive(s.Price, p.MinPrice)

	vol := s.Volatility
	if vol <= 0 {
		vol = s.BaseVolatility
	}
	base := s.BaseVolatility
	if base <= 0 {
		base = vol
	}

	sqrtDt := math.Sqrt(p.TickFraction)
	expected := vol * sqrtDt * liquidityFactor(s.Liquidity, p.LiquidityRef)

	var reversion float64
	if s.FairValue > 0 {
		reversion = p.ReversionRate * float64(s.FairValue-price) / float64(price)
	}
	ret := reversion + p.MomentumWeight*s.Momentum + expected*rng.NormFloat64()
	ret = clamp(ret, -p.MaxMove, p.MaxMove)

	next := applyReturn(price, ret, p.MinPrice, hi)
	realised := math.Log(float64(next) / float64(price))

	momentum := p.MomentumDecay*s.Momentum + (1-p.MomentumDecay)*realised
	volatility, clustered := volatilityStep(vol, base, realised, expected,
		p.VolatilityRelax, p.ClusterThreshold, p.ClusterBoost, p.MinVolatility, p.MaxVolatility)

	// A stock without a fair value stays unanchored; the draw is still
	// taken so the sequence per stock does not depend on it.
	drift := p.FairValueNoise * sqrtDt * rng.NormFloat64()
	var fair int64
	if s.FairValue > 0 {
		fair = applyReturn(s.FairValue, drift, p.MinPrice, hi)
	}

	return StockStep{
		Price:      next,
		FairValue:  fair,
		Momentum:   momentum,
		Volatility: volatility,
		Return:     realised,
		Clustered:  clustered,
	}
}
