package pricing

import (
	"math"
	"time"
)

// CryptoParams tunes the crypto model.
type CryptoParams struct {
	TickFraction float64

	DriftReversion float64 // share of the drift removed per tick
	DriftNoise     float64
	MaxDrift       float64
	MomentumWeight float64
	MomentumDecay  float64
	LiquidityRef   float64
	MaxMove        float64

	MinPrice int64
	MaxPrice int64

	VolatilityRelax  float64
	ClusterThreshold float64
	ClusterBoost     float64
	MinVolatility    float64
	MaxVolatility    float64
}

// DefaultCryptoParams returns the crypto model defaults for a tick period.
func DefaultCryptoParams(every time.Duration) CryptoParams {
	return CryptoParams{
		TickFraction:     TickFraction(every),
		DriftReversion:   0.05,
		DriftNoise:       0.001,
		MaxDrift:         0.01,
		MomentumWeight:   0.15,
		MomentumDecay:    0.85,
		LiquidityRef:     1_000_000,
		MaxMove:          0.40,
		MinPrice:         1,
		MaxPrice:         100_000_000_000,
		VolatilityRelax:  0.03,
		ClusterThreshold: 2.5,
		ClusterBoost:     1.6,
		MinVolatility:    0.02,
		MaxVolatility:    2.0,
	}
}

// CryptoState is the model input for one cryptocurrency.
type CryptoState struct {
	Price             int64
	CirculatingSupply int64
	TrendDrift        float64
	Momentum          float64
	Volatility        float64
	BaseVolatility    float64
	Liquidity         float64
}

// CryptoStep is the model output for one cryptocurrency.
type CryptoStep struct {
	Price      int64
	MarketCap  int64
	TrendDrift float64
	Momentum   float64
	Volatility float64
	Return     float64
	Clustered  bool
}

// CryptoModel advances cryptocurrency prices.
type CryptoModel struct {
	Params CryptoParams
}

// NewCryptoModel creates a model with the given parameters.
func NewCryptoModel(p CryptoParams) *CryptoModel {
	return &CryptoModel{Params: p}
}

// Step computes the next state of one cryptocurrency. It draws the drift
// innovation first, then the price shock.
func (m *CryptoModel) Step(s CryptoState, rng Rand) CryptoStep {
	p := m.Params
	hi := Ceiling(s.CirculatingSupply, p.MaxPrice)
	price := positive(s.Price, p.MinPrice)

	vol := s.Volatility
	if vol <= 0 {
		vol = s.BaseVolatility
	}
	base := s.BaseVolatility
	if base <= 0 {
		base = vol
	}

	drift := s.TrendDrift*(1-p.DriftReversion) + p.DriftNoise*rng.NormFloat64()
	drift = clamp(drift, -p.MaxDrift, p.MaxDrift)

	expected := vol * math.Sqrt(p.TickFraction) * liquidityFactor(s.Liquidity, p.LiquidityRef)
	ret := drift + p.MomentumWeight*s.Momentum + expected*rng.NormFloat64()
	ret = clamp(ret, -p.MaxMove, p.MaxMove)

	next := applyReturn(price, ret, p.MinPrice, hi)
	realised := math.Log(float64(next) / float64(price))

	momentum := p.MomentumDecay*s.Momentum + (1-p.MomentumDecay)*realised
	volatility, clustered := volatilityStep(vol, base, realised, expected,
		p.VolatilityRelax, p.ClusterThreshold, p.ClusterBoost, p.MinVolatility, p.MaxVolatility)

	return CryptoStep{
		Price:      next,
		MarketCap:  MarketCap(next, s.CirculatingSupply),
		TrendDrift: drift,
		Momentum:   momentum,
		Volatility: volatility,
		Return:     realised,
		Clustered:  clustered,
	}
}
