package pricing

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/marketsim/tick-engine/internal/model"
)

// seqRand returns the queued normals in order, then zeros.
type seqRand struct {
	norms []float64
	i     int
}

func (r *seqRand) NormFloat64() float64 {
	if r.i >= len(r.norms) {
		return 0
	}
	v := r.norms[r.i]
	r.i++
	return v
}

func (r *seqRand) Float64() float64 { return 0.5 }

func shocks(v ...float64) *seqRand { return &seqRand{norms: v} }

var tick = 5 * time.Minute

func baseStock() StockState {
	return StockState{
		Price:             10_000,
		FairValue:         10_000,
		Volatility:        0.1,
		BaseVolatility:    0.1,
		Liquidity:         1_000_000,
		OutstandingShares: 1_000_000,
	}
}

// --- Stock model ---

func TestStockStep_RevertsTowardFairValue(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))

	below := baseStock()
	below.FairValue = 20_000
	if got := m.Step(below, shocks()); got.Price <= below.Price {
		t.Errorf("price below fair value should rise: %d -> %d", below.Price, got.Price)
	}

	above := baseStock()
	above.Price = 20_000
	if got := m.Step(above, shocks()); got.Price >= above.Price {
		t.Errorf("price above fair value should fall: %d -> %d", above.Price, got.Price)
	}
}

func TestStockStep_MomentumPersists(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))
	s := baseStock()
	s.Momentum = 0.05

	got := m.Step(s, shocks())
	if got.Price <= s.Price {
		t.Errorf("positive momentum should carry price up: %d -> %d", s.Price, got.Price)
	}
	if got.Momentum <= 0 || got.Momentum >= s.Momentum {
		t.Errorf("momentum should decay but stay positive, got %f", got.Momentum)
	}
}

func TestStockStep_VolatilityClusters(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))

	calm := m.Step(baseStock(), shocks(0.1))
	if calm.Clustered {
		t.Errorf("small move should not cluster")
	}

	wild := m.Step(baseStock(), shocks(5))
	if !wild.Clustered {
		t.Fatalf("5-sigma move should trigger clustering")
	}
	if wild.Volatility <= calm.Volatility {
		t.Errorf("volatility should rise after a large move: calm=%f wild=%f", calm.Volatility, wild.Volatility)
	}
}

func TestStockStep_VolatilityRelaxesToBase(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))
	s := baseStock()
	s.Volatility = 0.5

	got := m.Step(s, shocks())
	if got.Volatility >= 0.5 || got.Volatility <= s.BaseVolatility {
		t.Errorf("volatility should move toward base 0.1 from 0.5, got %f", got.Volatility)
	}
}

func TestStockStep_ThinLiquidityMovesMore(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))

	thick := baseStock()
	thick.Price, thick.FairValue = 1_000_000, 1_000_000
	thin := thick
	thin.Liquidity = 10_000

	a := m.Step(thick, shocks(1))
	b := m.Step(thin, shocks(1))
	if b.Price-thin.Price <= a.Price-thick.Price {
		t.Errorf("thin book should move further: thick=%d thin=%d", a.Price, b.Price)
	}
}

func TestStockStep_FloorOnCrash(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))
	s := baseStock()
	s.Price = 1
	s.FairValue = 1

	got := m.Step(s, shocks(-1000))
	if got.Price < 1 {
		t.Errorf("price must stay positive, got %d", got.Price)
	}
}

func TestStockStep_NoFairValueStaysUnanchored(t *testing.T) {
	m := NewStockModel(DefaultStockParams(tick))
	s := StockState{Price: 10_000, Volatility: 0.01, BaseVolatility: 0.01, Liquidity: 1_000_000, OutstandingShares: 1_000}

	flat := s
	for i := 0; i < 300; i++ {
		got := m.Step(flat, shocks())
		if got.FairValue != 0 {
			t.Fatalf("tick %d: fair value should stay unset, got %d", i+1, got.FairValue)
		}
		flat.Price, flat.Momentum, flat.Volatility = got.Price, got.Momentum, got.Volatility
	}
	if flat.Price != s.Price {
		t.Errorf("without shocks or an anchor the price should hold at %d, got %d", s.Price, flat.Price)
	}

	rng := rand.New(rand.NewSource(1))
	walk := s
	for i := 0; i < 300; i++ {
		got := m.Step(walk, rng)
		walk.Price, walk.FairValue, walk.Momentum, walk.Volatility = got.Price, got.FairValue, got.Momentum, got.Volatility
	}
	if walk.Price < 2_000 || walk.FairValue != 0 {
		t.Errorf("stock without a fair value drifted to price %d fair %d", walk.Price, walk.FairValue)
	}
}

// --- Crypto model ---

func TestCryptoStep_MarketCapAndCeiling(t *testing.T) {
	m := NewCryptoModel(DefaultCryptoParams(tick))
	supply := model.MaxMoney / 100

	got := m.Step(CryptoState{
		Price:             100,
		CirculatingSupply: supply,
		Volatility:        0.5,
		BaseVolatility:    0.5,
		Liquidity:         1_000,
	}, shocks(0, 1000))

	if got.Price > 100 {
		t.Errorf("price should be capped so market cap fits, got %d", got.Price)
	}
	if got.MarketCap != got.Price*supply {
		t.Errorf("market cap %d != price %d × supply %d", got.MarketCap, got.Price, supply)
	}
	if got.MarketCap > model.MaxMoney {
		t.Errorf("market cap overflowed: %d", got.MarketCap)
	}
}

func TestCryptoStep_HugeSupplyMarketCapSaturates(t *testing.T) {
	m := NewCryptoModel(DefaultCryptoParams(tick))
	supply := model.MaxMoney * 4

	got := m.Step(CryptoState{Price: 5, CirculatingSupply: supply, Volatility: 0.2, BaseVolatility: 0.2, Liquidity: 1_000_000}, shocks())
	if got.Price != 1 {
		t.Errorf("price should sit at the floor, got %d", got.Price)
	}
	if got.MarketCap != model.MaxMoney {
		t.Errorf("market cap should saturate at %d, got %d", model.MaxMoney, got.MarketCap)
	}
}

func TestMarketCap(t *testing.T) {
	cases := []struct {
		price, units, want int64
	}{
		{100, 1_000, 100_000},
		{100, 0, 0},
		{100, -5, 0},
		{2, model.MaxMoney, model.MaxMoney},
	}
	for _, c := range cases {
		if got := MarketCap(c.price, c.units); got != c.want {
			t.Errorf("MarketCap(%d, %d) = %d, want %d", c.price, c.units, got, c.want)
		}
	}
}

func TestCryptoStep_DriftClampedAndReverting(t *testing.T) {
	p := DefaultCryptoParams(tick)
	m := NewCryptoModel(p)
	s := CryptoState{Price: 5_000, CirculatingSupply: 1_000, TrendDrift: 0.008, Volatility: 0.2, BaseVolatility: 0.2, Liquidity: 1_000_000}

	got := m.Step(s, shocks())
	if got.TrendDrift >= s.TrendDrift {
		t.Errorf("drift should revert toward zero without noise: %f -> %f", s.TrendDrift, got.TrendDrift)
	}

	got = m.Step(s, shocks(1000))
	if got.TrendDrift > p.MaxDrift {
		t.Errorf("drift should clamp to %f, got %f", p.MaxDrift, got.TrendDrift)
	}
}

// --- Bars ---

func TestBar_HighLow(t *testing.T) {
	now := time.Now()
	b := Bar(model.AssetStock, "s1", 120, 100, now)
	if b.High != 120 || b.Low != 100 || b.Open != 120 || b.Close != 100 {
		t.Errorf("unexpected bar %+v", b)
	}
	b = Bar(model.AssetCrypto, "c1", 100, 130, now)
	if b.High != 130 || b.Low != 100 {
		t.Errorf("unexpected bar %+v", b)
	}
}

// --- Properties ---

func TestProperty_PricesStayPositive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	stocks := NewStockModel(DefaultStockParams(tick))
	cryptos := NewCryptoModel(DefaultCryptoParams(tick))

	properties.Property("stock price stays in [1, ceiling]", prop.ForAll(
		func(price, fair int64, momentum, vol, liquidity float64, seed int64) bool {
			s := StockState{
				Price: price, FairValue: fair, Momentum: momentum,
				Volatility: vol, BaseVolatility: vol, Liquidity: liquidity,
				OutstandingShares: 1_000_000,
			}
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 20; i++ {
				next := stocks.Step(s, rng)
				if next.Price < 1 || next.Price > Ceiling(s.OutstandingShares, stocks.Params.MaxPrice) {
					return false
				}
				if next.FairValue < 1 || math.IsNaN(next.Volatility) {
					return false
				}
				s.Price, s.FairValue, s.Momentum, s.Volatility = next.Price, next.FairValue, next.Momentum, next.Volatility
			}
			return true
		},
		gen.Int64Range(-10, 1_000_000_000),
		gen.Int64Range(0, 1_000_000_000),
		gen.Float64Range(-1, 1),
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 10_000_000),
		gen.Int64(),
	))

	properties.Property("crypto price stays positive and market cap fits", prop.ForAll(
		func(price, supply int64, drift, vol float64, seed int64) bool {
			c := CryptoState{
				Price: price, CirculatingSupply: supply, TrendDrift: drift,
				Volatility: vol, BaseVolatility: vol, Liquidity: 50_000,
			}
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 20; i++ {
				next := cryptos.Step(c, rng)
				if next.Price < 1 || next.MarketCap < 0 || next.MarketCap > model.MaxMoney {
					return false
				}
				c.Price, c.TrendDrift, c.Momentum, c.Volatility = next.Price, next.TrendDrift, next.Momentum, next.Volatility
			}
			return true
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Int64Range(0, 1_000_000_000_000),
		gen.Float64Range(-0.05, 0.05),
		gen.Float64Range(0, 3),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
