// Package pricing advances simulated asset prices by one tick.
//
// Both models work on log returns. A stock is pulled toward its fair value,
// carries a share of its recent trend forward, and takes a random shock
// whose size grows with volatility and shrinks with liquidity. Large moves
// raise volatility for a while (clustering) before it relaxes back to the
// asset's base level. Cryptocurrencies have no fair value; a slowly
// mean-reverting trend drift takes its place.
//
// Prices are int64 cents and are always clamped to a strictly positive
// floor. Randomness comes from the caller so runs can be replayed.
package pricing

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/marketsim/tick-engine/internal/model"
)

// Rand is the random source the models draw from. *rand.Rand satisfies it.
type Rand interface {
	NormFloat64() float64
	Float64() float64
}

// LockedRand is a Rand safe for concurrent use.
type LockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLockedRand seeds a LockedRand. A zero seed uses the current time.
func NewLockedRand(seed int64) *LockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *LockedRand) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.NormFloat64()
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// TickFraction converts a tick period to a fraction of a day, the unit
// volatilities are quoted in.
func TickFraction(every time.Duration) float64 {
	if every <= 0 {
		return 0
	}
	return float64(every) / float64(24*time.Hour)
}

// Ceiling returns the highest price for which price × units stays within
// model.MaxMoney, further bounded by maxPrice.
func Ceiling(units, maxPrice int64) int64 {
	ceiling := maxPrice
	if units > 0 {
		if c := model.MaxMoney / units; c < ceiling {
			ceiling = c
		}
	}
	if ceiling < 1 {
		ceiling = 1
	}
	return ceiling
}

// MarketCap returns price × units, saturating at model.MaxMoney for
// supplies so large that even the floor price overflows.
func MarketCap(price, units int64) int64 {
	if units <= 0 || price <= 0 {
		return 0
	}
	v, err := model.MulMoney(price, units)
	if err != nil {
		return model.MaxMoney
	}
	return v
}

// liquidityFactor scales shocks inversely with liquidity: thin books move
// more per unit of randomness.
func liquidityFactor(liquidity, ref float64) float64 {
	if liquidity <= 0 || ref <= 0 {
		return 4
	}
	return clamp(math.Sqrt(ref/liquidity), 0.25, 4)
}

// applyReturn moves price by e^ret, rounding and clamping to [lo, hi].
func applyReturn(price int64, ret float64, lo, hi int64) int64 {
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	next := math.Round(float64(price) * math.Exp(ret))
	switch {
	case math.IsNaN(next) || next < float64(lo):
		return lo
	case next > float64(hi):
		return hi
	}
	return int64(next)
}

// volatilityStep relaxes vol toward base, then boosts it when the realised
// move was large relative to what the old volatility predicted.
func volatilityStep(vol, base, realised, expected, relax, threshold, boost, lo, hi float64) (float64, bool) {
	next := vol + relax*(base-vol)
	clustered := expected > 0 && math.Abs(realised) > threshold*expected
	if clustered {
		next *= boost
	}
	return clamp(next, lo, hi), clustered
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func positive(price, floor int64) int64 {
	if price < floor {
		return floor
	}
	return price
}
