// Package demand models simulated bot buyers on the product marketplace.
//
// Each tick a fixed budget is spread across the eligible catalog in
// proportion to an attractiveness score. The score rewards quality, prices
// near a sweet spot in log space, and products that already sell, and it
// discounts expensive items so a handful of big-ticket listings cannot
// soak up the whole budget.
//
// Everything here is pure: no I/O, no clocks, no randomness. The tick
// package applies the resulting allocations to the store.
package demand

import (
	"math"

	"github.com/marketsim/tick-engine/internal/model"
)

// Score weights and shape parameters.
const (
	DefaultQuality = 0.5

	qualityWeight   = 0.4
	priceWeight     = 0.3
	demandWeight    = 0.2
	baseAttraction  = 0.1
	sweetSpotCents  = 100_000 // $1,000
	logPriceWidth   = 2.0
	demandSaturate  = 100.0 // units sold at which the demand term maxes out
	penaltyDollars  = 5000.0
	penaltyExponent = 1.2
)

// Candidate is the slice of a product the allocator needs.
type Candidate struct {
	ProductID   string
	CompanyID   string
	Price       int64
	Stock       *int64 // nil = unlimited
	MaxPerOrder *int64
	TotalSold   int64
	Quality     *float64
}

// FromProduct builds a Candidate from a stored product.
func FromProduct(p model.Product) Candidate {
	return Candidate{
		ProductID:   p.ID,
		CompanyID:   p.CompanyID,
		Price:       p.Price,
		Stock:       p.Stock,
		MaxPerOrder: p.MaxPerOrder,
		TotalSold:   p.TotalSold,
		Quality:     p.QualityRating,
	}
}

// Allocation is one planned purchase.
type Allocation struct {
	ProductID string
	CompanyID string
	Quantity  int64
	Spend     int64
}

// Score returns the attractiveness of c in [0, 1].
//
//   - quality: QualityRating, DefaultQuality when unset
//   - price preference: exp(-z²/2), z = (ln(price+1) - ln(sweet spot)) / 2
//   - demand: min(totalSold/100, 1)
//   - unit-price penalty: 1 / (1 + (dollars/5000)^1.2)
//
// score = penalty × (0.4·quality + 0.3·preference + 0.2·demand + 0.1)
func Score(c Candidate) float64 {
	q := DefaultQuality
	if c.Quality != nil {
		q = *c.Quality
	}

	z := (math.Log(float64(c.Price)+1) - math.Log(sweetSpotCents)) / logPriceWidth
	preference := math.Exp(-(z * z) / 2)

	d := math.Min(float64(c.TotalSold)/demandSaturate, 1)

	dollars := float64(c.Price) / 100
	penalty := 1 / (1 + math.Pow(dollars/penaltyDollars, penaltyExponent))

	raw := (qualityWeight*q + priceWeight*preference + demandWeight*d + baseAttraction) * penalty
	return clamp01(raw)
}

// Shares returns each candidate's desired spend, floor(score/Σscore × budget),
// in candidate order. It returns nil when there is nothing to allocate.
func Shares(cands []Candidate, budget int64) []int64 {
	if len(cands) == 0 || budget <= 0 {
		return nil
	}

	scores := make([]float64, len(cands))
	var total float64
	for i, c := range cands {
		scores[i] = Score(c)
		total += scores[i]
	}
	if total <= 0 {
		return nil
	}

	shares := make([]int64, len(cands))
	for i, s := range scores {
		shares[i] = int64(math.Floor(s / total * float64(budget)))
	}
	return shares
}

// Quantity sizes one purchase: floor(desired/price), capped by stock and
// the per-order limit, then cut down to what remaining can pay for.
// It returns 0 when the product should be skipped, including when the cost
// would leave the safe money range.
func Quantity(c Candidate, desired, remaining int64) int64 {
	if c.Price <= 0 || desired < c.Price || remaining <= 0 {
		return 0
	}

	qty := desired / c.Price
	if c.Stock != nil && *c.Stock < qty {
		qty = *c.Stock
	}
	if c.MaxPerOrder != nil && *c.MaxPerOrder > 0 && *c.MaxPerOrder < qty {
		qty = *c.MaxPerOrder
	}
	if qty <= 0 {
		return 0
	}

	cost, err := model.MulMoney(qty, c.Price)
	if err != nil {
		return 0
	}
	if cost > remaining {
		qty = remaining / c.Price
	}
	return qty
}

// Allocate plans the whole budget against a static catalog. Candidates are
// visited in order and each purchase is paid out of what the earlier ones
// left, so Σ Spend never exceeds budget.
func Allocate(cands []Candidate, budget int64) []Allocation {
	shares := Shares(cands, budget)
	if shares == nil {
		return nil
	}

	remaining := budget
	var out []Allocation
	for i, c := range cands {
		if remaining <= 0 {
			break
		}
		qty := Quantity(c, shares[i], remaining)
		if qty <= 0 {
			continue
		}
		spend := qty * c.Price
		out = append(out, Allocation{
			ProductID: c.ProductID,
			CompanyID: c.CompanyID,
			Quantity:  qty,
			Spend:     spend,
		})
		remaining -= spend
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
