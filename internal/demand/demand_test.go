package demand

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

// --- Score tests ---

func TestScore_SweetSpotDefaultQuality(t *testing.T) {
	got := Score(Candidate{Price: 100_000})
	// (0.4*0.5 + 0.3*1 + 0 + 0.1) / (1 + 0.2^1.2)
	if math.Abs(got-0.52404) > 1e-4 {
		t.Errorf("expected score ~0.52404, got %f", got)
	}
}

func TestScore_ExpensiveItemsPenalised(t *testing.T) {
	cheap := Score(Candidate{Price: 100_000})
	pricey := Score(Candidate{Price: 5_000_000})
	if pricey >= cheap {
		t.Errorf("expected $50k item to score below $1k item: %f >= %f", pricey, cheap)
	}
}

func TestScore_DemandSaturates(t *testing.T) {
	a := Score(Candidate{Price: 100_000, TotalSold: 100})
	b := Score(Candidate{Price: 100_000, TotalSold: 10_000})
	if a != b {
		t.Errorf("demand term should cap at 100 sold: %f != %f", a, b)
	}
}

func TestScore_Clamped(t *testing.T) {
	if s := Score(Candidate{Price: 100_000, Quality: f64(5)}); s != 1 {
		t.Errorf("expected clamp to 1, got %f", s)
	}
	if s := Score(Candidate{Price: 100_000, Quality: f64(-10)}); s != 0 {
		t.Errorf("expected clamp to 0, got %f", s)
	}
}

// --- Allocation tests ---

func TestAllocate_SingleProductStockLimited(t *testing.T) {
	cands := []Candidate{{ProductID: "p1", CompanyID: "c1", Price: 10_000, Stock: i64(50)}}

	got := Allocate(cands, 1_000_000)
	if len(got) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(got))
	}
	if got[0].Quantity != 50 {
		t.Errorf("expected 50 units (stock-limited), got %d", got[0].Quantity)
	}
	if got[0].Spend != 500_000 {
		t.Errorf("expected spend 500000, got %d", got[0].Spend)
	}
}

func TestAllocate_MaxPerOrder(t *testing.T) {
	cands := []Candidate{{ProductID: "p1", Price: 10_000, MaxPerOrder: i64(3)}}
	got := Allocate(cands, 1_000_000)
	if len(got) != 1 || got[0].Quantity != 3 {
		t.Fatalf("expected 3 units capped by max per order, got %+v", got)
	}
}

func TestAllocate_SkipsWhenShareBelowPrice(t *testing.T) {
	cands := []Candidate{
		{ProductID: "cheap", Price: 100},
		{ProductID: "big", Price: 900_000},
	}
	got := Allocate(cands, 1_000_000)
	for _, a := range got {
		if a.ProductID == "big" {
			t.Errorf("big-ticket product should be skipped when its share is below its price")
		}
	}
}

func TestAllocate_EmptyAndZeroScore(t *testing.T) {
	if got := Allocate(nil, 1_000_000); got != nil {
		t.Errorf("expected nil for empty catalog, got %+v", got)
	}
	zero := []Candidate{{ProductID: "p", Price: 100, Quality: f64(-10)}}
	if got := Allocate(zero, 1_000_000); got != nil {
		t.Errorf("expected nil for zero total score, got %+v", got)
	}
}

func TestQuantity_FitsRemainingBudget(t *testing.T) {
	c := Candidate{Price: 10_000}
	if q := Quantity(c, 100_000, 25_000); q != 2 {
		t.Errorf("expected 2 units to fit remaining 25000, got %d", q)
	}
	if q := Quantity(c, 100_000, 5_000); q != 0 {
		t.Errorf("expected 0 units when remaining is below price, got %d", q)
	}
	if q := Quantity(Candidate{Price: 10_000, Stock: i64(0)}, 100_000, 100_000); q != 0 {
		t.Errorf("expected 0 units for sold-out product, got %d", q)
	}
}

// --- Properties ---

// For any catalog and budget, total spend stays within budget, no purchase
// exceeds its proportional share, and no finite stock is oversold.
func TestProperty_BudgetConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("spend never exceeds budget or stock", prop.ForAll(
		func(prices []int64, stocks []int64, budget int64) bool {
			cands := make([]Candidate, len(prices))
			for i, p := range prices {
				cands[i] = Candidate{ProductID: string(rune('a' + i)), Price: p}
				if i < len(stocks) && stocks[i] >= 0 {
					s := stocks[i]
					cands[i].Stock = &s
				}
			}

			shares := Shares(cands, budget)
			byID := make(map[string]int)
			for i, c := range cands {
				byID[c.ProductID] = i
			}

			var total int64
			for _, a := range Allocate(cands, budget) {
				i := byID[a.ProductID]
				c := cands[i]
				if a.Quantity <= 0 || a.Spend != a.Quantity*c.Price {
					return false
				}
				if a.Spend > shares[i] {
					return false
				}
				if c.Stock != nil && a.Quantity > *c.Stock {
					return false
				}
				total += a.Spend
			}
			return total <= budget
		},
		gen.SliceOfN(20, gen.Int64Range(1, 5_000_000)),
		gen.SliceOfN(20, gen.Int64Range(-1, 200)),
		gen.Int64Range(0, 50_000_000),
	))

	properties.TestingRun(t)
}
