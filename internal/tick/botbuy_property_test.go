package tick

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/marketsim/tick-engine/internal/demand"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

// For any catalog and budget, BotBuyer.Run applies exactly the demand plan:
// spend stays within budget, no stock goes negative, and the company is
// credited what was spent.
func TestProperty_BotBuyerFollowsPlan(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("applied purchases match the plan and the budget", prop.ForAll(
		func(prices []int64, stocks []int64, budget int64) bool {
			ctx := context.Background()
			ms := store.NewMemoryStore()
			_ = ms.CreateCompany(ctx, &model.Company{ID: "c1", OwnerID: "p1"})
			for i, p := range prices {
				prod := &model.Product{ID: fmt.Sprintf("prod%02d", i), CompanyID: "c1", Price: p, IsActive: true}
				if stocks[i] >= 0 {
					prod.Stock = i64(stocks[i])
				}
				if err := ms.CreateProduct(ctx, prod); err != nil {
					return false
				}
			}

			cfg := testConfig()
			listed, err := ms.ListActiveProductsByRevenue(ctx, cfg.MaxProductPrice, cfg.ProductLimit)
			if err != nil {
				return false
			}
			cands := make([]demand.Candidate, len(listed))
			for i, p := range listed {
				cands[i] = demand.FromProduct(p)
			}
			plan := demand.Allocate(cands, budget)

			purchases, err := NewBotBuyer(ms, cfg, nil).Run(ctx, budget)
			if err != nil || len(purchases) != len(plan) {
				return false
			}

			var spent int64
			for i, p := range purchases {
				if p.ProductID != plan[i].ProductID || p.Quantity != plan[i].Quantity || p.TotalPrice != plan[i].Spend {
					return false
				}
				prod, err := ms.GetProduct(ctx, p.ProductID)
				if err != nil || (prod.Stock != nil && *prod.Stock < 0) {
					return false
				}
				spent += p.TotalPrice
			}
			company, err := ms.GetCompany(ctx, "c1")
			if err != nil {
				return false
			}
			return spent <= budget && company.Balance == spent
		},
		gen.SliceOfN(12, gen.Int64Range(1, 6_000_000)),
		gen.SliceOfN(12, gen.Int64Range(-1, 50)),
		gen.Int64Range(0, 20_000_000),
	))

	properties.TestingRun(t)
}

// stockRaceStore sells part of a product's stock to someone else right
// before the bot's first write to it, so that write loses the CAS.
type stockRaceStore struct {
	*store.MemoryStore
	once     sync.Once
	leftOver int64
}

func (s *stockRaceStore) UpdateProduct(ctx context.Context, p *model.Product) error {
	s.once.Do(func() {
		other, err := s.MemoryStore.GetProduct(ctx, p.ID)
		if err != nil {
			return
		}
		other.Stock = i64(s.leftOver)
		_ = s.MemoryStore.UpdateProduct(ctx, other)
	})
	return s.MemoryStore.UpdateProduct(ctx, p)
}

func TestBotBuyer_RecapsAfterConflict(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	_ = ms.CreateCompany(ctx, &model.Company{ID: "c1", OwnerID: "p1"})
	_ = ms.CreateProduct(ctx, &model.Product{ID: "hot", CompanyID: "c1", Price: 1_000, Stock: i64(20), IsActive: true})

	racing := &stockRaceStore{MemoryStore: ms, leftOver: 3}
	purchases, err := NewBotBuyer(racing, testConfig(), nil).Run(ctx, 10_000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(purchases) != 1 || purchases[0].Quantity != 3 || purchases[0].TotalPrice != 3_000 {
		t.Fatalf("expected the purchase re-capped to 3 units, got %+v", purchases)
	}

	prod, _ := ms.GetProduct(ctx, "hot")
	if *prod.Stock != 0 {
		t.Errorf("expected stock 0, got %d", *prod.Stock)
	}
	company, _ := ms.GetCompany(ctx, "c1")
	if company.Balance != 3_000 {
		t.Errorf("expected company credited 3000, got %d", company.Balance)
	}
}
