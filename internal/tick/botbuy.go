package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketsim/tick-engine/internal/demand"
	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

// BotBuyer spends the per-tick bot budget on the marketplace.
type BotBuyer struct {
	store     store.Store
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newSaleID func() string
}

// NewBotBuyer creates a BotBuyer.
func NewBotBuyer(s store.Store, cfg Config, logger *slog.Logger) *BotBuyer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotBuyer{
		store:     s,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newSaleID: uuid.NewString,
	}
}

// Run plans the budget across the eligible catalog with demand.Allocate
// and applies each planned purchase. Per product the writes are, in order:
//
//  1. product: stock, totalSold, totalRevenue (CAS, re-capped on conflict)
//  2. company: balance credit (CAS)
//  3. marketplace sale insert, purchaser "bot"
//
// A failure after (1) leaves a sale that was counted on the product but
// not yet paid out or logged; the error aborts the tick. A purchase never
// spends more than its planned amount, so the plan's budget bound holds
// however the catalog moves underneath it.
func (b *BotBuyer) Run(ctx context.Context, budget int64) ([]model.BotPurchase, error) {
	products, err := b.store.ListActiveProductsByRevenue(ctx, b.cfg.MaxProductPrice, b.cfg.ProductLimit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	cands := make([]demand.Candidate, len(products))
	for i, p := range products {
		cands[i] = demand.FromProduct(p)
	}
	plan := demand.Allocate(cands, budget)
	if len(plan) == 0 {
		b.logger.Info("bot buyers idle", "products", len(products))
		return nil, nil
	}

	remaining := budget
	var purchases []model.BotPurchase
	for _, a := range plan {
		purchase, ok, err := b.buy(ctx, a, remaining)
		if err != nil {
			return purchases, err
		}
		if !ok {
			continue
		}
		purchases = append(purchases, purchase)
		remaining -= purchase.TotalPrice

		metrics.BotPurchases.Inc()
		metrics.BotSpend.Add(float64(purchase.TotalPrice))
	}

	b.logger.Info("bot purchases applied",
		"planned", len(plan),
		"purchases", len(purchases),
		"spent", budget-remaining,
		"budget", budget,
	)
	return purchases, nil
}

// buy applies one planned purchase. The quantity is re-sized against the
// freshly read product on every attempt, spending at most the planned
// amount. ok is false when the product no longer qualifies once re-read,
// or when the amounts would overflow.
func (b *BotBuyer) buy(ctx context.Context, a demand.Allocation, remaining int64) (model.BotPurchase, bool, error) {
	productID := a.ProductID
	var (
		product *model.Product
		qty     int64
		spend   int64
	)

	err := retry(ctx, b.cfg.Retry, "product", func() error {
		p, err := b.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		product, qty, spend = p, 0, 0
		if !p.IsActive || p.IsArchived {
			return nil
		}

		n := demand.Quantity(demand.FromProduct(*p), a.Spend, remaining)
		if n <= 0 {
			return nil
		}
		cost, err := model.MulMoney(n, p.Price)
		if err != nil {
			return nil
		}
		revenue, err := model.AddMoney(p.TotalRevenue, cost)
		if err != nil {
			b.logger.Warn("product revenue would overflow, skipping", "product_id", p.ID)
			return nil
		}
		if err := b.checkCompanyCredit(ctx, p.CompanyID, cost); err != nil {
			return err
		}

		if p.Stock != nil {
			left := *p.Stock - n
			p.Stock = &left
		}
		p.TotalSold += n
		p.TotalRevenue = revenue
		if err := b.store.UpdateProduct(ctx, p); err != nil {
			return err
		}
		qty, spend = n, cost
		return nil
	})
	if errors.Is(err, errSkip) {
		return model.BotPurchase{}, false, nil
	}
	if err != nil {
		return model.BotPurchase{}, false, fmt.Errorf("bot purchase product %s: %w", productID, err)
	}
	if qty == 0 {
		return model.BotPurchase{}, false, nil
	}

	if err := b.creditCompany(ctx, product.CompanyID, spend); err != nil {
		return model.BotPurchase{}, false, err
	}

	sale := &model.MarketplaceSale{
		ID:            b.newSaleID(),
		ProductID:     product.ID,
		CompanyID:     product.CompanyID,
		Quantity:      qty,
		PurchaserID:   model.BotPurchaser,
		PurchaserType: model.PurchaserBot,
		TotalPrice:    spend,
		CreatedAt:     b.now().UTC(),
	}
	if err := b.store.InsertSale(ctx, sale); err != nil {
		return model.BotPurchase{}, false, fmt.Errorf("record bot sale %s: %w", product.ID, err)
	}

	return model.BotPurchase{
		ProductID:  product.ID,
		CompanyID:  product.CompanyID,
		Quantity:   qty,
		TotalPrice: spend,
	}, true, nil
}

// errSkip drops a product without failing the tick.
var errSkip = errors.New("skip product")

// checkCompanyCredit refuses a sale whose proceeds could not be credited.
// A missing company is tolerated: the sale still counts, nobody is paid.
func (b *BotBuyer) checkCompanyCredit(ctx context.Context, companyID string, amount int64) error {
	c, err := b.store.GetCompany(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := model.AddMoney(c.Balance, amount); err != nil {
		b.logger.Warn("company balance would overflow, skipping", "company_id", companyID)
		return errSkip
	}
	return nil
}

func (b *BotBuyer) creditCompany(ctx context.Context, companyID string, amount int64) error {
	err := retry(ctx, b.cfg.Retry, "company", func() error {
		c, err := b.store.GetCompany(ctx, companyID)
		if err != nil {
			return err
		}
		bal, err := model.AddMoney(c.Balance, amount)
		if err != nil {
			return err
		}
		c.Balance = bal
		return b.store.UpdateCompany(ctx, c)
	})
	if errors.Is(err, store.ErrNotFound) {
		b.logger.Warn("bot sale for missing company", "company_id", companyID, "amount", amount)
		return nil
	}
	if err != nil {
		return fmt.Errorf("credit company %s: %w", companyID, err)
	}
	return nil
}
