package networth

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

// Calculator loads a player's inputs from the store and runs Compute.
type Calculator struct {
	store store.Store
}

// NewCalculator creates a Calculator reading from s.
func NewCalculator(s store.Store) *Calculator {
	return &Calculator{store: s}
}

// TakeSnapshot reads every stock and crypto price once. The batch
// recalculator values all players against the same snapshot.
func TakeSnapshot(ctx context.Context, s store.Store) (Prices, error) {
	stocks, err := s.ListStocks(ctx)
	if err != nil {
		return Prices{}, fmt.Errorf("snapshot stocks: %w", err)
	}
	cryptos, err := s.ListCryptos(ctx)
	if err != nil {
		return Prices{}, fmt.Errorf("snapshot cryptos: %w", err)
	}

	p := Prices{
		Stocks:  make(map[string]int64, len(stocks)),
		Cryptos: make(map[string]int64, len(cryptos)),
	}
	for _, st := range stocks {
		p.Stocks[st.ID] = st.CurrentPrice
	}
	for _, c := range cryptos {
		p.Cryptos[c.ID] = c.CurrentPrice
	}
	return p, nil
}

// ForPlayer computes a player's net worth from live prices. Used by read
// paths; prices are fetched per held asset.
func (c *Calculator) ForPlayer(ctx context.Context, playerID string) (*model.Player, Breakdown, error) {
	player, err := c.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, Breakdown{}, err
	}
	in, err := c.load(ctx, player)
	if err != nil {
		return nil, Breakdown{}, err
	}

	in.Prices = Prices{Stocks: map[string]int64{}, Cryptos: map[string]int64{}}
	for _, h := range in.StockHoldings {
		st, err := c.store.GetStock(ctx, h.StockID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, Breakdown{}, err
		}
		in.Prices.Stocks[st.ID] = st.CurrentPrice
	}
	for _, h := range in.CryptoHoldings {
		cr, err := c.store.GetCrypto(ctx, h.CryptoID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, Breakdown{}, err
		}
		in.Prices.Cryptos[cr.ID] = cr.CurrentPrice
	}

	b, err := Compute(in)
	if err != nil {
		return nil, Breakdown{}, fmt.Errorf("net worth %s: %w", playerID, err)
	}
	return player, b, nil
}

// WithPrices computes a player's net worth against a price snapshot.
func (c *Calculator) WithPrices(ctx context.Context, player *model.Player, prices Prices) (Breakdown, error) {
	in, err := c.load(ctx, player)
	if err != nil {
		return Breakdown{}, err
	}
	in.Prices = prices

	b, err := Compute(in)
	if err != nil {
		return Breakdown{}, fmt.Errorf("net worth %s: %w", player.ID, err)
	}
	return b, nil
}

func (c *Calculator) load(ctx context.Context, player *model.Player) (Inputs, error) {
	stocks, err := c.store.ListStockHoldingsByPlayer(ctx, player.ID)
	if err != nil {
		return Inputs{}, fmt.Errorf("stock holdings %s: %w", player.ID, err)
	}
	cryptos, err := c.store.ListCryptoHoldingsByPlayer(ctx, player.ID)
	if err != nil {
		return Inputs{}, fmt.Errorf("crypto holdings %s: %w", player.ID, err)
	}
	companies, err := c.store.ListCompaniesByOwner(ctx, player.ID)
	if err != nil {
		return Inputs{}, fmt.Errorf("companies %s: %w", player.ID, err)
	}
	loans, err := c.store.ListLoansByPlayer(ctx, player.ID)
	if err != nil {
		return Inputs{}, fmt.Errorf("loans %s: %w", player.ID, err)
	}

	return Inputs{
		Cash:           player.Balance,
		StockHoldings:  stocks,
		CryptoHoldings: cryptos,
		Companies:      companies,
		Loans:          loans,
	}, nil
}
