// Package networth holds the one net worth formula used everywhere:
//
//	cash
//	+ Σ shares × stock price
//	+ Σ coins × crypto price
//	+ Σ owned company balance (+ market cap when public)
//	− Σ remaining balance of active loans
//
// The batch recalculator and the on-demand read path both go through
// Compute, so the cached Player.NetWorth can always be reproduced.
package networth

import (
	"errors"
	"fmt"

	"github.com/marketsim/tick-engine/internal/model"
)

// ErrOverflow is returned when a term or the total leaves the safe money range.
var ErrOverflow = errors.New("networth: value exceeds safe money bounds")

// Prices maps asset id to current price in cents.
type Prices struct {
	Stocks  map[string]int64
	Cryptos map[string]int64
}

// Inputs is everything the formula reads for one player.
type Inputs struct {
	Cash           int64
	StockHoldings  []model.StockHolding
	CryptoHoldings []model.CryptoHolding
	Companies      []model.Company
	Loans          []model.Loan
	Prices         Prices
}

// Breakdown is the net worth with its terms.
type Breakdown struct {
	Cash      int64 `json:"cash"`
	Stocks    int64 `json:"stocks"`
	Cryptos   int64 `json:"cryptos"`
	Companies int64 `json:"companies"`
	Debt      int64 `json:"debt"`
	NetWorth  int64 `json:"net_worth"`
}

// Compute evaluates the formula. Holdings whose asset has no price count as
// zero. Fractional holdings are valued with truncation toward zero.
func Compute(in Inputs) (Breakdown, error) {
	b := Breakdown{Cash: in.Cash}
	var err error

	for _, h := range in.StockHoldings {
		price, ok := in.Prices.Stocks[h.StockID]
		if !ok {
			continue
		}
		v, verr := model.ValueOf(h.Shares, price)
		if verr != nil {
			return Breakdown{}, fmt.Errorf("stock %s: %w", h.StockID, ErrOverflow)
		}
		if b.Stocks, err = add(b.Stocks, v); err != nil {
			return Breakdown{}, err
		}
	}

	for _, h := range in.CryptoHoldings {
		price, ok := in.Prices.Cryptos[h.CryptoID]
		if !ok {
			continue
		}
		v, verr := model.ValueOf(h.Balance, price)
		if verr != nil {
			return Breakdown{}, fmt.Errorf("crypto %s: %w", h.CryptoID, ErrOverflow)
		}
		if b.Cryptos, err = add(b.Cryptos, v); err != nil {
			return Breakdown{}, err
		}
	}

	for _, c := range in.Companies {
		equity := c.Balance
		if c.IsPublic {
			if equity, err = add(equity, c.MarketCap); err != nil {
				return Breakdown{}, err
			}
		}
		if b.Companies, err = add(b.Companies, equity); err != nil {
			return Breakdown{}, err
		}
	}

	for _, l := range in.Loans {
		if l.Status != model.LoanActive {
			continue
		}
		if b.Debt, err = add(b.Debt, l.RemainingBalance); err != nil {
			return Breakdown{}, err
		}
	}

	total := b.Cash
	for _, term := range []int64{b.Stocks, b.Cryptos, b.Companies, -b.Debt} {
		if total, err = add(total, term); err != nil {
			return Breakdown{}, err
		}
	}
	b.NetWorth = total
	return b, nil
}

func add(a, b int64) (int64, error) {
	v, err := model.AddMoney(a, b)
	if err != nil {
		return 0, ErrOverflow
	}
	return v, nil
}
