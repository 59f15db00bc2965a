// Package seed loads a demo catalog of stocks and cryptocurrencies.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

var stocks = []struct {
	Symbol     string
	Name       string
	Sector     string
	Price      int64 // cents
	Shares     int64
	Volatility float64
	Liquidity  float64
}{
	{"COBLT", "Cobalt Dynamics", "industrials", 13_000, 5_000_000, 0.25, 2_000_000},
	{"NIMB", "Nimbus Labs", "technology", 9_500, 8_000_000, 0.40, 1_500_000},
	{"RSTC", "Rustic Systems", "technology", 11_500, 4_000_000, 0.30, 1_000_000},
	{"PYLN", "Pylon Networks", "telecom", 8_000, 6_000_000, 0.22, 1_200_000},
	{"SWFT", "Swiftr Mobile", "consumer", 15_000, 3_000_000, 0.35, 800_000},
	{"NEBU", "Nebula Energy", "energy", 9_200, 7_500_000, 0.28, 1_800_000},
	{"ORBZ", "Orbitz Space", "aerospace", 18_000, 2_000_000, 0.50, 500_000},
	{"LUMN", "Lumina Health", "healthcare", 10_200, 5_500_000, 0.20, 1_600_000},
}

var cryptos = []struct {
	Symbol      string
	Name        string
	Price       int64
	Supply      int64
	Circulating int64
	Volatility  float64
	Liquidity   float64
}{
	{"BTC", "Bitcoin", 6_500_000, 21_000_000, 19_500_000, 0.60, 5_000_000},
	{"ETH", "Ether", 320_000, 120_000_000, 120_000_000, 0.75, 4_000_000},
	{"DOGE", "Dogecoin", 15, 150_000_000_000, 145_000_000_000, 1.10, 2_000_000},
	{"SOL", "Solana", 15_000, 580_000_000, 440_000_000, 0.95, 1_500_000},
}

// Defaults inserts the demo catalog when the store has no stocks yet. It
// reports how many stocks and cryptos were created.
func Defaults(ctx context.Context, s store.Store, logger *slog.Logger) (int, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	existing, err := s.ListStocks(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count stocks: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("seed skipped, catalog present", "stocks", len(existing))
		return 0, 0, nil
	}

	now := time.Now().UTC()
	for _, row := range stocks {
		marketCap, err := model.MulMoney(row.Price, row.Shares)
		if err != nil {
			return 0, 0, fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
		err = s.CreateStock(ctx, &model.Stock{
			ID:                uuid.New().String(),
			Symbol:            row.Symbol,
			Name:              row.Name,
			Sector:            row.Sector,
			CurrentPrice:      row.Price,
			PreviousPrice:     row.Price,
			FairValue:         row.Price,
			Volatility:        row.Volatility,
			BaseVolatility:    row.Volatility,
			Liquidity:         row.Liquidity,
			OutstandingShares: row.Shares,
			MarketCap:         marketCap,
			LastPriceChange:   now,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
	}

	for _, row := range cryptos {
		marketCap, err := model.MulMoney(row.Price, row.Circulating)
		if err != nil {
			return len(stocks), 0, fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
		err = s.CreateCrypto(ctx, &model.Crypto{
			ID:                uuid.New().String(),
			Symbol:            row.Symbol,
			Name:              row.Name,
			CurrentPrice:      row.Price,
			PreviousPrice:     row.Price,
			TotalSupply:       row.Supply,
			CirculatingSupply: row.Circulating,
			MarketCap:         marketCap,
			Volatility:        row.Volatility,
			BaseVolatility:    row.Volatility,
			Liquidity:         row.Liquidity,
			LastPriceChange:   now,
		})
		if err != nil {
			return len(stocks), 0, fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
	}

	logger.Info("demo catalog seeded", "stocks", len(stocks), "cryptos", len(cryptos))
	return len(stocks), len(cryptos), nil
}
