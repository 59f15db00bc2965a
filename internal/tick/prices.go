package tick

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/pricing"
	"github.com/marketsim/tick-engine/internal/store"
)

// PriceUpdater reprices every stock and cryptocurrency once per tick.
type PriceUpdater struct {
	store   store.Store
	cfg     Config
	rng     pricing.Rand
	stocks  *pricing.StockModel
	cryptos *pricing.CryptoModel
	logger  *slog.Logger
}

// NewPriceUpdater creates a PriceUpdater with the default model parameters
// for cfg.Every.
func NewPriceUpdater(s store.Store, cfg Config, rng pricing.Rand, logger *slog.Logger) *PriceUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceUpdater{
		store:   s,
		cfg:     cfg,
		rng:     rng,
		stocks:  pricing.NewStockModel(pricing.DefaultStockParams(cfg.Every)),
		cryptos: pricing.NewCryptoModel(pricing.DefaultCryptoParams(cfg.Every)),
		logger:  logger,
	}
}

// UpdateStocks steps every stock. Each stock is one CAS write; on conflict
// the stock is re-read and the step recomputed from the fresh state. The
// price bar is appended after the write succeeds.
func (u *PriceUpdater) UpdateStocks(ctx context.Context, now time.Time) ([]model.PriceUpdate, error) {
	stocks, err := u.store.ListStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}

	updates := make([]model.PriceUpdate, 0, len(stocks))
	for i := range stocks {
		listed := stocks[i]
		var (
			st        *model.Stock
			old       int64
			clustered bool
		)

		first := true
		err := retry(ctx, u.cfg.Retry, "stock", func() error {
			if first {
				st, first = &listed, false
			} else {
				fresh, err := u.store.GetStock(ctx, listed.ID)
				if err != nil {
					return err
				}
				st = fresh
			}

			old = st.CurrentPrice
			step := u.stocks.Step(pricing.StockState{
				Price:             st.CurrentPrice,
				FairValue:         st.FairValue,
				Momentum:          st.Momentum,
				Volatility:        st.Volatility,
				BaseVolatility:    st.BaseVolatility,
				Liquidity:         st.Liquidity,
				OutstandingShares: st.OutstandingShares,
			}, u.rng)

			st.PreviousPrice = old
			st.CurrentPrice = step.Price
			st.FairValue = step.FairValue
			st.Momentum = step.Momentum
			st.Volatility = step.Volatility
			st.MarketCap = pricing.MarketCap(step.Price, st.OutstandingShares)
			st.LastPriceChange = now
			clustered = step.Clustered
			if clustered {
				st.LastVolatilityCluster = now
			}
			return u.store.UpdateStock(ctx, st)
		})
		if err != nil {
			return updates, fmt.Errorf("update stock %s: %w", listed.ID, err)
		}

		bar := pricing.Bar(model.AssetStock, st.ID, old, st.CurrentPrice, now)
		if err := u.store.InsertPriceBar(ctx, &bar); err != nil {
			return updates, fmt.Errorf("stock bar %s: %w", st.ID, err)
		}

		metrics.PriceUpdates.WithLabelValues(string(model.AssetStock)).Inc()
		if clustered {
			metrics.VolatilityClusters.WithLabelValues(string(model.AssetStock)).Inc()
		}
		updates = append(updates, model.PriceUpdate{
			Kind:     model.AssetStock,
			AssetID:  st.ID,
			Symbol:   st.Symbol,
			OldPrice: old,
			NewPrice: st.CurrentPrice,
		})
	}

	u.logger.Info("stock prices updated", "count", len(updates))
	return updates, nil
}

// UpdateCryptos steps every cryptocurrency, the same way UpdateStocks does.
func (u *PriceUpdater) UpdateCryptos(ctx context.Context, now time.Time) ([]model.PriceUpdate, error) {
	cryptos, err := u.store.ListCryptos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cryptos: %w", err)
	}

	updates := make([]model.PriceUpdate, 0, len(cryptos))
	for i := range cryptos {
		listed := cryptos[i]
		var (
			c         *model.Crypto
			old       int64
			clustered bool
		)

		first := true
		err := retry(ctx, u.cfg.Retry, "crypto", func() error {
			if first {
				c, first = &listed, false
			} else {
				fresh, err := u.store.GetCrypto(ctx, listed.ID)
				if err != nil {
					return err
				}
				c = fresh
			}

			old = c.CurrentPrice
			step := u.cryptos.Step(pricing.CryptoState{
				Price:             c.CurrentPrice,
				CirculatingSupply: c.CirculatingSupply,
				TrendDrift:        c.TrendDrift,
				Momentum:          c.Momentum,
				Volatility:        c.Volatility,
				BaseVolatility:    c.BaseVolatility,
				Liquidity:         c.Liquidity,
			}, u.rng)

			c.PreviousPrice = old
			c.CurrentPrice = step.Price
			c.MarketCap = step.MarketCap
			c.TrendDrift = step.TrendDrift
			c.Momentum = step.Momentum
			c.Volatility = step.Volatility
			c.LastPriceChange = now
			clustered = step.Clustered
			if clustered {
				c.LastVolatilityUpdate = now
			}
			return u.store.UpdateCrypto(ctx, c)
		})
		if err != nil {
			return updates, fmt.Errorf("update crypto %s: %w", listed.ID, err)
		}

		bar := pricing.Bar(model.AssetCrypto, c.ID, old, c.CurrentPrice, now)
		if err := u.store.InsertPriceBar(ctx, &bar); err != nil {
			return updates, fmt.Errorf("crypto bar %s: %w", c.ID, err)
		}

		metrics.PriceUpdates.WithLabelValues(string(model.AssetCrypto)).Inc()
		if clustered {
			metrics.VolatilityClusters.WithLabelValues(string(model.AssetCrypto)).Inc()
		}
		updates = append(updates, model.PriceUpdate{
			Kind:     model.AssetCrypto,
			AssetID:  c.ID,
			Symbol:   c.Symbol,
			OldPrice: old,
			NewPrice: c.CurrentPrice,
		})
	}

	u.logger.Info("crypto prices updated", "count", len(updates))
	return updates, nil
}
