package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/networth"
	"github.com/marketsim/tick-engine/internal/store"
)

// NetWorthUpdater refreshes every player's cached net worth.
type NetWorthUpdater struct {
	store  store.Store
	calc   *networth.Calculator
	cfg    Config
	logger *slog.Logger
}

// NewNetWorthUpdater creates a NetWorthUpdater.
func NewNetWorthUpdater(s store.Store, cfg Config, logger *slog.Logger) *NetWorthUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetWorthUpdater{
		store:  s,
		calc:   networth.NewCalculator(s),
		cfg:    cfg,
		logger: logger,
	}
}

// Run values all players against one price snapshot taken after this
// tick's repricing, page by page. Players within a page are independent
// and processed concurrently. It returns the number of players written.
func (u *NetWorthUpdater) Run(ctx context.Context) (int64, error) {
	prices, err := networth.TakeSnapshot(ctx, u.store)
	if err != nil {
		return 0, err
	}

	pageSize := u.cfg.PlayerPageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	workers := u.cfg.NetWorthWorkers
	if workers <= 0 {
		workers = 1
	}

	var written, seen atomic.Int64
	after := ""
	for {
		page, err := u.store.ListPlayers(ctx, after, pageSize)
		if err != nil {
			return written.Load(), fmt.Errorf("list players: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range page {
			id := page[i].ID
			g.Go(func() error {
				changed, err := u.refresh(gctx, id, prices)
				if err != nil {
					return err
				}
				if changed {
					written.Add(1)
					metrics.NetWorthWrites.Inc()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written.Load(), err
		}

		seen.Add(int64(len(page)))
		after = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	u.logger.Info("net worth recalculated", "players", seen.Load(), "written", written.Load())
	return written.Load(), nil
}

// refresh recomputes one player and patches NetWorth only if it changed.
func (u *NetWorthUpdater) refresh(ctx context.Context, playerID string, prices networth.Prices) (bool, error) {
	var changed bool
	err := retry(ctx, u.cfg.Retry, "player", func() error {
		changed = false
		p, err := u.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		b, err := u.calc.WithPrices(ctx, p, prices)
		if err != nil {
			return err
		}
		if b.NetWorth == p.NetWorth {
			return nil
		}
		p.NetWorth = b.NetWorth
		if err := u.store.UpdatePlayer(ctx, p); err != nil {
			return err
		}
		changed = true
		return nil
	})
	switch {
	case errors.Is(err, networth.ErrOverflow):
		u.logger.Warn("net worth out of range, skipping", "player_id", playerID, "err", err)
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("net worth %s: %w", playerID, err)
	}
	return changed, nil
}
