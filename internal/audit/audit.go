// Package audit scans player balances for states that need an operator.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketsim/tick-engine/internal/store"
)

// NegativeBalance is one player whose cash is below zero. Loan interest
// is the only thing that can put a player there.
type NegativeBalance struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Balance  int64  `json:"balance"`
	NetWorth int64  `json:"net_worth"`
}

// NegativeBalances pages through all players and returns those with a
// negative cash balance, in player id order.
func NegativeBalances(ctx context.Context, s store.Store, pageSize int, logger *slog.Logger) ([]NegativeBalance, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	out := []NegativeBalance{}
	after := ""
	for {
		page, err := s.ListPlayers(ctx, after, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list players: %w", err)
		}
		for _, p := range page {
			if p.Balance < 0 {
				out = append(out, NegativeBalance{
					PlayerID: p.ID,
					Name:     p.Name,
					Balance:  p.Balance,
					NetWorth: p.NetWorth,
				})
			}
		}
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if len(out) > 0 {
		logger.Warn("players with negative balances", "count", len(out))
	}
	return out, nil
}
