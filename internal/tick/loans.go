package tick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marketsim/tick-engine/internal/interest"
	"github.com/marketsim/tick-engine/internal/metrics"
	"github.com/marketsim/tick-engine/internal/model"
	"github.com/marketsim/tick-engine/internal/store"
)

// LoanAccruer charges interest on active loans.
type LoanAccruer struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// NewLoanAccruer creates a LoanAccruer.
func NewLoanAccruer(s store.Store, cfg Config, logger *slog.Logger) *LoanAccruer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoanAccruer{store: s, cfg: cfg, logger: logger}
}

// Run accrues every active loan as of now and returns the total charged.
//
// The loan is patched before the borrower is debited. The loan carries the
// LastInterestApplied guard, so a crash between the two writes under-charges
// the borrower once instead of charging the interest twice on a re-run.
func (a *LoanAccruer) Run(ctx context.Context, now time.Time) (int64, error) {
	loans, err := a.store.ListLoansByStatus(ctx, model.LoanActive)
	if err != nil {
		return 0, fmt.Errorf("list active loans: %w", err)
	}

	var total, charged int64
	for _, l := range loans {
		amount, err := a.accrue(ctx, l.ID, now)
		if errors.Is(err, model.ErrMoneyOverflow) {
			a.logger.Warn("loan interest would overflow, skipping", "loan_id", l.ID, "err", err)
			continue
		}
		if err != nil {
			return total, err
		}
		if amount == 0 {
			continue
		}

		if err := a.debit(ctx, l.PlayerID, amount); err != nil {
			return total, err
		}
		total += amount
		charged++
		metrics.InterestAccrued.Add(float64(amount))
	}

	a.logger.Info("loan interest accrued", "loans", len(loans), "charged", charged, "total", total)
	return total, nil
}

func (a *LoanAccruer) accrue(ctx context.Context, loanID string, now time.Time) (int64, error) {
	var amount int64
	err := retry(ctx, a.cfg.Retry, "loan", func() error {
		amount = 0
		l, err := a.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		acc, err := interest.Accrue(*l, now, a.cfg.InterestInterval)
		if err != nil {
			return err
		}
		if acc.Amount == 0 && !acc.Started {
			return nil
		}
		if err := a.store.UpdateLoan(ctx, &acc.Loan); err != nil {
			return err
		}
		amount = acc.Amount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("accrue loan %s: %w", loanID, err)
	}
	return amount, nil
}

// debit takes interest from the borrower's cash. The balance may go
// negative; loans are the only thing allowed to do that.
func (a *LoanAccruer) debit(ctx context.Context, playerID string, amount int64) error {
	err := retry(ctx, a.cfg.Retry, "player", func() error {
		p, err := a.store.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		bal, err := model.AddMoney(p.Balance, -amount)
		if err != nil {
			return err
		}
		p.Balance = bal
		return a.store.UpdatePlayer(ctx, p)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.logger.Warn("loan interest for missing player", "player_id", playerID, "amount", amount)
		return nil
	case errors.Is(err, model.ErrMoneyOverflow):
		a.logger.Warn("borrower balance would overflow, debit skipped", "player_id", playerID, "amount", amount)
		return nil
	case err != nil:
		return fmt.Errorf("debit player %s: %w", playerID, err)
	}
	return nil
}
