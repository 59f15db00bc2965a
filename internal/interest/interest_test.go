package interest

import (
	"errors"
	"testing"
	"time"

	"github.com/marketsim/tick-engine/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeLoan(remaining int64, rate float64, last time.Time) model.Loan {
	return model.Loan{
		ID:                  "loan-1",
		PlayerID:            "p1",
		Amount:              remaining,
		InterestRate:        rate,
		RemainingBalance:    remaining,
		Status:              model.LoanActive,
		LastInterestApplied: last,
	}
}

func TestAccrue_OneSubInterval(t *testing.T) {
	loan := activeLoan(100_000, 5, t0)

	got, err := Accrue(loan, t0.Add(DefaultSubInterval), DefaultSubInterval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 69 {
		t.Errorf("expected 69 cents interest, got %d", got.Amount)
	}
	if got.Loan.RemainingBalance != 100_069 {
		t.Errorf("expected remaining 100069, got %d", got.Loan.RemainingBalance)
	}
	if got.Loan.AccruedInterest != 69 {
		t.Errorf("expected accrued 69, got %d", got.Loan.AccruedInterest)
	}
	if !got.Loan.LastInterestApplied.Equal(t0.Add(DefaultSubInterval)) {
		t.Errorf("LastInterestApplied not advanced: %v", got.Loan.LastInterestApplied)
	}
}

func TestAccrue_IdempotentWithinSubInterval(t *testing.T) {
	now := t0.Add(DefaultSubInterval)
	first, _ := Accrue(activeLoan(100_000, 5, t0), now, DefaultSubInterval)

	second, err := Accrue(first.Loan, now, DefaultSubInterval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Amount != 0 {
		t.Errorf("second call at the same instant charged %d", second.Amount)
	}
	if second.Loan != first.Loan {
		t.Errorf("loan changed on no-op accrual")
	}

	third, _ := Accrue(first.Loan, now.Add(DefaultSubInterval-time.Second), DefaultSubInterval)
	if third.Amount != 0 {
		t.Errorf("charged before a full sub-interval elapsed: %d", third.Amount)
	}
}

func TestAccrue_MultipleIntervalsProportional(t *testing.T) {
	loan := activeLoan(720_000, 10, t0)

	// 3 intervals: 720000 × 0.10 × 3/72 = 3000
	got, _ := Accrue(loan, t0.Add(3*DefaultSubInterval+time.Minute), DefaultSubInterval)
	if got.Intervals != 3 || got.Amount != 3000 {
		t.Errorf("expected 3 intervals / 3000 cents, got %d / %d", got.Intervals, got.Amount)
	}
}

func TestAccrue_ZeroInterestLeavesTimestamp(t *testing.T) {
	loan := activeLoan(10, 5, t0) // 10 × 0.05 / 72 < 1 cent

	got, _ := Accrue(loan, t0.Add(DefaultSubInterval), DefaultSubInterval)
	if got.Amount != 0 {
		t.Fatalf("expected no interest, got %d", got.Amount)
	}
	if !got.Loan.LastInterestApplied.Equal(t0) {
		t.Errorf("timestamp should not advance on a zero charge")
	}
}

func TestAccrue_NeverChargedStartsClock(t *testing.T) {
	loan := activeLoan(100_000, 5, time.Time{})

	got, err := Accrue(loan, t0, DefaultSubInterval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Amount != 0 || got.Intervals != 0 {
		t.Errorf("expected no charge for a loan without a clock, got %d over %d intervals", got.Amount, got.Intervals)
	}
	if !got.Started || !got.Loan.LastInterestApplied.Equal(t0) {
		t.Errorf("clock should start at %v, got %v (started=%v)", t0, got.Loan.LastInterestApplied, got.Started)
	}
	if got.Loan.RemainingBalance != 100_000 {
		t.Errorf("remaining balance changed to %d", got.Loan.RemainingBalance)
	}

	next, _ := Accrue(got.Loan, t0.Add(DefaultSubInterval), DefaultSubInterval)
	if next.Amount != 69 {
		t.Errorf("expected 69 cents one sub-interval later, got %d", next.Amount)
	}
}

func TestAccrue_InactiveLoans(t *testing.T) {
	for _, status := range []string{model.LoanPaid, model.LoanDefaulted} {
		loan := activeLoan(100_000, 5, t0)
		loan.Status = status
		got, _ := Accrue(loan, t0.Add(time.Hour), DefaultSubInterval)
		if got.Amount != 0 {
			t.Errorf("%s loan accrued %d", status, got.Amount)
		}
	}
}

func TestAccrue_InvalidSubInterval(t *testing.T) {
	_, err := Accrue(activeLoan(1, 1, t0), t0, 0)
	if !errors.Is(err, ErrInvalidSubInterval) {
		t.Errorf("expected ErrInvalidSubInterval, got %v", err)
	}
}

func TestAccrue_Overflow(t *testing.T) {
	loan := activeLoan(model.MaxMoney-10, 100, t0)
	_, err := Accrue(loan, t0.Add(24*time.Hour), DefaultSubInterval)
	if !errors.Is(err, model.ErrMoneyOverflow) {
		t.Errorf("expected ErrMoneyOverflow, got %v", err)
	}
}
