// Package interest computes loan interest accrual.
//
// Rates are percent per day. Interest is charged in whole sub-intervals of
// elapsed time since the loan was last charged, so calling Accrue again
// before another sub-interval has passed charges nothing.
package interest

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/tick-engine/internal/model"
)

// DefaultSubInterval is the accrual granularity: 72 charges per day.
const DefaultSubInterval = 20 * time.Minute

// ErrInvalidSubInterval is returned for a non-positive sub-interval.
var ErrInvalidSubInterval = errors.New("interest: sub-interval must be positive")

var (
	hundred = decimal.NewFromInt(100)
	day     = decimal.NewFromInt(int64(24 * time.Hour))
)

// Accrual is the outcome of one Accrue call.
type Accrual struct {
	Loan      model.Loan // updated copy; equal to the input when Amount is 0
	Amount    int64      // interest charged, also the borrower debit
	Intervals int64      // whole sub-intervals elapsed
	Started   bool       // the loan had never been charged; its clock now starts at now
}

// Accrue charges interest on an active loan for every whole sub-interval
// elapsed since LastInterestApplied:
//
//	interest = ⌊remaining × rate/100 × intervals × subInterval / 24h⌋
//
// When interest is positive the returned loan has RemainingBalance and
// AccruedInterest raised by it and LastInterestApplied set to now. A zero
// result leaves the loan untouched, so the elapsed time keeps counting.
// A loan with no LastInterestApplied is not charged; its clock is started
// at now and Started is set so the caller persists it.
func Accrue(loan model.Loan, now time.Time, subInterval time.Duration) (Accrual, error) {
	if subInterval <= 0 {
		return Accrual{}, ErrInvalidSubInterval
	}
	out := Accrual{Loan: loan}
	if loan.Status != model.LoanActive || loan.RemainingBalance <= 0 || loan.InterestRate <= 0 {
		return out, nil
	}

	if loan.LastInterestApplied.IsZero() {
		out.Loan.LastInterestApplied = now
		out.Started = true
		return out, nil
	}

	elapsed := now.Sub(loan.LastInterestApplied)
	intervals := int64(elapsed / subInterval)
	if intervals < 1 {
		return out, nil
	}
	out.Intervals = intervals

	num := decimal.NewFromInt(loan.RemainingBalance).
		Mul(decimal.NewFromFloat(loan.InterestRate)).
		Mul(decimal.NewFromInt(intervals)).
		Mul(decimal.NewFromInt(int64(subInterval)))
	q, _ := num.QuoRem(hundred.Mul(day), 0)
	if !q.IsPositive() {
		return out, nil
	}
	if q.GreaterThan(decimal.NewFromInt(model.MaxMoney)) {
		return Accrual{}, fmt.Errorf("interest on loan %s: %w", loan.ID, model.ErrMoneyOverflow)
	}
	amount := q.IntPart()

	remaining, err := model.AddMoney(loan.RemainingBalance, amount)
	if err != nil {
		return Accrual{}, fmt.Errorf("interest on loan %s: %w", loan.ID, err)
	}
	accrued, err := model.AddMoney(loan.AccruedInterest, amount)
	if err != nil {
		return Accrual{}, fmt.Errorf("interest on loan %s: %w", loan.ID, err)
	}

	out.Loan.RemainingBalance = remaining
	out.Loan.AccruedInterest = accrued
	out.Loan.LastInterestApplied = now
	out.Amount = amount
	return out, nil
}
