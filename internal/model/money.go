package model

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrMoneyOverflow is returned when an amount would leave [-MaxMoney, MaxMoney].
var ErrMoneyOverflow = errors.New("model: amount exceeds safe money bounds")

var maxMoneyBig = big.NewInt(MaxMoney)

// MulMoney returns a*b, failing when the product is out of bounds.
func MulMoney(a, b int64) (int64, error) {
	v := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	if v.CmpAbs(maxMoneyBig) > 0 {
		return 0, ErrMoneyOverflow
	}
	return v.Int64(), nil
}

// AddMoney returns a+b, failing when the sum is out of bounds.
func AddMoney(a, b int64) (int64, error) {
	v := new(big.Int).Add(big.NewInt(a), big.NewInt(b))
	if v.CmpAbs(maxMoneyBig) > 0 {
		return 0, ErrMoneyOverflow
	}
	return v.Int64(), nil
}

// ValueOf prices a (possibly fractional) quantity, truncating toward zero.
func ValueOf(qty decimal.Decimal, price int64) (int64, error) {
	v := qty.Mul(decimal.NewFromInt(price)).Truncate(0)
	if v.Abs().GreaterThan(decimal.NewFromInt(MaxMoney)) {
		return 0, ErrMoneyOverflow
	}
	return v.IntPart(), nil
}

// InBounds reports whether v is a legal stored amount.
func InBounds(v int64) bool {
	return v >= -MaxMoney && v <= MaxMoney
}
