// Package settlement splits an order total into platform commission and
// manager net amount.
package settlement

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeTotal     = errors.New("order total must not be negative")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of applying a commission percentage to an order total.
type Result struct {
	OrderTotal       decimal.Decimal `json:"orderTotal"`
	Percentage       decimal.Decimal `json:"percentage"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	NetAmount        decimal.Decimal `json:"netAmount"`
}

// Validate checks inputs before Compute.
func Validate(orderTotal, percentage decimal.Decimal) error {
	if orderTotal.IsNegative() {
		return ErrNegativeTotal
	}
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}

// Compute applies percentage to orderTotal. Amounts are rounded half away
// from zero to cents; commission and net are each rounded from exact values.
func Compute(orderTotal, percentage decimal.Decimal) Result {
	res := Result{OrderTotal: orderTotal, Percentage: percentage}
	if !percentage.IsPositive() {
		res.CommissionAmount = decimal.Zero
		res.NetAmount = orderTotal
		return res
	}

	commission := Round2(orderTotal.Mul(percentage).Div(hundred))
	net := Round2(orderTotal.Sub(commission))
	if net.IsNegative() {
		net = decimal.Zero
	}
	res.CommissionAmount = commission
	res.NetAmount = net
	return res
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
