package negotiation

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrConditionNotBoolean is returned when an eligibility expression yields a non-boolean.
var ErrConditionNotBoolean = errors.New("condition did not evaluate to boolean")

// OrderContext is the set of variables an eligibility condition can reference.
type OrderContext struct {
	OrderTotal decimal.Decimal
	ServiceID  uuid.UUID
	ManagerID  uuid.UUID
	Currency   string
}

func (c OrderContext) params() map[string]interface{} {
	total, _ := c.OrderTotal.Float64()
	return map[string]interface{}{
		"orderTotal": total,
		"serviceId":  c.ServiceID.String(),
		"managerId":  c.ManagerID.String(),
		"currency":   c.Currency,
	}
}

// ValidateCondition checks that an eligibility expression parses.
// Empty conditions are allowed and always match.
func ValidateCondition(condition string) error {
	cond := strings.TrimSpace(condition)
	if cond == "" || isLiteral(cond) {
		return nil
	}
	if _, err := govaluate.NewEvaluableExpression(cond); err != nil {
		return ErrInvalidInput
	}
	return nil
}

// EvaluateCondition evaluates an eligibility expression for an order.
// Empty condition returns true. Supports "true"/"false" literals.
func EvaluateCondition(condition string, ctx OrderContext) (bool, error) {
	cond := strings.TrimSpace(condition)
	if cond == "" {
		return true, nil
	}
	switch strings.ToLower(cond) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return false, err
	}
	result, err := expr.Evaluate(ctx.params())
	if err != nil {
		return false, err
	}
	v, ok := result.(bool)
	if !ok {
		return false, ErrConditionNotBoolean
	}
	return v, nil
}

// MatchesOrder reports whether the record's bounds and condition admit the order.
// An expression that fails to evaluate does not match.
func (n *Negotiation) MatchesOrder(ctx OrderContext) bool {
	if !n.AcceptsOrderTotal(ctx.OrderTotal) {
		return false
	}
	if n.Condition == nil {
		return true
	}
	ok, err := EvaluateCondition(*n.Condition, ctx)
	return err == nil && ok
}

func isLiteral(cond string) bool {
	switch strings.ToLower(cond) {
	case "true", "false":
		return true
	}
	return false
}
