package mutation

import (
	"fmt"

	"github.com/rl1809/stockledger/internal/core/domain"
)

type Intent string

const (
	IntentAdd    Intent = "add"
	IntentDeduct Intent = "deduct"
	IntentMove   Intent = "move"
)

func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentAdd, IntentDeduct, IntentMove:
		return i, nil
	}
	return "", fmt.Errorf("%w: unknown stock operation %q", domain.ErrValidation, s)
}

// Plan is the bounded stock change computed from a user intent.
type Plan struct {
	Intent   Intent
	Amount   int
	OldStock int
	NewStock int
	// Capped is set when the result was clamped to zero.
	Capped bool
}

func (p Plan) Delta() int {
	return p.NewStock - p.OldStock
}

// PlanStock turns an intent into a new stock value, clamping at zero.
func PlanStock(intent Intent, current, amount int) (Plan, error) {
	if current < 0 {
		return Plan{}, fmt.Errorf("%w: current stock %d is negative", domain.ErrValidation, current)
	}

	var next int
	switch intent {
	case IntentAdd:
		if amount <= 0 {
			return Plan{}, fmt.Errorf("%w: amount to add must be positive", domain.ErrValidation)
		}
		next = current + amount
	case IntentDeduct:
		if amount <= 0 {
			return Plan{}, fmt.Errorf("%w: amount to deduct must be positive", domain.ErrValidation)
		}
		next = current - amount
	case IntentMove:
		if amount == 0 {
			return Plan{}, fmt.Errorf("%w: movement must not be zero", domain.ErrValidation)
		}
		next = current + amount
	default:
		return Plan{}, fmt.Errorf("%w: unknown stock operation %q", domain.ErrValidation, intent)
	}

	plan := Plan{Intent: intent, Amount: amount, OldStock: current, NewStock: next}
	if next < 0 {
		plan.NewStock = 0
		plan.Capped = true
	}
	return plan, nil
}

// ReviewStock is the check a dialog runs before it may leave Editing. It is
// stricter than PlanStock for deductions, which may not exceed the stock on
// hand.
func ReviewStock(intent Intent, current, amount int) (Plan, error) {
	plan, err := PlanStock(intent, current, amount)
	if err != nil {
		return Plan{}, err
	}
	if intent == IntentDeduct && amount > current {
		return Plan{}, fmt.Errorf("%w: cannot deduct %d, only %d in stock", domain.ErrValidation, amount, current)
	}
	return plan, nil
}
