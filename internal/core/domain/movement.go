package domain

import (
	"fmt"
	"time"
)

// Movement is an immutable audit record of one change to an item's stock.
type Movement struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"itemId"`
	QuantityChange int       `json:"quantityChange"`
	PerformedBy    *string   `json:"performedBy"`
	PerformedAt    time.Time `json:"performedAt"`
}

// StockUpdate asks the ledger to set an item's stock to NewStock.
// When ExpectedStock is set the write only succeeds if the stored stock
// still equals it.
type StockUpdate struct {
	NewStock      int  `json:"currentStock"`
	ExpectedStock *int `json:"expectedStock,omitempty"`
}

func (u StockUpdate) Validate() error {
	if u.NewStock < 0 {
		return fmt.Errorf("%w: currentStock must not be negative", ErrValidation)
	}
	if u.ExpectedStock != nil && *u.ExpectedStock < 0 {
		return fmt.Errorf("%w: expectedStock must not be negative", ErrValidation)
	}
	return nil
}

// ItemPatch combines a stock update and a details update. Either part may be
// absent but not both.
type ItemPatch struct {
	Stock   *StockUpdate
	Details Details
}

func (p ItemPatch) Validate() error {
	if p.Stock == nil && p.Details.Empty() {
		return fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if p.Stock != nil {
		if err := p.Stock.Validate(); err != nil {
			return err
		}
	}
	return p.Details.Validate()
}
