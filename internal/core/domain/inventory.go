package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LowStockThreshold flags items whose stock has fallen below this many units.
// It is a display concern only and is never persisted per item.
const LowStockThreshold = 1000

type Category string

const (
	CategoryFeeds Category = "feeds"
	CategoryFlour Category = "flour"
)

var categories = []Category{CategoryFeeds, CategoryFlour}

// Categories returns the closed set of item categories.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
	}
	return c, nil
}

// UnmarshalJSON accepts the spellings ParseCategory accepts. An empty string
// decodes to the empty Category, which Valid rejects where one is required.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: category must be a string", ErrValidation)
	}
	if s == "" {
		*c = ""
		return nil
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SKU          string    `json:"sku"`
	Category     Category  `json:"category"`
	CurrentStock int       `json:"currentStock"`
	Version      int       `json:"version"` // bumped on every write
	InsertedAt   time.Time `json:"insertedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UpdatedBy    *string   `json:"updatedBy"`
}

// IsLowStock reports whether the item is below LowStockThreshold.
func (i Item) IsLowStock() bool {
	return i.CurrentStock < LowStockThreshold
}

// NewItem carries the fields needed to create an item.
type NewItem struct {
	Name         string   `json:"name"`
	SKU          string   `json:"sku"`
	Category     Category `json:"category"`
	CurrentStock int      `json:"currentStock"`
}

func (n NewItem) Validate() error {
	if err := (Details{Name: &n.Name, SKU: &n.SKU, Category: &n.Category}).Validate(); err != nil {
		return err
	}
	if n.CurrentStock < 0 {
		return fmt.Errorf("%w: currentStock must not be negative", ErrValidation)
	}
	return nil
}

// Details is a partial update of the non-ledger fields of an item.
// Nil fields are left unchanged.
type Details struct {
	Name     *string   `json:"name,omitempty"`
	SKU      *string   `json:"sku,omitempty"`
	Category *Category `json:"category,omitempty"`
}

func (d Details) Empty() bool {
	return d.Name == nil && d.SKU == nil && d.Category == nil
}

func (d Details) Validate() error {
	if d.Name != nil && strings.TrimSpace(*d.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if d.SKU != nil && strings.TrimSpace(*d.SKU) == "" {
		return fmt.Errorf("%w: sku must not be empty", ErrValidation)
	}
	if d.Category != nil && !d.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, *d.Category)
	}
	return nil
}

// Apply returns a copy of item with the non-nil fields of d applied.
func (d Details) Apply(item Item) Item {
	if d.Name != nil {
		item.Name = strings.TrimSpace(*d.Name)
	}
	if d.SKU != nil {
		item.SKU = strings.TrimSpace(*d.SKU)
	}
	if d.Category != nil {
		item.Category = *d.Category
	}
	return item
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ItemQuery selects one page of the catalog, newest first.
type ItemQuery struct {
	Page     int
	PageSize int
	Category Category // empty means all categories
}

func (q ItemQuery) Validate() error {
	if q.Page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrValidation)
	}
	if q.PageSize <= 0 || q.PageSize > MaxPageSize {
		return fmt.Errorf("%w: pageSize must be between 1 and %d", ErrValidation, MaxPageSize)
	}
	if q.Category != "" && !q.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, q.Category)
	}
	return nil
}

func (q ItemQuery) Offset() int {
	return q.Page * q.PageSize
}

// Matches reports whether item belongs to the filtered set selected by q.
func (q ItemQuery) Matches(item Item) bool {
	return q.Category == "" || item.Category == q.Category
}

// ItemPage is one page of items plus the size of the whole filtered catalog.
type ItemPage struct {
	Data  []Item `json:"data"`
	Count int    `json:"count"`
}
