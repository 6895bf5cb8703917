package shopping

import (
	"context"
	"errors"
	"time"
)

var (
	ErrListNotFound      = errors.New("list not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrNameRequired      = errors.New("name is required")
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrInvalidPrice      = errors.New("price must not be negative")
	ErrHouseholdMismatch = errors.New("list does not belong to household")
)

type List struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Item struct {
	ID          string    `json:"id"`
	ListID      string    `json:"list_id"`
	HouseholdID string    `json:"household_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	Unit        string    `json:"unit,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Notes       string    `json:"notes,omitempty"`
	Checked     bool      `json:"checked"`
	TemplateID  string    `json:"template_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Template is a household's reusable item definition.
type Template struct {
	ID          string `json:"id"`
	HouseholdID string `json:"household_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
	PriceCents  int64  `json:"price_cents"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error

	CreateList(ctx context.Context, list List) error
	FindList(ctx context.Context, listID string) (List, error)

	CreateTemplate(ctx context.Context, tpl Template) error
	FindTemplate(ctx context.Context, templateID string) (Template, error)

	FindItem(ctx context.Context, listID, itemID string) (Item, error)
	ListItems(ctx context.Context, listID string) ([]Item, error)
	InsertItem(ctx context.Context, item Item) error
	// SetItemChecked changes only the checked flag and returns the stored
	// item. A missing item is ErrItemNotFound; it is never recreated.
	SetItemChecked(ctx context.Context, listID, itemID string, checked bool, at time.Time) (Item, error)
	// UpdateItemFields replaces the editable fields, leaving checked as stored.
	UpdateItemFields(ctx context.Context, listID, itemID string, fields ItemFields, at time.Time) (Item, error)
	DeleteItem(ctx context.Context, listID, itemID string) error
}
