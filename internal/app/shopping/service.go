// Package shopping applies changes to shopping-list items. Every successful
// item change yields exactly one domain event describing it.
package shopping

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nuid"

	"github.com/homecart/listsync/internal/contracts"
)

type Service struct {
	Repo  Repository
	Now   func() time.Time
	NewID func() string
}

func NewService(repo Repository) *Service {
	return &Service{
		Repo:  repo,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: nuid.Next,
	}
}

// ItemCommand addresses one existing item.
type ItemCommand struct {
	HouseholdID string
	ListID      string
	ItemID      string
}

type ItemFields struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Unit       string `json:"unit"`
	PriceCents int64  `json:"price_cents"`
	Notes      string `json:"notes"`
}

type AddItemCommand struct {
	HouseholdID string
	ListID      string
	ItemFields
}

type AddFromTemplateCommand struct {
	HouseholdID string
	ListID      string
	TemplateID  string
	// Quantity overrides the template's when positive.
	Quantity int
}

type UpdateItemCommand struct {
	HouseholdID string
	ListID      string
	ItemID      string
	ItemFields
}

func (f ItemFields) normalized() (ItemFields, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.Unit = strings.TrimSpace(f.Unit)
	f.Notes = strings.TrimSpace(f.Notes)
	if f.Name == "" {
		return f, ErrNameRequired
	}
	if f.Quantity < 1 {
		return f, ErrInvalidQuantity
	}
	if f.PriceCents < 0 {
		return f, ErrInvalidPrice
	}
	return f, nil
}

func ref(item Item) contracts.ItemRef {
	return contracts.ItemRef{HouseholdID: item.HouseholdID, ListID: item.ListID, ItemID: item.ID}
}

// List returns listID after checking it belongs to householdID.
func (s *Service) List(ctx context.Context, householdID, listID string) (List, error) {
	list, err := s.Repo.FindList(ctx, strings.TrimSpace(listID))
	if err != nil {
		return List{}, err
	}
	if list.HouseholdID != strings.TrimSpace(householdID) {
		return List{}, ErrHouseholdMismatch
	}
	return list, nil
}

func (s *Service) CreateList(ctx context.Context, householdID, name string) (List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return List{}, ErrNameRequired
	}
	list := List{
		ID:          s.NewID(),
		HouseholdID: strings.TrimSpace(householdID),
		Name:        name,
		CreatedAt:   s.Now(),
	}
	if err := s.Repo.CreateList(ctx, list); err != nil {
		return List{}, err
	}
	return list, nil
}

func (s *Service) CreateTemplate(ctx context.Context, householdID string, fields ItemFields) (Template, error) {
	fields, err := fields.normalized()
	if err != nil {
		return Template{}, err
	}
	tpl := Template{
		ID:          s.NewID(),
		HouseholdID: strings.TrimSpace(householdID),
		Name:        fields.Name,
		Quantity:    fields.Quantity,
		Unit:        fields.Unit,
		PriceCents:  fields.PriceCents,
	}
	if err := s.Repo.CreateTemplate(ctx, tpl); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (s *Service) Items(ctx context.Context, householdID, listID string) ([]Item, error) {
	list, err := s.List(ctx, householdID, listID)
	if err != nil {
		return nil, err
	}
	return s.Repo.ListItems(ctx, list.ID)
}

func (s *Service) item(ctx context.Context, cmd ItemCommand) (Item, error) {
	list, err := s.List(ctx, cmd.HouseholdID, cmd.ListID)
	if err != nil {
		return Item{}, err
	}
	return s.Repo.FindItem(ctx, list.ID, strings.TrimSpace(cmd.ItemID))
}

// setChecked writes only the flag, so a concurrent edit is kept and a
// concurrently removed item stays removed.
func (s *Service) setChecked(ctx context.Context, cmd ItemCommand, checked bool) (Item, error) {
	list, err := s.List(ctx, cmd.HouseholdID, cmd.ListID)
	if err != nil {
		return Item{}, err
	}
	return s.Repo.SetItemChecked(ctx, list.ID, strings.TrimSpace(cmd.ItemID), checked, s.Now())
}

func (s *Service) CheckItem(ctx context.Context, cmd ItemCommand) (Item, contracts.DomainEvent, error) {
	item, err := s.setChecked(ctx, cmd, true)
	if err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemChecked{ItemRef: ref(item)}, nil
}

func (s *Service) UncheckItem(ctx context.Context, cmd ItemCommand) (Item, contracts.DomainEvent, error) {
	item, err := s.setChecked(ctx, cmd, false)
	if err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemUnchecked{ItemRef: ref(item)}, nil
}

func (s *Service) AddItem(ctx context.Context, cmd AddItemCommand) (Item, contracts.DomainEvent, error) {
	fields, err := cmd.ItemFields.normalized()
	if err != nil {
		return Item{}, nil, err
	}
	list, err := s.List(ctx, cmd.HouseholdID, cmd.ListID)
	if err != nil {
		return Item{}, nil, err
	}

	now := s.Now()
	item := Item{
		ID:          s.NewID(),
		ListID:      list.ID,
		HouseholdID: list.HouseholdID,
		Name:        fields.Name,
		Quantity:    fields.Quantity,
		Unit:        fields.Unit,
		PriceCents:  fields.PriceCents,
		Notes:       fields.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.InsertItem(ctx, item); err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemAdded{ItemRef: ref(item)}, nil
}

func (s *Service) AddItemFromTemplate(ctx context.Context, cmd AddFromTemplateCommand) (Item, contracts.DomainEvent, error) {
	if cmd.Quantity < 0 {
		return Item{}, nil, ErrInvalidQuantity
	}
	list, err := s.List(ctx, cmd.HouseholdID, cmd.ListID)
	if err != nil {
		return Item{}, nil, err
	}
	tpl, err := s.Repo.FindTemplate(ctx, strings.TrimSpace(cmd.TemplateID))
	if err != nil {
		return Item{}, nil, err
	}
	// Templates of other households are reported as missing.
	if tpl.HouseholdID != list.HouseholdID {
		return Item{}, nil, ErrTemplateNotFound
	}

	quantity := tpl.Quantity
	if cmd.Quantity > 0 {
		quantity = cmd.Quantity
	}
	now := s.Now()
	item := Item{
		ID:          s.NewID(),
		ListID:      list.ID,
		HouseholdID: list.HouseholdID,
		Name:        tpl.Name,
		Quantity:    max(quantity, 1),
		Unit:        tpl.Unit,
		PriceCents:  tpl.PriceCents,
		TemplateID:  tpl.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.InsertItem(ctx, item); err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemAdded{ItemRef: ref(item)}, nil
}

func (s *Service) UpdateItem(ctx context.Context, cmd UpdateItemCommand) (Item, contracts.DomainEvent, error) {
	fields, err := cmd.ItemFields.normalized()
	if err != nil {
		return Item{}, nil, err
	}
	list, err := s.List(ctx, cmd.HouseholdID, cmd.ListID)
	if err != nil {
		return Item{}, nil, err
	}
	item, err := s.Repo.UpdateItemFields(ctx, list.ID, strings.TrimSpace(cmd.ItemID), fields, s.Now())
	if err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemUpdated{ItemRef: ref(item)}, nil
}

func (s *Service) RemoveItem(ctx context.Context, cmd ItemCommand) (Item, contracts.DomainEvent, error) {
	item, err := s.item(ctx, cmd)
	if err != nil {
		return Item{}, nil, err
	}
	if err := s.Repo.DeleteItem(ctx, item.ListID, item.ID); err != nil {
		return Item{}, nil, err
	}
	return item, contracts.ItemRemoved{ItemRef: ref(item)}, nil
}
