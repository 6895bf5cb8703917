package shopping

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps everything in process. Used by tests and by the API
// when started without a database.
type MemoryRepository struct {
	mu        sync.RWMutex
	lists     map[string]List
	templates map[string]Template
	items     map[string]Item
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		lists:     map[string]List{},
		templates: map[string]Template{},
		items:     map[string]Item{},
	}
}

func (r *MemoryRepository) EnsureSchema(context.Context) error { return nil }

func (r *MemoryRepository) CreateList(_ context.Context, list List) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[list.ID] = list
	return nil
}

func (r *MemoryRepository) FindList(_ context.Context, listID string) (List, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[listID]
	if !ok {
		return List{}, ErrListNotFound
	}
	return l, nil
}

func (r *MemoryRepository) CreateTemplate(_ context.Context, tpl Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.ID] = tpl
	return nil
}

func (r *MemoryRepository) FindTemplate(_ context.Context, templateID string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[templateID]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return t, nil
}

func (r *MemoryRepository) FindItem(_ context.Context, listID, itemID string) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[itemID]
	if !ok || it.ListID != listID {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (r *MemoryRepository) ListItems(_ context.Context, listID string) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Item{}
	for _, it := range r.items {
		if it.ListID == listID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) InsertItem(_ context.Context, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[item.ID]; exists {
		return fmt.Errorf("item %q already exists", item.ID)
	}
	r.items[item.ID] = item
	return nil
}

func (r *MemoryRepository) SetItemChecked(_ context.Context, listID, itemID string, checked bool, at time.Time) (Item, error) {
	return r.updateItem(listID, itemID, func(it *Item) {
		it.Checked = checked
		it.UpdatedAt = at
	})
}

func (r *MemoryRepository) UpdateItemFields(_ context.Context, listID, itemID string, fields ItemFields, at time.Time) (Item, error) {
	return r.updateItem(listID, itemID, func(it *Item) {
		it.Name = fields.Name
		it.Quantity = fields.Quantity
		it.Unit = fields.Unit
		it.PriceCents = fields.PriceCents
		it.Notes = fields.Notes
		it.UpdatedAt = at
	})
}

func (r *MemoryRepository) updateItem(listID, itemID string, apply func(*Item)) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.ListID != listID {
		return Item{}, ErrItemNotFound
	}
	apply(&it)
	r.items[itemID] = it
	return it, nil
}

func (r *MemoryRepository) DeleteItem(_ context.Context, listID, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.ListID != listID {
		return ErrItemNotFound
	}
	delete(r.items, itemID)
	return nil
}
