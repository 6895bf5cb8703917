package shopping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homecart/listsync/internal/contracts"
)

// failingRepo wraps a MemoryRepository and fails writes on demand. beforeWrite
// runs just ahead of each item write, standing in for another request that
// lands between the service's checks and its write.
type failingRepo struct {
	*MemoryRepository
	writeErr    error
	deleteErr   error
	writes      int
	beforeWrite func()
}

func (f *failingRepo) write() error {
	f.writes++
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	return f.writeErr
}

func (f *failingRepo) InsertItem(ctx context.Context, item Item) error {
	if err := f.write(); err != nil {
		return err
	}
	return f.MemoryRepository.InsertItem(ctx, item)
}

func (f *failingRepo) SetItemChecked(ctx context.Context, listID, itemID string, checked bool, at time.Time) (Item, error) {
	if err := f.write(); err != nil {
		return Item{}, err
	}
	return f.MemoryRepository.SetItemChecked(ctx, listID, itemID, checked, at)
}

func (f *failingRepo) UpdateItemFields(ctx context.Context, listID, itemID string, fields ItemFields, at time.Time) (Item, error) {
	if err := f.write(); err != nil {
		return Item{}, err
	}
	return f.MemoryRepository.UpdateItemFields(ctx, listID, itemID, fields, at)
}

func (f *failingRepo) DeleteItem(ctx context.Context, listID, itemID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryRepository.DeleteItem(ctx, listID, itemID)
}

var fixedNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newServiceForTests(t *testing.T) (*Service, *failingRepo) {
	t.Helper()
	repo := &failingRepo{MemoryRepository: NewMemoryRepository()}
	ctx := context.Background()
	_ = repo.CreateList(ctx, List{ID: "L1", HouseholdID: "h1", Name: "Weekly"})
	_ = repo.CreateList(ctx, List{ID: "L2", HouseholdID: "h2", Name: "Other"})
	_ = repo.CreateTemplate(ctx, Template{ID: "tpl-milk", HouseholdID: "h1", Name: "Milk", Quantity: 2, Unit: "l", PriceCents: 129})
	_ = repo.CreateTemplate(ctx, Template{ID: "tpl-foreign", HouseholdID: "h2", Name: "Eggs", Quantity: 1})
	_ = repo.MemoryRepository.InsertItem(ctx, Item{ID: "x", ListID: "L1", HouseholdID: "h1", Name: "Bread", Quantity: 1, CreatedAt: fixedNow})

	svc := NewService(repo)
	svc.Now = func() time.Time { return fixedNow }
	svc.NewID = func() string { return "item-new" }
	return svc, repo
}

func TestCommands_EmitOneEventOfHandlerKind(t *testing.T) {
	ctx := context.Background()
	fields := ItemFields{Name: "Apples", Quantity: 3}

	cases := []struct {
		name   string
		run    func(*Service) (Item, contracts.DomainEvent, error)
		kind   contracts.WireKind
		itemID string
	}{
		{"check", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.CheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
		}, contracts.KindItemChecked, "x"},
		{"uncheck", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.UncheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
		}, contracts.KindItemUnchecked, "x"},
		{"add", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItem(ctx, AddItemCommand{HouseholdID: "h1", ListID: "L1", ItemFields: fields})
		}, contracts.KindItemAdded, "item-new"},
		{"add from template", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItemFromTemplate(ctx, AddFromTemplateCommand{HouseholdID: "h1", ListID: "L1", TemplateID: "tpl-milk"})
		}, contracts.KindItemAdded, "item-new"},
		{"update", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.UpdateItem(ctx, UpdateItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x", ItemFields: fields})
		}, contracts.KindItemUpdated, "x"},
		{"remove", func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.RemoveItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
		}, contracts.KindItemRemoved, "x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newServiceForTests(t)
			item, event, err := tc.run(svc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if event == nil {
				t.Fatalf("expected an event")
			}
			want := contracts.ItemRef{HouseholdID: "h1", ListID: "L1", ItemID: tc.itemID}
			if event.Ref() != want {
				t.Fatalf("event ref: want %+v, got %+v", want, event.Ref())
			}
			if got := contracts.Translate(event); got.Kind != tc.kind || got.ItemID != tc.itemID {
				t.Fatalf("unexpected wire event %+v", got)
			}
			if item.ID != tc.itemID {
				t.Fatalf("unexpected item %+v", item)
			}
		})
	}
}

func TestCheckItem_PersistsBeforeEvent(t *testing.T) {
	svc, repo := newServiceForTests(t)
	ctx := context.Background()

	item, _, err := svc.CheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	stored, err := repo.FindItem(ctx, "L1", "x")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !stored.Checked || !item.Checked || !stored.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("check not persisted: %+v", stored)
	}
}

func TestFailures_EmitNoEvent(t *testing.T) {
	ctx := context.Background()
	saveErr := errors.New("db down")

	cases := []struct {
		name    string
		prepare func(*failingRepo)
		run     func(*Service) (Item, contracts.DomainEvent, error)
		want    error
	}{
		{"unknown list", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.CheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "nope", ItemID: "x"})
		}, ErrListNotFound},
		{"unknown item", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.UncheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "nope"})
		}, ErrItemNotFound},
		{"foreign household", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.CheckItem(ctx, ItemCommand{HouseholdID: "h2", ListID: "L1", ItemID: "x"})
		}, ErrHouseholdMismatch},
		{"blank name", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItem(ctx, AddItemCommand{HouseholdID: "h1", ListID: "L1", ItemFields: ItemFields{Name: "  ", Quantity: 1}})
		}, ErrNameRequired},
		{"zero quantity", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.UpdateItem(ctx, UpdateItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x", ItemFields: ItemFields{Name: "Bread"}})
		}, ErrInvalidQuantity},
		{"negative price", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItem(ctx, AddItemCommand{HouseholdID: "h1", ListID: "L1", ItemFields: ItemFields{Name: "Bread", Quantity: 1, PriceCents: -1}})
		}, ErrInvalidPrice},
		{"unknown template", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItemFromTemplate(ctx, AddFromTemplateCommand{HouseholdID: "h1", ListID: "L1", TemplateID: "nope"})
		}, ErrTemplateNotFound},
		{"foreign template", nil, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItemFromTemplate(ctx, AddFromTemplateCommand{HouseholdID: "h1", ListID: "L1", TemplateID: "tpl-foreign"})
		}, ErrTemplateNotFound},
		{"check write fails", func(r *failingRepo) { r.writeErr = saveErr }, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.CheckItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
		}, saveErr},
		{"insert fails", func(r *failingRepo) { r.writeErr = saveErr }, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.AddItem(ctx, AddItemCommand{HouseholdID: "h1", ListID: "L1", ItemFields: ItemFields{Name: "Tea", Quantity: 1}})
		}, saveErr},
		{"update fails", func(r *failingRepo) { r.writeErr = saveErr }, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.UpdateItem(ctx, UpdateItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x", ItemFields: ItemFields{Name: "Rye", Quantity: 1}})
		}, saveErr},
		{"delete fails", func(r *failingRepo) { r.deleteErr = saveErr }, func(s *Service) (Item, contracts.DomainEvent, error) {
			return s.RemoveItem(ctx, ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"})
		}, saveErr},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newServiceForTests(t)
			if tc.prepare != nil {
				tc.prepare(repo)
			}
			_, event, err := tc.run(svc)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			if event != nil {
				t.Fatalf("failure produced event %+v", event)
			}
		})
	}
}

func TestValidationFailsBeforeAnyWrite(t *testing.T) {
	svc, repo := newServiceForTests(t)
	_, _, err := svc.AddItem(context.Background(), AddItemCommand{HouseholdID: "h1", ListID: "L1"})
	if !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if repo.writes != 0 {
		t.Fatalf("invalid command reached the repository")
	}
}

func TestAddItemFromTemplate_CopiesTemplate(t *testing.T) {
	svc, _ := newServiceForTests(t)
	item, _, err := svc.AddItemFromTemplate(context.Background(), AddFromTemplateCommand{HouseholdID: "h1", ListID: "L1", TemplateID: "tpl-milk", Quantity: 5})
	if err != nil {
		t.Fatalf("add from template: %v", err)
	}
	if item.Name != "Milk" || item.Unit != "l" || item.PriceCents != 129 || item.Quantity != 5 || item.TemplateID != "tpl-milk" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestItems_ScopedToHousehold(t *testing.T) {
	svc, _ := newServiceForTests(t)
	if _, err := svc.Items(context.Background(), "h2", "L1"); !errors.Is(err, ErrHouseholdMismatch) {
		t.Fatalf("expected ErrHouseholdMismatch, got %v", err)
	}
	items, err := svc.Items(context.Background(), "h1", "L1")
	if err != nil || len(items) != 1 || items[0].ID != "x" {
		t.Fatalf("unexpected items %+v err=%v", items, err)
	}
}

func TestCheckItem_RemovedConcurrentlyStaysRemoved(t *testing.T) {
	for _, checked := range []bool{true, false} {
		svc, repo := newServiceForTests(t)
		ctx := context.Background()
		repo.beforeWrite = func() {
			if err := repo.MemoryRepository.DeleteItem(ctx, "L1", "x"); err != nil {
				t.Fatalf("delete: %v", err)
			}
		}

		cmd := ItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x"}
		var event contracts.DomainEvent
		var err error
		if checked {
			_, event, err = svc.CheckItem(ctx, cmd)
		} else {
			_, event, err = svc.UncheckItem(ctx, cmd)
		}
		if !errors.Is(err, ErrItemNotFound) {
			t.Fatalf("checked=%v: want ErrItemNotFound, got %v", checked, err)
		}
		if event != nil {
			t.Fatalf("checked=%v: removed item produced event %+v", checked, event)
		}
		if _, err := repo.FindItem(ctx, "L1", "x"); !errors.Is(err, ErrItemNotFound) {
			t.Fatalf("checked=%v: removed item came back, err=%v", checked, err)
		}
	}
}

func TestUpdateItem_RemovedConcurrentlyStaysRemoved(t *testing.T) {
	svc, repo := newServiceForTests(t)
	ctx := context.Background()
	repo.beforeWrite = func() { _ = repo.MemoryRepository.DeleteItem(ctx, "L1", "x") }

	_, event, err := svc.UpdateItem(ctx, UpdateItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x", ItemFields: ItemFields{Name: "Rye", Quantity: 2}})
	if !errors.Is(err, ErrItemNotFound) || event != nil {
		t.Fatalf("want ErrItemNotFound and no event, got err=%v event=%+v", err, event)
	}
	if _, err := repo.FindItem(ctx, "L1", "x"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("removed item came back, err=%v", err)
	}
}

func TestUpdateItem_KeepsConcurrentCheck(t *testing.T) {
	svc, repo := newServiceForTests(t)
	ctx := context.Background()
	repo.beforeWrite = func() {
		if _, err := repo.MemoryRepository.SetItemChecked(ctx, "L1", "x", true, fixedNow); err != nil {
			t.Fatalf("check: %v", err)
		}
	}

	item, _, err := svc.UpdateItem(ctx, UpdateItemCommand{HouseholdID: "h1", ListID: "L1", ItemID: "x", ItemFields: ItemFields{Name: "Rye", Quantity: 2}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, err := repo.FindItem(ctx, "L1", "x")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !stored.Checked || !item.Checked {
		t.Fatalf("edit lost the concurrent check: stored=%+v returned=%+v", stored, item)
	}
	if stored.Name != "Rye" || stored.Quantity != 2 || !stored.CreatedAt.Equal(fixedNow) {
		t.Fatalf("edit not applied as expected: %+v", stored)
	}
}

func TestAddItem_DoesNotReplaceExistingItem(t *testing.T) {
	svc, repo := newServiceForTests(t)
	ctx := context.Background()
	svc.NewID = func() string { return "x" }

	_, event, err := svc.AddItem(ctx, AddItemCommand{HouseholdID: "h1", ListID: "L1", ItemFields: ItemFields{Name: "Dup", Quantity: 1}})
	if err == nil || event != nil {
		t.Fatalf("expected insert conflict without event, got err=%v event=%+v", err, event)
	}
	stored, _ := repo.FindItem(ctx, "L1", "x")
	if stored.Name != "Bread" {
		t.Fatalf("existing item overwritten: %+v", stored)
	}
}
