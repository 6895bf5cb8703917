package shopping

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createListsTableSQL = `
CREATE TABLE IF NOT EXISTS shopping_lists (
  list_id text PRIMARY KEY,
  household_id text NOT NULL,
  name text NOT NULL,
  created_at timestamptz NOT NULL
)`

const createListsHouseholdIndexSQL = `
CREATE INDEX IF NOT EXISTS shopping_lists_household_idx ON shopping_lists (household_id)`

const createTemplatesTableSQL = `
CREATE TABLE IF NOT EXISTS item_templates (
  template_id text PRIMARY KEY,
  household_id text NOT NULL,
  name text NOT NULL,
  quantity integer NOT NULL DEFAULT 1,
  unit text NOT NULL DEFAULT '',
  price_cents bigint NOT NULL DEFAULT 0
)`

const createItemsTableSQL = `
CREATE TABLE IF NOT EXISTS list_items (
  item_id text PRIMARY KEY,
  list_id text NOT NULL REFERENCES shopping_lists (list_id) ON DELETE CASCADE,
  household_id text NOT NULL,
  name text NOT NULL,
  quantity integer NOT NULL,
  unit text NOT NULL DEFAULT '',
  price_cents bigint NOT NULL DEFAULT 0,
  notes text NOT NULL DEFAULT '',
  checked boolean NOT NULL DEFAULT false,
  template_id text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createItemsListIndexSQL = `
CREATE INDEX IF NOT EXISTS list_items_list_idx ON list_items (list_id, created_at)`

const itemColumns = `item_id, list_id, household_id, name, quantity, unit, price_cents,
       notes, checked, template_id, created_at, updated_at`

const insertItemSQL = `
INSERT INTO list_items (` + itemColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const setItemCheckedSQL = `
UPDATE list_items
SET checked = $3, updated_at = $4
WHERE list_id = $1 AND item_id = $2
RETURNING ` + itemColumns

const updateItemFieldsSQL = `
UPDATE list_items
SET name = $3, quantity = $4, unit = $5, price_cents = $6, notes = $7, updated_at = $8
WHERE list_id = $1 AND item_id = $2
RETURNING ` + itemColumns

const selectItemColumns = `
SELECT ` + itemColumns + `
FROM list_items`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createListsTableSQL,
		createListsHouseholdIndexSQL,
		createTemplatesTableSQL,
		createItemsTableSQL,
		createItemsListIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) CreateList(ctx context.Context, list List) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO shopping_lists (list_id, household_id, name, created_at)
		 VALUES ($1, $2, $3, $4)`,
		list.ID, list.HouseholdID, list.Name, list.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) FindList(ctx context.Context, listID string) (List, error) {
	var l List
	err := r.Pool.QueryRow(ctx,
		`SELECT list_id, household_id, name, created_at
		 FROM shopping_lists
		 WHERE list_id = $1`,
		listID,
	).Scan(&l.ID, &l.HouseholdID, &l.Name, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return List{}, ErrListNotFound
		}
		return List{}, err
	}
	return l, nil
}

func (r *PostgresRepository) CreateTemplate(ctx context.Context, tpl Template) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO item_templates (template_id, household_id, name, quantity, unit, price_cents)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tpl.ID, tpl.HouseholdID, tpl.Name, tpl.Quantity, tpl.Unit, tpl.PriceCents,
	)
	return err
}

func (r *PostgresRepository) FindTemplate(ctx context.Context, templateID string) (Template, error) {
	var t Template
	err := r.Pool.QueryRow(ctx,
		`SELECT template_id, household_id, name, quantity, unit, price_cents
		 FROM item_templates
		 WHERE template_id = $1`,
		templateID,
	).Scan(&t.ID, &t.HouseholdID, &t.Name, &t.Quantity, &t.Unit, &t.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, err
	}
	return t, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(
		&it.ID,
		&it.ListID,
		&it.HouseholdID,
		&it.Name,
		&it.Quantity,
		&it.Unit,
		&it.PriceCents,
		&it.Notes,
		&it.Checked,
		&it.TemplateID,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	return it, err
}

func (r *PostgresRepository) FindItem(ctx context.Context, listID, itemID string) (Item, error) {
	return itemOrNotFound(scanItem(r.Pool.QueryRow(ctx, selectItemColumns+`
		 WHERE list_id = $1 AND item_id = $2`,
		listID, itemID,
	)))
}

func (r *PostgresRepository) ListItems(ctx context.Context, listID string) ([]Item, error) {
	rows, err := r.Pool.Query(ctx, selectItemColumns+`
		 WHERE list_id = $1
		 ORDER BY created_at, item_id`,
		listID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := r.Pool.Exec(ctx, insertItemSQL,
		item.ID,
		item.ListID,
		item.HouseholdID,
		item.Name,
		item.Quantity,
		item.Unit,
		item.PriceCents,
		item.Notes,
		item.Checked,
		item.TemplateID,
		item.CreatedAt,
		item.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) SetItemChecked(ctx context.Context, listID, itemID string, checked bool, at time.Time) (Item, error) {
	return itemOrNotFound(scanItem(r.Pool.QueryRow(ctx, setItemCheckedSQL, listID, itemID, checked, at)))
}

func (r *PostgresRepository) UpdateItemFields(ctx context.Context, listID, itemID string, fields ItemFields, at time.Time) (Item, error) {
	return itemOrNotFound(scanItem(r.Pool.QueryRow(ctx, updateItemFieldsSQL,
		listID, itemID,
		fields.Name, fields.Quantity, fields.Unit, fields.PriceCents, fields.Notes,
		at,
	)))
}

func itemOrNotFound(it Item, err error) (Item, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func (r *PostgresRepository) DeleteItem(ctx context.Context, listID, itemID string) error {
	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM list_items WHERE list_id = $1 AND item_id = $2`,
		listID, itemID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}
