package repo

import (
	"context"
	"fmt"
)

// CreateCatalogEntry stores a new reward item.
func (r *PostgresRepository) CreateCatalogEntry(ctx context.Context, e CatalogEntry) (*CatalogEntry, error) {
	const q = `
INSERT INTO catalog_entries (name, kind, cost, chance, stock, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + catalogColumns + `;`
	created, err := scanCatalogEntry(r.pool.QueryRow(ctx, q, e.Name, string(e.Kind), e.Cost, e.Chance, e.Stock, e.IsActive))
	if err != nil {
		return nil, fmt.Errorf("create catalog entry: %w", err)
	}
	return created, nil
}

// GetCatalogEntry retrieves an entry by id.
func (r *PostgresRepository) GetCatalogEntry(ctx context.Context, id int64) (*CatalogEntry, error) {
	e, err := scanCatalogEntry(r.pool.QueryRow(ctx, `SELECT `+catalogColumns+` FROM catalog_entries WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get catalog entry: %w", pgNotFound(err))
	}
	return e, nil
}

// ListCatalog returns entries of kind (all kinds when empty) ordered by id.
func (r *PostgresRepository) ListCatalog(ctx context.Context, kind CatalogKind, offeredOnly bool) ([]CatalogEntry, error) {
	const q = `SELECT ` + catalogColumns + `
FROM catalog_entries
WHERE ($1 = '' OR kind = $1)
  AND (NOT $2 OR (is_active AND stock > 0))
ORDER BY id;`
	rows, err := r.pool.Query(ctx, q, string(kind), offeredOnly)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	return collectCatalog(rows)
}

// DeactivateCatalogEntry hides an entry without deleting its history.
func (r *PostgresRepository) DeactivateCatalogEntry(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `UPDATE catalog_entries SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate catalog entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("deactivate catalog entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCatalogEntry removes an entry. Redemption rows keep a NULL entry reference.
func (r *PostgresRepository) DeleteCatalogEntry(ctx context.Context, id int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM catalog_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delete catalog entry %d: %w", id, ErrNotFound)
	}
	return nil
}
