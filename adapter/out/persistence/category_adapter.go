package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"mailsift/core/domain"
	"mailsift/core/port/out"
)

// CategoryAdapter implements out.CategoryRepository using PostgreSQL.
type CategoryAdapter struct {
	db *sqlx.DB
}

// NewCategoryAdapter creates a new CategoryAdapter.
func NewCategoryAdapter(db *sqlx.DB) *CategoryAdapter {
	return &CategoryAdapter{db: db}
}

// ListByAccount returns the account's categories, oldest first.
func (a *CategoryAdapter) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Category, error) {
	var categories []domain.Category
	query := `
		SELECT id, account_id, name, description, created_at
		FROM categories
		WHERE account_id = $1
		ORDER BY created_at`

	if err := a.db.SelectContext(ctx, &categories, query, accountID); err != nil {
		return nil, err
	}
	return categories, nil
}

// GetByID returns a category by ID.
func (a *CategoryAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	var category domain.Category
	query := `
		SELECT id, account_id, name, description, created_at
		FROM categories
		WHERE id = $1`

	if err := a.db.GetContext(ctx, &category, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &category, nil
}

// Create inserts a new category.
func (a *CategoryAdapter) Create(ctx context.Context, category *domain.Category) error {
	query := `
		INSERT INTO categories (id, account_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := a.db.ExecContext(ctx, query,
		category.ID,
		category.AccountID,
		category.Name,
		category.Description,
		category.CreatedAt,
	)
	return err
}

// Update renames or redescribes an existing category.
func (a *CategoryAdapter) Update(ctx context.Context, category *domain.Category) error {
	query := `
		UPDATE categories
		SET name = $1, description = $2
		WHERE id = $3`

	result, err := a.db.ExecContext(ctx, query, category.Name, category.Description, category.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the category and orphans its emails in one transaction.
// Emails keep their rows with category_id cleared, they are never deleted.
func (a *CategoryAdapter) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE emails SET category_id = NULL WHERE category_id = $1`, id); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Ensure CategoryAdapter implements out.CategoryRepository
var _ out.CategoryRepository = (*CategoryAdapter)(nil)
