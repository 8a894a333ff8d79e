package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columns = `user_id, email, theme, notify_low_stock, notify_out_of_stock, notify_weekly_report,
default_category, default_unit, low_stock_threshold, created_at, updated_at`

// PostgresRepository stores preferences in the user_preferences table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scan(row pgx.Row) (Preferences, error) {
	var p Preferences
	err := row.Scan(&p.UserID, &p.Email, &p.Theme,
		&p.Notifications.LowStock, &p.Notifications.OutOfStock, &p.Notifications.WeeklyReport,
		&p.Inventory.DefaultCategory, &p.Inventory.DefaultUnit, &p.Inventory.LowStockThreshold,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Preferences{}, ErrNotFound
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("preferences: scan: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func args(p Preferences) []any {
	return []any{p.UserID, p.Email, p.Theme,
		p.Notifications.LowStock, p.Notifications.OutOfStock, p.Notifications.WeeklyReport,
		p.Inventory.DefaultCategory, p.Inventory.DefaultUnit, p.Inventory.LowStockThreshold,
		p.CreatedAt, p.UpdatedAt}
}

// Get loads the preferences of userID.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (Preferences, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM user_preferences WHERE user_id = $1`, userID))
}

// Insert stores p when absent and returns the stored row.
func (r *PostgresRepository) Insert(ctx context.Context, p Preferences) (Preferences, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_preferences (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (user_id) DO NOTHING`, args(p)...)
	if err != nil {
		return Preferences{}, fmt.Errorf("preferences: insert: %w", err)
	}
	return r.Get(ctx, p.UserID)
}

// Save upserts p.
func (r *PostgresRepository) Save(ctx context.Context, p Preferences) (Preferences, error) {
	return scan(r.pool.QueryRow(ctx, `INSERT INTO user_preferences (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (user_id) DO UPDATE SET
    theme = EXCLUDED.theme,
    notify_low_stock = EXCLUDED.notify_low_stock,
    notify_out_of_stock = EXCLUDED.notify_out_of_stock,
    notify_weekly_report = EXCLUDED.notify_weekly_report,
    default_category = EXCLUDED.default_category,
    default_unit = EXCLUDED.default_unit,
    low_stock_threshold = EXCLUDED.low_stock_threshold,
    updated_at = EXCLUDED.updated_at
RETURNING `+columns, args(p)...))
}

// UpdateEmail sets the email of an existing row.
func (r *PostgresRepository) UpdateEmail(ctx context.Context, userID, email string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE user_preferences SET email = $2, updated_at = $3 WHERE user_id = $1`, userID, email, at)
	if err != nil {
		return fmt.Errorf("preferences: update email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row of userID.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("preferences: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
