package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/repositories"
)

// BudgetRepository implements repositories.BudgetRepository
type BudgetRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *DB, logger *zap.Logger) repositories.BudgetRepository {
	return &BudgetRepository{
		db:     db,
		logger: logger,
	}
}

// GetByMonth returns the row for a calendar month
func (r *BudgetRepository) GetByMonth(ctx context.Context, year, month int) (*models.MonthlyBudget, error) {
	query := r.db.Rebind(`
		SELECT id, year, month, total_spent, request_count, last_updated
		FROM monthly_budgets
		WHERE year = ? AND month = ?
	`)

	b := &models.MonthlyBudget{}
	err := r.db.QueryRowContext(ctx, query, year, month).Scan(
		&b.ID,
		&b.Year,
		&b.Month,
		&b.TotalSpent,
		&b.RequestCount,
		&b.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get monthly budget: %w", err)
	}
	return b, nil
}

// AddSpend upserts the month's row in a single statement so concurrent
// writers never lose an increment
func (r *BudgetRepository) AddSpend(ctx context.Context, year, month int, cost float64, at time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO monthly_budgets (year, month, total_spent, request_count, last_updated)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (year, month) DO UPDATE SET
			total_spent = monthly_budgets.total_spent + excluded.total_spent,
			request_count = monthly_budgets.request_count + 1,
			last_updated = excluded.last_updated
	`)

	if _, err := r.db.ExecContext(ctx, query, year, month, cost, at.UTC()); err != nil {
		return fmt.Errorf("failed to record spend: %w", err)
	}

	r.logger.Debug("budget spend recorded",
		zap.Int("year", year),
		zap.Int("month", month),
		zap.Float64("cost", cost))
	return nil
}
