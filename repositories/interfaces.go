package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/nandth/model-router-ai/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// RequestLogRepository handles request log persistence
type RequestLogRepository interface {
	// Insert stores one request log record
	Insert(ctx context.Context, log *models.RequestLog) error

	// List returns the most recent records first
	List(ctx context.Context, limit, offset int) ([]*models.RequestLog, error)

	// Stats aggregates all records
	Stats(ctx context.Context) (*models.RequestStats, error)
}

// BudgetRepository handles monthly budget persistence
type BudgetRepository interface {
	// GetByMonth returns the row for a calendar month or ErrNotFound
	GetByMonth(ctx context.Context, year, month int) (*models.MonthlyBudget, error)

	// AddSpend adds cost to the month's total and increments its request
	// count, creating the row when absent
	AddSpend(ctx context.Context, year, month int, cost float64, at time.Time) error
}

// Repositories holds all repository instances
type Repositories struct {
	RequestLogs RequestLogRepository
	Budgets     BudgetRepository
}
