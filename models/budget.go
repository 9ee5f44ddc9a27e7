package models

import (
	"time"
)

// MonthlyBudget tracks spend for one calendar month
type MonthlyBudget struct {
	ID           int64     `json:"id" db:"id"`
	Year         int       `json:"year" db:"year"`
	Month        int       `json:"month" db:"month"`
	TotalSpent   float64   `json:"total_spent" db:"total_spent"`
	RequestCount int64     `json:"request_count" db:"request_count"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}

// TableName returns the table name for the MonthlyBudget model
func (MonthlyBudget) TableName() string {
	return "monthly_budgets"
}

// NewMonthlyBudget creates an empty budget row for the month containing t
func NewMonthlyBudget(t time.Time) *MonthlyBudget {
	t = t.UTC()
	return &MonthlyBudget{
		Year:        t.Year(),
		Month:       int(t.Month()),
		LastUpdated: t,
	}
}

// BudgetStatus is the caller-facing view of the current month
type BudgetStatus struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	Limit          float64 `json:"limit"`
	Spent          float64 `json:"spent"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	RequestCount   int64   `json:"request_count"`
	Enforced       bool    `json:"enforced"`
}

// NewBudgetStatus derives remaining and percentage used from a budget row
func NewBudgetStatus(b *MonthlyBudget, limit float64, enforced bool) BudgetStatus {
	status := BudgetStatus{
		Year:         b.Year,
		Month:        b.Month,
		Limit:        limit,
		Spent:        b.TotalSpent,
		RequestCount: b.RequestCount,
		Enforced:     enforced,
	}
	status.Remaining = limit - b.TotalSpent
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if limit > 0 {
		status.PercentageUsed = b.TotalSpent / limit * 100
	}
	return status
}
