package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
	Count  int
}

// MonthTotals is the income/expense split for one calendar month.
type MonthTotals struct {
	Year    int
	Month   int // 1-12
	Income  decimal.Decimal
	Expense decimal.Decimal
	Count   int
}

// Net returns income minus expenses.
func (m MonthTotals) Net() decimal.Decimal {
	return m.Income.Sub(m.Expense)
}
