package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

const recentTransactions = 5

// Dashboard aggregates the materialized month: virtual occurrences count the
// same as stored rows, so a recurring rent shows up before it is settled.
func (s *TransactionService) Dashboard(ctx context.Context, userID string, w domain.Window) (*domain.Dashboard, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Dashboard")
	defer span.End()

	res, err := s.ListMonth(ctx, userID, w)
	if err != nil {
		return nil, err
	}
	return summarize(w, res.Transactions(), res.Warnings), nil
}

func summarize(w domain.Window, txs []domain.Transaction, warnings []domain.DataIntegrityWarning) *domain.Dashboard {
	d := &domain.Dashboard{
		Window:       w,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		Warnings:     warnings,
	}

	byCategory := make(map[string]decimal.Decimal)
	byMethod := make(map[domain.PaymentMethod]decimal.Decimal)
	for _, t := range txs {
		if t.Type == domain.TransactionIncome {
			d.TotalIncome = d.TotalIncome.Add(t.Amount)
			continue
		}
		d.TotalExpense = d.TotalExpense.Add(t.Amount)
		category := t.Category
		if category == "" {
			category = "Outros"
		}
		byCategory[category] = byCategory[category].Add(t.Amount)
		byMethod[t.PaymentMethod] = byMethod[t.PaymentMethod].Add(t.Amount)
	}

	for c, total := range byCategory {
		d.ExpensesByCategory = append(d.ExpensesByCategory, domain.CategoryTotal{Category: c, Total: total})
	}
	sort.Slice(d.ExpensesByCategory, func(i, j int) bool {
		a, b := d.ExpensesByCategory[i], d.ExpensesByCategory[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Category < b.Category
	})

	for m, total := range byMethod {
		d.ExpensesByPaymentMethod = append(d.ExpensesByPaymentMethod, domain.PaymentMethodTotal{PaymentMethod: m, Total: total})
	}
	sort.Slice(d.ExpensesByPaymentMethod, func(i, j int) bool {
		a, b := d.ExpensesByPaymentMethod[i], d.ExpensesByPaymentMethod[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.PaymentMethod < b.PaymentMethod
	})

	if len(txs) > recentTransactions {
		txs = txs[:recentTransactions]
	}
	d.Recent = txs
	return d
}
