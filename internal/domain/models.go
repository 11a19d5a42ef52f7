package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================
// API response types (matches the mobile/web clients)
// ============================================================

// Money renders a decimal as a JSON number with two decimal places.
func Money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// TransactionResponse is one row of GET /transactions and the dashboard.
// Virtual rows carry no id; clients address them through OccurrenceRef.
type TransactionResponse struct {
	ID               string      `json:"id,omitempty"`
	OccurrenceRef    string      `json:"occurrenceRef"`
	Type             string      `json:"type"`
	Amount           json.Number `json:"amount"`
	Description      string      `json:"description"`
	Category         string      `json:"category"`
	CategoryIcon     string      `json:"categoryIcon"`
	Date             string      `json:"date"`
	PaymentMethod    string      `json:"paymentMethod"`
	Bank             string      `json:"bank,omitempty"`
	CreditCard       string      `json:"creditCard,omitempty"`
	SeriesKind       string      `json:"seriesKind"`
	SeriesParentID   string      `json:"seriesParentId,omitempty"`
	OccurrenceIndex  int         `json:"occurrenceIndex,omitempty"`
	TotalOccurrences int         `json:"totalOccurrences,omitempty"`
	Installment      string      `json:"installment,omitempty"` // "3/12"
	IsRecurring      bool        `json:"isRecurring"`
	IsInstallment    bool        `json:"isInstallment"`
	IsVirtual        bool        `json:"isVirtual"`
	Diverged         bool        `json:"diverged"`
}

// NewTransactionResponse maps a normalized transaction to its wire shape.
func NewTransactionResponse(t Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:             t.ID,
		OccurrenceRef:  t.Ref(),
		Type:           string(t.Type),
		Amount:         Money(t.Amount),
		Description:    t.Description,
		Category:       t.Category,
		CategoryIcon:   CategoryIcon(t.Category),
		Date:           t.Date.String(),
		PaymentMethod:  string(t.PaymentMethod),
		Bank:           t.BankID,
		CreditCard:     t.CreditCardID,
		SeriesKind:     string(t.SeriesKind),
		SeriesParentID: t.SeriesParentID,
		IsRecurring:    t.SeriesKind.IsRecurring(),
		IsInstallment:  t.SeriesKind.IsInstallment(),
		IsVirtual:      t.IsVirtual,
		Diverged:       t.Diverged,
	}
	if t.SeriesKind.IsInstallment() {
		resp.OccurrenceIndex = t.OccurrenceIndex
		resp.TotalOccurrences = t.TotalOccurrences
		if t.OccurrenceIndex > 0 {
			resp.Installment = fmt.Sprintf("%d/%d", t.OccurrenceIndex, t.TotalOccurrences)
		}
	}
	return resp
}

// NewTransactionResponses maps a slice, never returning nil.
func NewTransactionResponses(txs []Transaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, NewTransactionResponse(t))
	}
	return out
}

// MonthResponse is returned by GET /transactions?month&year.
type MonthResponse struct {
	Month        int                    `json:"month"`
	Year         int                    `json:"year"`
	Transactions []TransactionResponse  `json:"transactions"`
	Warnings     []DataIntegrityWarning `json:"warnings,omitempty"`
}

// SettlementResponse is returned by POST /fix-recurring-transactions.
type SettlementResponse struct {
	Settled int    `json:"settled"`
	Message string `json:"message"`
}

// ============================================================
// Dashboard
// ============================================================

// Dashboard aggregates one month of materialized transactions.
type Dashboard struct {
	Window                  Window
	TotalIncome             decimal.Decimal
	TotalExpense            decimal.Decimal
	ExpensesByCategory      []CategoryTotal
	ExpensesByPaymentMethod []PaymentMethodTotal
	Recent                  []Transaction
	Warnings                []DataIntegrityWarning
}

// CategoryTotal is the expense total for one category.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// PaymentMethodTotal is the expense total for one payment method.
type PaymentMethodTotal struct {
	PaymentMethod PaymentMethod
	Total         decimal.Decimal
}

// DashboardResponse is returned by GET /dashboard?month&year.
type DashboardResponse struct {
	Month                   int                    `json:"month"`
	Year                    int                    `json:"year"`
	TotalIncome             json.Number            `json:"totalIncome"`
	TotalExpense            json.Number            `json:"totalExpense"`
	Balance                 json.Number            `json:"balance"`
	ExpensesByCategory      []CategoryTotalJSON    `json:"expensesByCategory"`
	ExpensesByPaymentMethod []CategoryTotalJSON    `json:"expensesByPaymentMethod"`
	RecentTransactions      []TransactionResponse  `json:"recentTransactions"`
	Warnings                []DataIntegrityWarning `json:"warnings,omitempty"`
}

// CategoryTotalJSON is a labelled total on the wire.
type CategoryTotalJSON struct {
	Label string      `json:"label"`
	Icon  string      `json:"icon,omitempty"`
	Total json.Number `json:"total"`
}

// NewDashboardResponse maps the dashboard to its wire shape.
func NewDashboardResponse(d *Dashboard) DashboardResponse {
	resp := DashboardResponse{
		Month:                   int(d.Window.Month),
		Year:                    d.Window.Year,
		TotalIncome:             Money(d.TotalIncome),
		TotalExpense:            Money(d.TotalExpense),
		Balance:                 Money(d.TotalIncome.Sub(d.TotalExpense)),
		ExpensesByCategory:      make([]CategoryTotalJSON, 0, len(d.ExpensesByCategory)),
		ExpensesByPaymentMethod: make([]CategoryTotalJSON, 0, len(d.ExpensesByPaymentMethod)),
		RecentTransactions:      NewTransactionResponses(d.Recent),
		Warnings:                d.Warnings,
	}
	for _, c := range d.ExpensesByCategory {
		resp.ExpensesByCategory = append(resp.ExpensesByCategory, CategoryTotalJSON{
			Label: c.Category,
			Icon:  CategoryIcon(c.Category),
			Total: Money(c.Total),
		})
	}
	for _, p := range d.ExpensesByPaymentMethod {
		resp.ExpensesByPaymentMethod = append(resp.ExpensesByPaymentMethod, CategoryTotalJSON{
			Label: string(p.PaymentMethod),
			Total: Money(p.Total),
		})
	}
	return resp
}
