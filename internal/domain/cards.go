package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Credit cards (reference data for crédito)
// ============================================================

// CreditCard is referenced by credit transactions.
type CreditCard struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Name       string          `json:"name"`
	Brand      string          `json:"brand,omitempty"` // Visa, Mastercard, Elo
	Limit      decimal.Decimal `json:"limit"`
	ClosingDay int             `json:"closingDay"`
	DueDay     int             `json:"dueDay"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// CreditCardRequest is the body for POST/PUT /credit-cards.
type CreditCardRequest struct {
	Name       string          `json:"name"`
	Brand      string          `json:"brand,omitempty"`
	Limit      decimal.Decimal `json:"limit"`
	ClosingDay int             `json:"closingDay"`
	DueDay     int             `json:"dueDay"`
}

// Validate checks the request and trims its fields.
func (r *CreditCardRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Brand = strings.TrimSpace(r.Brand)
	if r.Name == "" {
		return &ErrValidation{Field: "name", Message: "nome do cartão é obrigatório"}
	}
	if r.Limit.IsNegative() {
		return &ErrValidation{Field: "limit", Message: "limite não pode ser negativo"}
	}
	if r.ClosingDay < 1 || r.ClosingDay > 31 {
		return &ErrValidation{Field: "closingDay", Message: "dia de fechamento deve estar entre 1 e 31"}
	}
	if r.DueDay < 1 || r.DueDay > 31 {
		return &ErrValidation{Field: "dueDay", Message: "dia de vencimento deve estar entre 1 e 31"}
	}
	return nil
}
