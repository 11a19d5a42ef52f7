package domain

import (
	"strings"
	"time"
)

// ============================================================
// Bank accounts (reference data for PIX / débito)
// ============================================================

// Bank is a user's bank account, referenced by pix and debit transactions.
type Bank struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BankRequest is the body for POST/PUT /banks.
type BankRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Validate checks the request and trims its fields.
func (r *BankRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Color = strings.TrimSpace(r.Color)
	if r.Name == "" {
		return &ErrValidation{Field: "name", Message: "nome do banco é obrigatório"}
	}
	return nil
}
