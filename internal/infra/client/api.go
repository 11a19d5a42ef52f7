package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// Auth
// ============================================================

// Login signs in and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, req domain.LoginRequest) (*domain.AuthResponse, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "email", Message: "e-mail e senha são obrigatórios"}
	}
	var resp domain.AuthResponse
	if err := c.do(ctx, "Login", http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Register creates an account and keeps the returned token.
func (c *Client) Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "nome é obrigatório"}
	}
	if len(req.Password) < 6 {
		return nil, &domain.ErrValidation{Field: "password", Message: "senha deve ter pelo menos 6 caracteres"}
	}
	var resp domain.AuthResponse
	if err := c.do(ctx, "Register", http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// ============================================================
// Transactions
// ============================================================

func windowQuery(w domain.Window) string {
	return fmt.Sprintf("month=%d&year=%d", int(w.Month), w.Year)
}

// Dashboard fetches the aggregate view of w.
func (c *Client) Dashboard(ctx context.Context, w domain.Window) (*domain.DashboardResponse, error) {
	var resp domain.DashboardResponse
	if err := c.do(ctx, "Dashboard", http.MethodGet, "/dashboard?"+windowQuery(w), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTransactions fetches the materialized rows of w.
func (c *Client) ListTransactions(ctx context.Context, w domain.Window) (*domain.MonthResponse, error) {
	var resp domain.MonthResponse
	if err := c.do(ctx, "ListTransactions", http.MethodGet, "/transactions?"+windowQuery(w), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransaction fetches one row by id or occurrence reference.
func (c *Client) GetTransaction(ctx context.Context, ref string) (*domain.TransactionResponse, error) {
	p, err := transactionPath(ref)
	if err != nil {
		return nil, err
	}
	var resp domain.TransactionResponse
	if err := c.do(ctx, "GetTransaction", http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransaction validates in locally with the server's rules, then posts it.
func (c *Client) CreateTransaction(ctx context.Context, in domain.TransactionInput) (*domain.TransactionResponse, error) {
	if _, err := in.Build(""); err != nil {
		return nil, err
	}
	var resp domain.TransactionResponse
	if err := c.do(ctx, "CreateTransaction", http.MethodPost, "/transactions", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EditTransaction sends a scoped edit. The returned row is nil when the edit
// removed it (an installment total shrunk below it).
func (c *Client) EditTransaction(ctx context.Context, ref string, req domain.EditRequest) (*domain.TransactionResponse, error) {
	p, err := transactionPath(ref)
	if err != nil {
		return nil, err
	}
	if err := validatePatch(req.TransactionPatch); err != nil {
		return nil, err
	}

	var resp domain.TransactionResponse
	if err := c.do(ctx, "EditTransaction", http.MethodPut, p, req, &resp); err != nil {
		return nil, err
	}
	if resp.OccurrenceRef == "" {
		return nil, nil
	}
	return &resp, nil
}

// DeleteTransaction removes one occurrence, or the whole series when
// deleteAll is set.
func (c *Client) DeleteTransaction(ctx context.Context, ref string, deleteAll bool) error {
	p, err := transactionPath(ref)
	if err != nil {
		return err
	}
	if deleteAll {
		p += "?deleteAll=true"
	}
	return c.do(ctx, "DeleteTransaction", http.MethodDelete, p, nil, nil)
}

// DeleteSeries cascade-deletes the recurring or installment series of ref.
func (c *Client) DeleteSeries(ctx context.Context, ref string, kind domain.SeriesKind) error {
	p, err := transactionPath(ref)
	if err != nil {
		return err
	}
	switch {
	case kind.IsRecurring():
		p += "/recurring"
	case kind.IsInstallment():
		p += "/installments"
	default:
		return &domain.ErrValidation{Field: "seriesKind", Message: "transação não pertence a uma série"}
	}
	return c.do(ctx, "DeleteSeries", http.MethodDelete, p, nil, nil)
}

// Settle asks the server to persist every due occurrence of the user.
func (c *Client) Settle(ctx context.Context) (*domain.SettlementResponse, error) {
	var resp domain.SettlementResponse
	if err := c.do(ctx, "Settle", http.MethodPost, "/fix-recurring-transactions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func transactionPath(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &domain.ErrValidation{Field: "id", Message: "transação não informada"}
	}
	return "/transactions/" + url.PathEscape(ref), nil
}

// validatePatch checks the fields a patch carries without knowing the row it
// applies to; cross-field rules are left to the server.
func validatePatch(p domain.TransactionPatch) error {
	if p.IsEmpty() {
		return &domain.ErrValidation{Field: "body", Message: "nenhum campo para alterar"}
	}
	if p.Amount != nil {
		if err := domain.ValidateAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return &domain.ErrValidation{Field: "description", Message: "descrição é obrigatória"}
	}
	if p.Type != nil {
		if _, ok := domain.ParseTransactionType(*p.Type); !ok {
			return &domain.ErrValidation{Field: "type", Message: "tipo deve ser income ou expense"}
		}
	}
	if p.PaymentMethod != nil {
		if _, ok := domain.ParsePaymentMethod(*p.PaymentMethod); !ok {
			return &domain.ErrValidation{Field: "paymentMethod", Message: "forma de pagamento inválida"}
		}
	}
	if p.Date != nil {
		if _, err := domain.ParseDate(*p.Date); err != nil {
			return err
		}
	}
	if p.TotalInstallments != nil && (*p.TotalInstallments < domain.MinInstallments || *p.TotalInstallments > domain.MaxInstallments) {
		return &domain.ErrValidation{Field: "totalInstallments", Message: "número de parcelas deve estar entre 2 e 60"}
	}
	return nil
}

// ============================================================
// Reference data
// ============================================================

func (c *Client) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	var banks []domain.Bank
	if err := c.do(ctx, "ListBanks", http.MethodGet, "/banks", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

func (c *Client) CreateBank(ctx context.Context, req domain.BankRequest) (*domain.Bank, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var bank domain.Bank
	if err := c.do(ctx, "CreateBank", http.MethodPost, "/banks", req, &bank); err != nil {
		return nil, err
	}
	return &bank, nil
}

func (c *Client) UpdateBank(ctx context.Context, id string, req domain.BankRequest) (*domain.Bank, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var bank domain.Bank
	if err := c.do(ctx, "UpdateBank", http.MethodPut, "/banks/"+url.PathEscape(id), req, &bank); err != nil {
		return nil, err
	}
	return &bank, nil
}

func (c *Client) DeleteBank(ctx context.Context, id string) error {
	return c.do(ctx, "DeleteBank", http.MethodDelete, "/banks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListCreditCards(ctx context.Context) ([]domain.CreditCard, error) {
	var cards []domain.CreditCard
	if err := c.do(ctx, "ListCreditCards", http.MethodGet, "/credit-cards", nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) CreateCreditCard(ctx context.Context, req domain.CreditCardRequest) (*domain.CreditCard, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var card domain.CreditCard
	if err := c.do(ctx, "CreateCreditCard", http.MethodPost, "/credit-cards", req, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) UpdateCreditCard(ctx context.Context, id string, req domain.CreditCardRequest) (*domain.CreditCard, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var card domain.CreditCard
	if err := c.do(ctx, "UpdateCreditCard", http.MethodPut, "/credit-cards/"+url.PathEscape(id), req, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) DeleteCreditCard(ctx context.Context, id string) error {
	return c.do(ctx, "DeleteCreditCard", http.MethodDelete, "/credit-cards/"+url.PathEscape(id), nil, nil)
}
