package domain

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ============================================================
// Transaction requests
// ============================================================

// TransactionInput is the payload of POST /transactions.
type TransactionInput struct {
	Type              string          `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Date              string          `json:"date"`
	PaymentMethod     string          `json:"paymentMethod"`
	Bank              string          `json:"bank,omitempty"`
	CreditCard        string          `json:"creditCard,omitempty"`
	IsRecurring       bool            `json:"isRecurring"`
	IsInstallment     bool            `json:"isInstallment"`
	TotalInstallments int             `json:"totalInstallments,omitempty"`
}

// TransactionPatch carries the fields of PUT /transactions/{id}. Nil fields
// are left untouched.
type TransactionPatch struct {
	Type              *string          `json:"type,omitempty"`
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Description       *string          `json:"description,omitempty"`
	Category          *string          `json:"category,omitempty"`
	Date              *string          `json:"date,omitempty"`
	PaymentMethod     *string          `json:"paymentMethod,omitempty"`
	Bank              *string          `json:"bank,omitempty"`
	CreditCard        *string          `json:"creditCard,omitempty"`
	TotalInstallments *int             `json:"totalInstallments,omitempty"`
}

// EditRequest is the body of PUT /transactions/{id}. UpdateAll selects the
// scope; nil lets the server decide when the edit is scope-neutral.
type EditRequest struct {
	TransactionPatch
	UpdateAll *bool `json:"updateAll,omitempty"`
}

// Build validates the input and returns the transaction to persist: a single
// record or the root template of a new series.
func (in TransactionInput) Build(userID string) (Transaction, error) {
	t := Transaction{
		UserID:       userID,
		Amount:       in.Amount,
		Description:  strings.TrimSpace(in.Description),
		Category:     strings.TrimSpace(in.Category),
		BankID:       strings.TrimSpace(in.Bank),
		CreditCardID: strings.TrimSpace(in.CreditCard),
		SeriesKind:   SeriesSingle,
	}

	typ, ok := ParseTransactionType(in.Type)
	if !ok {
		return Transaction{}, &ErrValidation{Field: "type", Message: "tipo deve ser income ou expense"}
	}
	t.Type = typ

	pm, ok := ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return Transaction{}, &ErrValidation{Field: "paymentMethod", Message: "forma de pagamento inválida"}
	}
	t.PaymentMethod = pm

	date, err := ParseDate(in.Date)
	if err != nil {
		return Transaction{}, err
	}
	t.Date = date

	switch {
	case in.IsRecurring && in.IsInstallment:
		return Transaction{}, &ErrValidation{Field: "isInstallment", Message: "transação não pode ser recorrente e parcelada ao mesmo tempo"}
	case in.IsRecurring:
		t.SeriesKind = SeriesRecurringTemplate
	case in.IsInstallment:
		t.SeriesKind = SeriesInstallmentTemplate
		t.TotalOccurrences = in.TotalInstallments
	}

	if err := ValidateTransaction(t); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Apply returns t with the patch applied. Parsing errors are validation
// errors; invariants are checked separately by ValidateTransaction.
func (p TransactionPatch) Apply(t Transaction) (Transaction, error) {
	if p.Type != nil {
		typ, ok := ParseTransactionType(*p.Type)
		if !ok {
			return t, &ErrValidation{Field: "type", Message: "tipo deve ser income ou expense"}
		}
		t.Type = typ
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.Date != nil {
		d, err := ParseDate(*p.Date)
		if err != nil {
			return t, err
		}
		t.Date = d
	}
	if p.PaymentMethod != nil {
		pm, ok := ParsePaymentMethod(*p.PaymentMethod)
		if !ok {
			return t, &ErrValidation{Field: "paymentMethod", Message: "forma de pagamento inválida"}
		}
		t.PaymentMethod = pm
		// references of the previous method no longer apply
		if !pm.RequiresBank() && p.Bank == nil {
			t.BankID = ""
		}
		if !pm.RequiresCreditCard() && p.CreditCard == nil {
			t.CreditCardID = ""
		}
	}
	if p.Bank != nil {
		t.BankID = strings.TrimSpace(*p.Bank)
	}
	if p.CreditCard != nil {
		t.CreditCardID = strings.TrimSpace(*p.CreditCard)
	}
	if p.TotalInstallments != nil {
		t.TotalOccurrences = *p.TotalInstallments
	}
	return t, nil
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p == TransactionPatch{}
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, &ErrValidation{Field: "date", Message: "data é obrigatória"}
	}
	// accept full timestamps from clients that send ISO strings
	if len(s) > 10 && s[10] == 'T' {
		s = s[:10]
	}
	d, err := civil.ParseDate(s)
	if err != nil || !d.IsValid() {
		return civil.Date{}, &ErrValidation{Field: "date", Message: "data inválida, use AAAA-MM-DD"}
	}
	return d, nil
}

// ValidateTransaction checks every invariant a persisted transaction must
// hold. It is shared by the server and the Go client so invalid payloads are
// rejected before any request is made.
func ValidateTransaction(t Transaction) error {
	if t.Description == "" {
		return &ErrValidation{Field: "description", Message: "descrição é obrigatória"}
	}
	if err := ValidateAmount(t.Amount); err != nil {
		return err
	}
	if t.Type != TransactionIncome && t.Type != TransactionExpense {
		return &ErrValidation{Field: "type", Message: "tipo deve ser income ou expense"}
	}
	if !t.Date.IsValid() {
		return &ErrValidation{Field: "date", Message: "data inválida"}
	}

	switch t.PaymentMethod {
	case PaymentPix, PaymentDebit, PaymentCredit, PaymentCash:
	default:
		return &ErrValidation{Field: "paymentMethod", Message: "forma de pagamento inválida"}
	}
	if t.PaymentMethod.RequiresBank() && t.BankID == "" {
		return &ErrValidation{Field: "bank", Message: "banco é obrigatório para PIX e débito"}
	}
	if t.PaymentMethod.RequiresCreditCard() && t.CreditCardID == "" {
		return &ErrValidation{Field: "creditCard", Message: "cartão de crédito é obrigatório para pagamentos no crédito"}
	}

	switch {
	case t.SeriesKind.IsInstallment():
		if t.PaymentMethod == PaymentPix {
			return &ErrValidation{Field: "paymentMethod", Message: "PIX não pode ser parcelado; altere a forma de pagamento antes de parcelar"}
		}
		if t.TotalOccurrences < MinInstallments || t.TotalOccurrences > MaxInstallments {
			return &ErrValidation{Field: "totalInstallments", Message: "número de parcelas deve estar entre 2 e 60"}
		}
		if t.SeriesKind == SeriesInstallmentOccurrence && (t.OccurrenceIndex < 1 || t.OccurrenceIndex > t.TotalOccurrences) {
			return &ErrValidation{Field: "occurrenceIndex", Message: "parcela fora do intervalo da série"}
		}
	case t.SeriesKind.IsRecurring():
		if t.TotalOccurrences != 0 {
			return &ErrValidation{Field: "totalInstallments", Message: "transação recorrente não tem número de parcelas"}
		}
	case t.SeriesKind == SeriesSingle:
		if t.TotalOccurrences != 0 {
			return &ErrValidation{Field: "totalInstallments", Message: "parcelas só se aplicam a transações parceladas"}
		}
	default:
		return &ErrValidation{Field: "seriesKind", Message: "tipo de série inválido"}
	}

	if t.SeriesKind.IsOccurrence() && t.SeriesParentID == "" {
		return &ErrValidation{Field: "seriesParentId", Message: "ocorrência sem transação de origem"}
	}
	return nil
}

// ValidateAmount requires a positive value with at most two decimal places.
func ValidateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return &ErrValidation{Field: "amount", Message: "valor deve ser maior que zero"}
	}
	if !a.Equal(a.Round(2)) {
		return &ErrValidation{Field: "amount", Message: "valor deve ter no máximo duas casas decimais"}
	}
	return nil
}
