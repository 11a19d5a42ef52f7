package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ============================================================
// Transaction enums
// ============================================================

// TransactionType is income or expense.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// ParseTransactionType accepts the canonical values and the Portuguese labels
// still sent by older clients.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "receita":
		return TransactionIncome, true
	case "expense", "despesa":
		return TransactionExpense, true
	}
	return "", false
}

// PaymentMethod is how a transaction was paid.
type PaymentMethod string

const (
	PaymentPix    PaymentMethod = "pix"
	PaymentDebit  PaymentMethod = "debito"
	PaymentCredit PaymentMethod = "credito"
	PaymentCash   PaymentMethod = "dinheiro"
)

// ParsePaymentMethod accepts the wire values used by the mobile clients plus
// English aliases.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pix":
		return PaymentPix, true
	case "debito", "débito", "debit":
		return PaymentDebit, true
	case "credito", "crédito", "credit":
		return PaymentCredit, true
	case "dinheiro", "cash":
		return PaymentCash, true
	}
	return "", false
}

// RequiresBank reports whether a bank reference is mandatory.
func (p PaymentMethod) RequiresBank() bool {
	return p == PaymentPix || p == PaymentDebit
}

// RequiresCreditCard reports whether a credit card reference is mandatory.
func (p PaymentMethod) RequiresCreditCard() bool {
	return p == PaymentCredit
}

// SeriesKind is the closed classification of a transaction within a series.
// It is assigned once by the series resolver; nothing downstream branches on
// the raw stored flags.
type SeriesKind string

const (
	SeriesSingle                SeriesKind = "single"
	SeriesRecurringTemplate     SeriesKind = "recurringTemplate"
	SeriesRecurringOccurrence   SeriesKind = "recurringOccurrence"
	SeriesInstallmentTemplate   SeriesKind = "installmentTemplate"
	SeriesInstallmentOccurrence SeriesKind = "installmentOccurrence"
)

func (k SeriesKind) IsTemplate() bool {
	return k == SeriesRecurringTemplate || k == SeriesInstallmentTemplate
}

func (k SeriesKind) IsOccurrence() bool {
	return k == SeriesRecurringOccurrence || k == SeriesInstallmentOccurrence
}

func (k SeriesKind) IsRecurring() bool {
	return k == SeriesRecurringTemplate || k == SeriesRecurringOccurrence
}

func (k SeriesKind) IsInstallment() bool {
	return k == SeriesInstallmentTemplate || k == SeriesInstallmentOccurrence
}

// OccurrenceKind returns the occurrence kind belonging to a template kind.
func (k SeriesKind) OccurrenceKind() SeriesKind {
	switch k {
	case SeriesRecurringTemplate:
		return SeriesRecurringOccurrence
	case SeriesInstallmentTemplate:
		return SeriesInstallmentOccurrence
	}
	return k
}

// Installment count bounds.
const (
	MinInstallments = 2
	MaxInstallments = 60
)

// ============================================================
// Transaction
// ============================================================

// Transaction is the normalized financial record.
//
// Occurrences are identified inside their series by OccurrenceIndex: slot k
// is k-1 months after the template's date. For installments it is also the
// "k of N" shown to the user; recurring series use it only as the slot key.
type Transaction struct {
	ID               string          `json:"id,omitempty"`
	UserID           string          `json:"userId"`
	Type             TransactionType `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	Category         string          `json:"category"`
	Date             civil.Date      `json:"date"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	BankID           string          `json:"bank,omitempty"`
	CreditCardID     string          `json:"creditCard,omitempty"`
	SeriesKind       SeriesKind      `json:"seriesKind"`
	SeriesParentID   string          `json:"seriesParentId,omitempty"`
	OccurrenceIndex  int             `json:"occurrenceIndex,omitempty"`
	TotalOccurrences int             `json:"totalOccurrences,omitempty"`
	IsVirtual        bool            `json:"isVirtual"`
	Diverged         bool            `json:"diverged,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Ref returns the handle clients use to address the row: the id for
// persisted rows, the occurrence reference for virtual ones.
func (t Transaction) Ref() string {
	if t.ID != "" {
		return t.ID
	}
	return OccurrenceRef{ParentID: t.SeriesParentID, Index: t.OccurrenceIndex}.String()
}

// OccurrenceRef addresses slot Index of the series rooted at ParentID.
type OccurrenceRef struct {
	ParentID string
	Index    int
}

const occurrenceRefSep = "@"

func (r OccurrenceRef) String() string {
	return r.ParentID + occurrenceRefSep + strconv.Itoa(r.Index)
}

// ParseOccurrenceRef parses "<parentId>@<k>". ok is false for plain ids.
func ParseOccurrenceRef(s string) (OccurrenceRef, bool) {
	parent, idx, found := strings.Cut(s, occurrenceRefSep)
	if !found || parent == "" {
		return OccurrenceRef{}, false
	}
	k, err := strconv.Atoi(idx)
	if err != nil || k < 1 {
		return OccurrenceRef{}, false
	}
	return OccurrenceRef{ParentID: parent, Index: k}, true
}

// ============================================================
// Stored shapes
// ============================================================

// Record is a transaction as persisted. The legacy boolean flags are kept so
// rows written by older clients stay readable; only the series resolver
// interprets them.
type Record struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Type                string          `json:"type"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	Category            string          `json:"category"`
	Date                civil.Date      `json:"date"`
	PaymentMethod       string          `json:"payment_method"`
	BankID              string          `json:"bank_id,omitempty"`
	CreditCardID        string          `json:"credit_card_id,omitempty"`
	IsRecurring         bool            `json:"is_recurring"`
	RecurringParentID   string          `json:"recurring_parent_id,omitempty"`
	RecurringIndex      int             `json:"recurring_index,omitempty"`
	IsInstallment       bool            `json:"is_installment"`
	InstallmentParentID string          `json:"installment_parent_id,omitempty"`
	InstallmentNumber   int             `json:"installment_number,omitempty"`
	TotalInstallments   int             `json:"total_installments,omitempty"`
	Diverged            bool            `json:"diverged"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ParentID returns whichever series parent the record points to.
func (r Record) ParentID() string {
	if r.InstallmentParentID != "" {
		return r.InstallmentParentID
	}
	return r.RecurringParentID
}

// Slot returns the occurrence index of a stored occurrence, 0 for templates
// and singles.
func (r Record) Slot() int {
	if r.InstallmentParentID != "" {
		return r.InstallmentNumber
	}
	if r.RecurringParentID != "" {
		return r.RecurringIndex
	}
	return 0
}

// Tombstone suppresses regeneration of one slot of a series after a
// "this occurrence only" delete.
type Tombstone struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	SeriesParentID  string    `json:"series_parent_id"`
	OccurrenceIndex int       `json:"occurrence_index"`
	CreatedAt       time.Time `json:"created_at"`
}

// ============================================================
// Month window
// ============================================================

// Window is a calendar month.
type Window struct {
	Year  int
	Month time.Month
}

// NewWindow validates month (1-12) and year.
func NewWindow(month, year int) (Window, error) {
	if month < 1 || month > 12 {
		return Window{}, &ErrValidation{Field: "month", Message: "mês deve estar entre 1 e 12"}
	}
	if year < 1900 || year > 9999 {
		return Window{}, &ErrValidation{Field: "year", Message: "ano inválido"}
	}
	return Window{Year: year, Month: time.Month(month)}, nil
}

// WindowOf returns the month containing d.
func WindowOf(d civil.Date) Window {
	return Window{Year: d.Year, Month: d.Month}
}

func (w Window) Contains(d civil.Date) bool {
	return d.Year == w.Year && d.Month == w.Month
}

// MonthsSince returns how many whole months w is after the month of d.
func (w Window) MonthsSince(d civil.Date) int {
	return (w.Year-d.Year)*12 + int(w.Month) - int(d.Month)
}

// AddMonths shifts the window by n months.
func (w Window) AddMonths(n int) Window {
	total := w.Year*12 + int(w.Month) - 1 + n
	return Window{Year: total / 12, Month: time.Month(total%12 + 1)}
}

// Before reports whether w is an earlier month than o.
func (w Window) Before(o Window) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Month < o.Month
}

func (w Window) First() civil.Date {
	return civil.Date{Year: w.Year, Month: w.Month, Day: 1}
}

func (w Window) Last() civil.Date {
	return civil.Date{Year: w.Year, Month: w.Month, Day: DaysIn(w.Year, w.Month)}
}

// DayClamped returns day in this month, clamped to the month's last day.
func (w Window) DayClamped(day int) civil.Date {
	if last := DaysIn(w.Year, w.Month); day > last {
		day = last
	}
	return civil.Date{Year: w.Year, Month: w.Month, Day: day}
}

func (w Window) String() string {
	return fmt.Sprintf("%04d-%02d", w.Year, int(w.Month))
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
