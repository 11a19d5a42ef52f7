// Package series holds the recurring/installment transaction model: the
// resolver that classifies stored records, the month materializer and the
// planner that scopes edits and deletes. Everything here is pure; stores and
// services feed it data and apply the plans it returns.
package series

import (
	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// Classify normalizes a stored record into its series kind.
//
// Precedence: installment occurrence (installment number or parent set),
// recurring template (recurring flag, no parent), recurring occurrence
// (recurring parent set), installment template, single. A record carrying
// both recurring and installment membership is a data error and is never
// resolved to either side.
func Classify(r domain.Record) (domain.Transaction, error) {
	recurringMember := r.IsRecurring || r.RecurringParentID != "" || r.RecurringIndex > 0
	installmentMember := r.IsInstallment || r.InstallmentParentID != "" || r.InstallmentNumber > 0
	if recurringMember && installmentMember {
		return domain.Transaction{}, integrity(r, "record carries both recurring and installment membership")
	}

	typ, ok := domain.ParseTransactionType(r.Type)
	if !ok {
		return domain.Transaction{}, integrity(r, "unknown transaction type "+r.Type)
	}
	pm, ok := domain.ParsePaymentMethod(r.PaymentMethod)
	if !ok {
		return domain.Transaction{}, integrity(r, "unknown payment method "+r.PaymentMethod)
	}

	t := domain.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		Type:          typ,
		Amount:        r.Amount,
		Description:   r.Description,
		Category:      r.Category,
		Date:          r.Date,
		PaymentMethod: pm,
		BankID:        r.BankID,
		CreditCardID:  r.CreditCardID,
		SeriesKind:    domain.SeriesSingle,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}

	switch {
	case r.InstallmentNumber > 0 || r.InstallmentParentID != "":
		if r.InstallmentParentID == "" {
			return domain.Transaction{}, integrity(r, "installment occurrence without parent")
		}
		if r.InstallmentNumber < 1 || r.InstallmentNumber > r.TotalInstallments {
			return domain.Transaction{}, integrity(r, "installment number outside 1..total")
		}
		t.SeriesKind = domain.SeriesInstallmentOccurrence
		t.SeriesParentID = r.InstallmentParentID
		t.OccurrenceIndex = r.InstallmentNumber
		t.TotalOccurrences = r.TotalInstallments
		t.Diverged = r.Diverged

	case r.IsRecurring && r.RecurringParentID == "":
		if r.RecurringIndex != 0 {
			return domain.Transaction{}, integrity(r, "recurring template with occurrence slot")
		}
		t.SeriesKind = domain.SeriesRecurringTemplate

	case r.RecurringParentID != "":
		if r.RecurringIndex < 1 {
			return domain.Transaction{}, integrity(r, "recurring occurrence without slot")
		}
		t.SeriesKind = domain.SeriesRecurringOccurrence
		t.SeriesParentID = r.RecurringParentID
		t.OccurrenceIndex = r.RecurringIndex
		t.Diverged = r.Diverged

	case r.IsInstallment:
		if r.TotalInstallments < domain.MinInstallments || r.TotalInstallments > domain.MaxInstallments {
			return domain.Transaction{}, integrity(r, "installment template with total outside 2..60")
		}
		t.SeriesKind = domain.SeriesInstallmentTemplate
		t.TotalOccurrences = r.TotalInstallments
	}

	return t, nil
}

// ToRecord is the inverse of Classify, used on every write. Because the
// flags are derived from a single SeriesKind, the service can never persist
// a dual-membership record.
func ToRecord(t domain.Transaction) domain.Record {
	r := domain.Record{
		ID:            t.ID,
		UserID:        t.UserID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		Description:   t.Description,
		Category:      t.Category,
		Date:          t.Date,
		PaymentMethod: string(t.PaymentMethod),
		BankID:        t.BankID,
		CreditCardID:  t.CreditCardID,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}

	switch t.SeriesKind {
	case domain.SeriesRecurringTemplate:
		r.IsRecurring = true
	case domain.SeriesRecurringOccurrence:
		r.RecurringParentID = t.SeriesParentID
		r.RecurringIndex = t.OccurrenceIndex
		r.Diverged = t.Diverged
	case domain.SeriesInstallmentTemplate:
		r.IsInstallment = true
		r.TotalInstallments = t.TotalOccurrences
	case domain.SeriesInstallmentOccurrence:
		r.InstallmentParentID = t.SeriesParentID
		r.InstallmentNumber = t.OccurrenceIndex
		r.TotalInstallments = t.TotalOccurrences
		r.Diverged = t.Diverged
	}
	return r
}

func integrity(r domain.Record, reason string) error {
	return &domain.ErrDataIntegrity{RecordID: r.ID, Reason: reason}
}
