package series

import (
	"errors"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// Row is one entry of a materialized month: either a PersistedRow or a
// VirtualRow. Mutation code switches on the concrete type, so a virtual row
// can never be patched in place.
type Row interface {
	Transaction() domain.Transaction
	isRow()
}

// PersistedRow wraps a stored transaction.
type PersistedRow struct {
	tx domain.Transaction
}

// VirtualRow wraps an occurrence derived on read and not stored.
type VirtualRow struct {
	tx domain.Transaction
}

// Persisted wraps a stored transaction as a row.
func Persisted(tx domain.Transaction) PersistedRow {
	tx.IsVirtual = false
	return PersistedRow{tx: tx}
}

func (r PersistedRow) Transaction() domain.Transaction { return r.tx }
func (r VirtualRow) Transaction() domain.Transaction   { return r.tx }
func (PersistedRow) isRow()                            {}
func (VirtualRow) isRow()                              {}

// Input is everything the materializer needs for one month. Records holds the
// user's templates, every stored series occurrence and the singles of the
// month; extra records outside the month are ignored.
type Input struct {
	Records    []domain.Record
	Tombstones []domain.Tombstone
	Window     domain.Window
}

// Result is the ordered list of rows plus non-fatal integrity warnings.
type Result struct {
	Rows     []Row
	Warnings []domain.DataIntegrityWarning
}

// Transactions unwraps the rows.
func (r Result) Transactions() []domain.Transaction {
	out := make([]domain.Transaction, 0, len(r.Rows))
	for _, row := range r.Rows {
		out = append(out, row.Transaction())
	}
	return out
}

// VirtualCount returns how many rows were synthesized.
func (r Result) VirtualCount() int {
	n := 0
	for _, row := range r.Rows {
		if _, ok := row.(VirtualRow); ok {
			n++
		}
	}
	return n
}

type slotKey struct {
	parentID string
	index    int
}

// Materialize returns the rows visible in in.Window: singles and stored
// occurrences dated in the month, plus one virtual occurrence per template
// slot that is neither stored nor tombstoned. It has no side effects, so
// calling it twice with the same input yields the same rows.
func Materialize(in Input) Result {
	var (
		res         Result
		templates   = make(map[string]domain.Transaction)
		occurrences []domain.Transaction
		singles     []domain.Transaction
	)

	for _, rec := range in.Records {
		tx, err := Classify(rec)
		if err != nil {
			res.Warnings = append(res.Warnings, warningFor(rec, err))
			continue
		}
		switch {
		case tx.SeriesKind.IsTemplate():
			templates[tx.ID] = tx
		case tx.SeriesKind.IsOccurrence():
			occurrences = append(occurrences, tx)
		default:
			singles = append(singles, tx)
		}
	}

	occupied := make(map[slotKey]bool, len(occurrences)+len(in.Tombstones))

	for _, occ := range occurrences {
		tpl, ok := templates[occ.SeriesParentID]
		if !ok {
			res.Warnings = append(res.Warnings, domain.DataIntegrityWarning{
				RecordID: occ.ID,
				ParentID: occ.SeriesParentID,
				Reason:   "orphaned occurrence: series template not found",
			})
			continue
		}
		if tpl.SeriesKind.OccurrenceKind() != occ.SeriesKind {
			res.Warnings = append(res.Warnings, domain.DataIntegrityWarning{
				RecordID: occ.ID,
				ParentID: occ.SeriesParentID,
				Reason:   "occurrence kind does not match its template",
			})
			continue
		}
		if tpl.SeriesKind == domain.SeriesInstallmentTemplate && occ.OccurrenceIndex > tpl.TotalOccurrences {
			res.Warnings = append(res.Warnings, domain.DataIntegrityWarning{
				RecordID: occ.ID,
				ParentID: occ.SeriesParentID,
				Reason:   "installment number beyond series total",
			})
			continue
		}

		occupied[slotKey{occ.SeriesParentID, occ.OccurrenceIndex}] = true
		if in.Window.Contains(occ.Date) {
			occ.TotalOccurrences = tpl.TotalOccurrences
			res.Rows = append(res.Rows, Persisted(occ))
		}
	}

	for _, ts := range in.Tombstones {
		if _, ok := templates[ts.SeriesParentID]; !ok {
			res.Warnings = append(res.Warnings, domain.DataIntegrityWarning{
				RecordID: ts.ID,
				ParentID: ts.SeriesParentID,
				Reason:   "orphaned tombstone: series template not found",
			})
			continue
		}
		occupied[slotKey{ts.SeriesParentID, ts.OccurrenceIndex}] = true
	}

	for _, s := range singles {
		if in.Window.Contains(s.Date) {
			res.Rows = append(res.Rows, Persisted(s))
		}
	}

	for _, tpl := range templates {
		k := SlotOf(tpl, in.Window)
		if k < 1 || occupied[slotKey{tpl.ID, k}] {
			continue
		}
		if v, ok := Synthesize(tpl, k); ok {
			res.Rows = append(res.Rows, v)
		}
	}

	SortRows(res.Rows)
	return res
}

// SlotOf returns the occurrence index of tpl that falls in w, or a value
// below 1 when w precedes the series.
func SlotOf(tpl domain.Transaction, w domain.Window) int {
	return w.MonthsSince(tpl.Date) + 1
}

// SlotDate returns the date of occurrence k of a series anchored at anchor:
// k-1 months later, day-of-month clamped to the target month.
func SlotDate(anchor civil.Date, k int) civil.Date {
	return domain.WindowOf(anchor).AddMonths(k - 1).DayClamped(anchor.Day)
}

// Synthesize derives virtual occurrence k of tpl. ok is false when k is
// outside the series (before the start, or past the last installment).
func Synthesize(tpl domain.Transaction, k int) (VirtualRow, bool) {
	if !tpl.SeriesKind.IsTemplate() || k < 1 {
		return VirtualRow{}, false
	}
	if tpl.SeriesKind == domain.SeriesInstallmentTemplate && k > tpl.TotalOccurrences {
		return VirtualRow{}, false
	}
	return VirtualRow{tx: domain.Transaction{
		UserID:           tpl.UserID,
		Type:             tpl.Type,
		Amount:           tpl.Amount,
		Description:      tpl.Description,
		Category:         tpl.Category,
		Date:             SlotDate(tpl.Date, k),
		PaymentMethod:    tpl.PaymentMethod,
		BankID:           tpl.BankID,
		CreditCardID:     tpl.CreditCardID,
		SeriesKind:       tpl.SeriesKind.OccurrenceKind(),
		SeriesParentID:   tpl.ID,
		OccurrenceIndex:  k,
		TotalOccurrences: tpl.TotalOccurrences,
		IsVirtual:        true,
		CreatedAt:        tpl.CreatedAt,
		UpdatedAt:        tpl.UpdatedAt,
	}}, true
}

// SortRows orders rows by date descending; ties keep creation order, then
// occurrence index, then reference, so the order is fully deterministic.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Transaction(), rows[j].Transaction()
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.OccurrenceIndex != b.OccurrenceIndex {
			return a.OccurrenceIndex < b.OccurrenceIndex
		}
		return a.Ref() < b.Ref()
	})
}

func warningFor(rec domain.Record, err error) domain.DataIntegrityWarning {
	w := domain.DataIntegrityWarning{RecordID: rec.ID, ParentID: rec.ParentID(), Reason: err.Error()}
	var integrityErr *domain.ErrDataIntegrity
	if errors.As(err, &integrityErr) {
		w.Reason = integrityErr.Reason
	}
	return w
}
