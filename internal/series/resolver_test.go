package series_test

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

var created = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func baseRecord(id string, date civil.Date) domain.Record {
	return domain.Record{
		ID:            id,
		UserID:        "user-1",
		Type:          "expense",
		Amount:        decimal.RequireFromString("100.00"),
		Description:   "Mercado",
		Category:      "Alimentação",
		Date:          date,
		PaymentMethod: "debito",
		BankID:        "bank-1",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestClassify_Kinds(t *testing.T) {
	day := date(2024, 1, 10)

	single := baseRecord("s", day)

	recTpl := baseRecord("rt", day)
	recTpl.IsRecurring = true

	recOcc := baseRecord("ro", day)
	recOcc.RecurringParentID = "rt"
	recOcc.RecurringIndex = 2

	instTpl := baseRecord("it", day)
	instTpl.IsInstallment = true
	instTpl.TotalInstallments = 4

	instOcc := baseRecord("io", day)
	instOcc.InstallmentParentID = "it"
	instOcc.InstallmentNumber = 3
	instOcc.TotalInstallments = 4

	// legacy rows sometimes carry is_installment on the occurrences too
	legacyOcc := instOcc
	legacyOcc.ID = "legacy"
	legacyOcc.IsInstallment = true

	tests := []struct {
		name   string
		rec    domain.Record
		kind   domain.SeriesKind
		parent string
		index  int
	}{
		{"single", single, domain.SeriesSingle, "", 0},
		{"recurring template", recTpl, domain.SeriesRecurringTemplate, "", 0},
		{"recurring occurrence", recOcc, domain.SeriesRecurringOccurrence, "rt", 2},
		{"installment template", instTpl, domain.SeriesInstallmentTemplate, "", 0},
		{"installment occurrence", instOcc, domain.SeriesInstallmentOccurrence, "it", 3},
		{"installment occurrence with template flag", legacyOcc, domain.SeriesInstallmentOccurrence, "it", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := series.Classify(tt.rec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tx.SeriesKind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, tx.SeriesKind)
			}
			if tx.SeriesParentID != tt.parent {
				t.Errorf("expected parent %q, got %q", tt.parent, tx.SeriesParentID)
			}
			if tx.OccurrenceIndex != tt.index {
				t.Errorf("expected index %d, got %d", tt.index, tx.OccurrenceIndex)
			}
		})
	}
}

func TestClassify_RejectsMalformed(t *testing.T) {
	day := date(2024, 1, 10)

	dual := baseRecord("dual", day)
	dual.IsRecurring = true
	dual.IsInstallment = true
	dual.TotalInstallments = 3

	dualParents := baseRecord("dual-parents", day)
	dualParents.RecurringParentID = "a"
	dualParents.RecurringIndex = 1
	dualParents.InstallmentParentID = "b"
	dualParents.InstallmentNumber = 1
	dualParents.TotalInstallments = 3

	noParent := baseRecord("no-parent", day)
	noParent.InstallmentNumber = 2
	noParent.TotalInstallments = 3

	beyondTotal := baseRecord("beyond", day)
	beyondTotal.InstallmentParentID = "it"
	beyondTotal.InstallmentNumber = 5
	beyondTotal.TotalInstallments = 4

	badTotal := baseRecord("bad-total", day)
	badTotal.IsInstallment = true
	badTotal.TotalInstallments = 1

	badType := baseRecord("bad-type", day)
	badType.Type = "transfer"

	for _, rec := range []domain.Record{dual, dualParents, noParent, beyondTotal, badTotal, badType} {
		t.Run(rec.ID, func(t *testing.T) {
			_, err := series.Classify(rec)
			var integrityErr *domain.ErrDataIntegrity
			if !errors.As(err, &integrityErr) {
				t.Fatalf("expected ErrDataIntegrity, got %v", err)
			}
			if integrityErr.RecordID != rec.ID {
				t.Errorf("expected record id %s, got %s", rec.ID, integrityErr.RecordID)
			}
		})
	}
}

func TestToRecord_RoundTrip(t *testing.T) {
	tx := domain.Transaction{
		ID:               "io",
		UserID:           "user-1",
		Type:             domain.TransactionExpense,
		Amount:           decimal.RequireFromString("300.00"),
		Description:      "Notebook",
		Category:         "Compras",
		Date:             date(2024, 2, 15),
		PaymentMethod:    domain.PaymentCredit,
		CreditCardID:     "card-1",
		SeriesKind:       domain.SeriesInstallmentOccurrence,
		SeriesParentID:   "it",
		OccurrenceIndex:  2,
		TotalOccurrences: 4,
		Diverged:         true,
		CreatedAt:        created,
		UpdatedAt:        created,
	}

	rec := series.ToRecord(tx)
	if rec.IsRecurring || rec.RecurringParentID != "" {
		t.Fatal("installment occurrence must not carry recurring fields")
	}
	if rec.InstallmentParentID != "it" || rec.InstallmentNumber != 2 || rec.TotalInstallments != 4 {
		t.Errorf("unexpected installment fields: %+v", rec)
	}

	back, err := series.Classify(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back != tx {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, tx)
	}
}
