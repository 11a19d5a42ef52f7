package series_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

var now = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testPlanner() *series.Planner {
	n := 0
	return &series.Planner{
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Now: func() time.Time { return now },
	}
}

func classify(t *testing.T, r domain.Record) domain.Transaction {
	t.Helper()
	tx, err := series.Classify(r)
	if err != nil {
		t.Fatalf("classify %s: %v", r.ID, err)
	}
	return tx
}

func virtualSlot(t *testing.T, tpl domain.Transaction, k int) series.VirtualRow {
	t.Helper()
	v, ok := series.Synthesize(tpl, k)
	if !ok {
		t.Fatalf("slot %d outside series", k)
	}
	return v
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }

func amountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestResolveScope(t *testing.T) {
	tpl := classify(t, rentTemplate())
	virt := virtualSlot(t, tpl, 2)

	t.Run("template forces all", func(t *testing.T) {
		s, err := series.ResolveScope(series.Persisted(tpl), tpl, domain.TransactionPatch{}, boolPtr(false))
		if err != nil || s != series.ScopeAllOccurrences {
			t.Fatalf("expected allOccurrences, got %v (%v)", s, err)
		}
	})

	t.Run("neutral edit needs no choice", func(t *testing.T) {
		patch := domain.TransactionPatch{Date: strPtr("2024-02-07")}
		s, err := series.ResolveScope(virt, tpl, patch, nil)
		if err != nil || s != series.ScopeThisOccurrence {
			t.Fatalf("expected thisOccurrence, got %v (%v)", s, err)
		}
	})

	t.Run("series field without choice is rejected", func(t *testing.T) {
		patch := domain.TransactionPatch{Amount: amountPtr("1300.00")}
		_, err := series.ResolveScope(virt, tpl, patch, nil)
		var valErr *domain.ErrValidation
		if !errors.As(err, &valErr) || valErr.Field != "updateAll" {
			t.Fatalf("expected validation error on updateAll, got %v", err)
		}
	})

	t.Run("explicit choice wins", func(t *testing.T) {
		patch := domain.TransactionPatch{Amount: amountPtr("1300.00")}
		s, err := series.ResolveScope(virt, tpl, patch, boolPtr(true))
		if err != nil || s != series.ScopeAllOccurrences {
			t.Fatalf("expected allOccurrences, got %v (%v)", s, err)
		}
	})
}

func TestPlanner_EditSingle(t *testing.T) {
	tx := classify(t, baseRecord("s", date(2024, 6, 10)))

	plan, err := testPlanner().Edit(series.Persisted(tx), domain.TransactionPatch{Description: strPtr("Feira")}, series.ScopeThisOccurrence, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpUpdate {
		t.Fatalf("expected one update, got %+v", plan.Ops)
	}
	if plan.Result.Description != "Feira" || !plan.Result.UpdatedAt.Equal(now) {
		t.Errorf("unexpected result: %+v", plan.Result)
	}
}

func TestPlanner_EditVirtualThisOccurrence(t *testing.T) {
	tpl := classify(t, rentTemplate())
	state := &series.SeriesState{Template: tpl}

	plan, err := testPlanner().Edit(virtualSlot(t, tpl, 3), domain.TransactionPatch{Amount: amountPtr("1250.00")}, series.ScopeThisOccurrence, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpInsert {
		t.Fatalf("expected a single insert, got %+v", plan.Ops)
	}
	ins := plan.Ops[0].Transaction
	if ins.ID != "id-1" || ins.IsVirtual || !ins.Diverged {
		t.Errorf("expected a stored diverged occurrence, got %+v", ins)
	}
	if ins.SeriesParentID != "rent" || ins.OccurrenceIndex != 3 || ins.Date != date(2024, 3, 5) {
		t.Errorf("occurrence lost its slot: %+v", ins)
	}
	for _, op := range plan.Ops {
		if op.Transaction.ID == tpl.ID {
			t.Fatal("thisOccurrence edit must not touch the template")
		}
	}
}

func TestPlanner_EditPersistedThisOccurrence(t *testing.T) {
	tpl := classify(t, rentTemplate())
	occRec := baseRecord("rent-2", date(2024, 2, 5))
	occRec.RecurringParentID = "rent"
	occRec.RecurringIndex = 2
	occRec.Amount = tpl.Amount
	occ := classify(t, occRec)
	state := &series.SeriesState{Template: tpl, Occurrences: []domain.Transaction{occ}}

	plan, err := testPlanner().Edit(series.Persisted(occ), domain.TransactionPatch{Category: strPtr("Casa")}, series.ScopeThisOccurrence, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpUpdate || plan.Ops[0].Transaction.ID != "rent-2" {
		t.Fatalf("expected an update of rent-2, got %+v", plan.Ops)
	}
	if !plan.Ops[0].Transaction.Diverged {
		t.Error("expected the occurrence to be marked diverged")
	}
}

func TestPlanner_EditAllSkipsDiverged(t *testing.T) {
	tpl := classify(t, rentTemplate())

	pristineRec := baseRecord("rent-2", date(2024, 2, 5))
	pristineRec.RecurringParentID = "rent"
	pristineRec.RecurringIndex = 2
	pristineRec.Amount = tpl.Amount
	pristineRec.Description = tpl.Description
	pristineRec.Category = tpl.Category
	pristineRec.BankID = tpl.BankID

	divergedRec := pristineRec
	divergedRec.ID = "rent-3"
	divergedRec.RecurringIndex = 3
	divergedRec.Date = date(2024, 3, 5)
	divergedRec.Amount = decimal.RequireFromString("999.00")
	divergedRec.Diverged = true

	pristine := classify(t, pristineRec)
	diverged := classify(t, divergedRec)
	state := &series.SeriesState{Template: tpl, Occurrences: []domain.Transaction{pristine, diverged}}

	plan, err := testPlanner().Edit(virtualSlot(t, tpl, 4), domain.TransactionPatch{Amount: amountPtr("1300.00")}, series.ScopeAllOccurrences, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := map[string]domain.Transaction{}
	for _, op := range plan.Ops {
		if op.Kind != series.OpUpdate {
			t.Fatalf("unexpected op %s", op.Kind)
		}
		updated[op.Transaction.ID] = op.Transaction
	}
	if got := updated["rent"]; !got.Amount.Equal(decimal.RequireFromString("1300.00")) {
		t.Errorf("expected template amount 1300.00, got %s", got.Amount)
	}
	if got := updated["rent-2"]; !got.Amount.Equal(decimal.RequireFromString("1300.00")) {
		t.Errorf("expected pristine occurrence to follow, got %s", got.Amount)
	}
	if _, ok := updated["rent-3"]; ok {
		t.Error("diverged occurrence must not change on a series edit")
	}
	if plan.Result == nil || plan.Result.OccurrenceIndex != 4 || !plan.Result.IsVirtual {
		t.Errorf("expected result to be virtual slot 4, got %+v", plan.Result)
	}
}

func TestPlanner_EditAllRejectsDateFromOccurrence(t *testing.T) {
	tpl := classify(t, rentTemplate())
	state := &series.SeriesState{Template: tpl}
	patch := domain.TransactionPatch{Date: strPtr("2024-03-09")}

	_, err := testPlanner().Edit(virtualSlot(t, tpl, 3), patch, series.ScopeAllOccurrences, state)
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) || valErr.Field != "date" {
		t.Fatalf("expected validation error on date, got %v", err)
	}

	// the unchanged date sent back by a full form is fine
	patch.Date = strPtr("2024-03-05")
	if _, err := testPlanner().Edit(virtualSlot(t, tpl, 3), patch, series.ScopeAllOccurrences, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlanner_EditTemplateMovesAnchor(t *testing.T) {
	tpl := classify(t, rentTemplate())
	occ := series.ToRecord(propagateForTest(tpl, 2, "rent-2"))
	state := &series.SeriesState{Template: tpl, Occurrences: []domain.Transaction{classify(t, occ)}}

	plan, err := testPlanner().Edit(series.Persisted(tpl), domain.TransactionPatch{Date: strPtr("2024-01-31")}, series.ScopeThisOccurrence, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var moved bool
	for _, op := range plan.Ops {
		if op.Transaction.ID == "rent-2" {
			moved = true
			if op.Transaction.Date != date(2024, 2, 29) {
				t.Errorf("expected clamped 2024-02-29, got %s", op.Transaction.Date)
			}
		}
	}
	if !moved {
		t.Fatal("expected the pristine occurrence to be re-dated")
	}
}

func propagateForTest(tpl domain.Transaction, k int, id string) domain.Transaction {
	v, _ := series.Synthesize(tpl, k)
	tx := v.Transaction()
	tx.ID = id
	tx.IsVirtual = false
	return tx
}

func TestPlanner_ShrinkInstallments(t *testing.T) {
	tpl := classify(t, notebookTemplate())
	occ4 := propagateForTest(tpl, 4, "nb-4")
	tomb3 := domain.Tombstone{ID: "t3", SeriesParentID: "notebook", OccurrenceIndex: 3}
	state := &series.SeriesState{Template: tpl, Occurrences: []domain.Transaction{occ4}, Tombstones: []domain.Tombstone{tomb3}}

	plan, err := testPlanner().Edit(series.Persisted(tpl), domain.TransactionPatch{TotalInstallments: intPtr(2)}, series.ScopeAllOccurrences, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Touches(series.OpDelete) || !plan.Touches(series.OpDeleteTombstone) {
		t.Fatalf("expected occurrence and tombstone beyond the new total removed, got %+v", plan.Ops)
	}
	if plan.Result == nil || plan.Result.TotalOccurrences != 2 {
		t.Errorf("expected template with total 2, got %+v", plan.Result)
	}
}

func TestPlanner_EditValidatesBeforeWrites(t *testing.T) {
	tpl := classify(t, notebookTemplate())
	state := &series.SeriesState{Template: tpl}

	tests := []struct {
		name  string
		patch domain.TransactionPatch
		scope series.Scope
		field string
	}{
		{"pix on installment", domain.TransactionPatch{PaymentMethod: strPtr("pix"), Bank: strPtr("nubank")}, series.ScopeAllOccurrences, "paymentMethod"},
		{"zero amount", domain.TransactionPatch{Amount: amountPtr("0")}, series.ScopeThisOccurrence, "amount"},
		{"total on one occurrence", domain.TransactionPatch{TotalInstallments: intPtr(6)}, series.ScopeThisOccurrence, "totalInstallments"},
		{"total out of range", domain.TransactionPatch{TotalInstallments: intPtr(61)}, series.ScopeAllOccurrences, "totalInstallments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := testPlanner().Edit(virtualSlot(t, tpl, 2), tt.patch, tt.scope, state)
			var valErr *domain.ErrValidation
			if !errors.As(err, &valErr) || valErr.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
			if len(plan.Ops) != 0 {
				t.Fatal("a rejected edit must not produce ops")
			}
		})
	}
}

func TestPlanner_Delete(t *testing.T) {
	tpl := classify(t, notebookTemplate())
	stored := propagateForTest(tpl, 3, "nb-3")

	t.Run("virtual this occurrence", func(t *testing.T) {
		plan, err := testPlanner().Delete(virtualSlot(t, tpl, 2), series.ScopeThisOccurrence)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpInsertTombstone {
			t.Fatalf("expected a tombstone, got %+v", plan.Ops)
		}
		ts := plan.Ops[0].Tombstone
		if ts.SeriesParentID != "notebook" || ts.OccurrenceIndex != 2 {
			t.Errorf("unexpected tombstone %+v", ts)
		}
	})

	t.Run("persisted this occurrence", func(t *testing.T) {
		plan, err := testPlanner().Delete(series.Persisted(stored), series.ScopeThisOccurrence)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan.Ops) != 2 || plan.Ops[0].Kind != series.OpDelete || plan.Ops[0].ID != "nb-3" || plan.Ops[1].Kind != series.OpInsertTombstone {
			t.Fatalf("expected delete plus tombstone, got %+v", plan.Ops)
		}
	})

	t.Run("all occurrences", func(t *testing.T) {
		plan, err := testPlanner().Delete(series.Persisted(stored), series.ScopeAllOccurrences)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpDeleteSeries || plan.Ops[0].ID != "notebook" {
			t.Fatalf("expected series delete, got %+v", plan.Ops)
		}
	})

	t.Run("template", func(t *testing.T) {
		plan, err := testPlanner().Delete(series.Persisted(tpl), series.ScopeThisOccurrence)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan.Ops) != 1 || plan.Ops[0].Kind != series.OpDeleteSeries {
			t.Fatalf("expected series delete, got %+v", plan.Ops)
		}
	})
}

func TestPlanner_Settle(t *testing.T) {
	tpl := classify(t, notebookTemplate())
	stored := propagateForTest(tpl, 1, "nb-1")
	state := series.SeriesState{
		Template:    tpl,
		Occurrences: []domain.Transaction{stored},
		Tombstones:  []domain.Tombstone{{ID: "t2", SeriesParentID: "notebook", OccurrenceIndex: 2}},
	}

	// March 10: slot 3 (March 15) is not due yet
	plan := testPlanner().Settle(state, date(2024, 3, 10))
	if len(plan.Ops) != 0 {
		t.Fatalf("expected nothing to settle, got %+v", plan.Ops)
	}

	plan = testPlanner().Settle(state, date(2024, 12, 1))
	if len(plan.Ops) != 2 {
		t.Fatalf("expected slots 3 and 4 settled, got %d ops", len(plan.Ops))
	}
	for i, op := range plan.Ops {
		tx := op.Transaction
		if op.Kind != series.OpInsert || tx.OccurrenceIndex != i+3 || tx.Diverged || tx.IsVirtual {
			t.Errorf("unexpected settled occurrence: %+v", tx)
		}
		if !tx.CreatedAt.Equal(tpl.CreatedAt) {
			t.Errorf("settled occurrence should keep the template creation time")
		}
	}
}

func TestResolveScope_DateOnlyOnDivergedOccurrence(t *testing.T) {
	tpl := classify(t, rentTemplate())
	occ := propagateForTest(tpl, 2, "rent-2")
	occ.Amount = decimal.RequireFromString("999.00")
	occ.Diverged = true

	patch := domain.TransactionPatch{Date: strPtr("2024-02-07")}
	s, err := series.ResolveScope(series.Persisted(occ), tpl, patch, nil)
	if err != nil || s != series.ScopeThisOccurrence {
		t.Fatalf("expected thisOccurrence, got %v (%v)", s, err)
	}

	// sending the diverged amount back unchanged still differs from the template
	patch.Amount = amountPtr("999.00")
	if _, err := series.ResolveScope(series.Persisted(occ), tpl, patch, nil); err == nil {
		t.Fatal("expected a scope choice for an amount that differs from the template")
	}
}

func TestPlanner_EditTemplateAnchorReindexes(t *testing.T) {
	tpl := classify(t, rentTemplate())

	first := propagateForTest(tpl, 1, "rent-1")
	diverged := propagateForTest(tpl, 4, "rent-4")
	diverged.Amount = decimal.RequireFromString("1300.00")
	diverged.Diverged = true
	state := &series.SeriesState{
		Template:    tpl,
		Occurrences: []domain.Transaction{first, diverged},
		Tombstones:  []domain.Tombstone{{ID: "ts-3", SeriesParentID: "rent", OccurrenceIndex: 3}},
	}

	plan, err := testPlanner().Edit(series.Persisted(tpl), domain.TransactionPatch{Date: strPtr("2024-02-05")}, series.ScopeAllOccurrences, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var deletedFirst, removedTombstone bool
	var movedTombstone *domain.Tombstone
	var reindexed *domain.Transaction
	for _, op := range plan.Ops {
		switch {
		case op.Kind == series.OpDelete && op.ID == "rent-1":
			deletedFirst = true
		case op.Kind == series.OpDeleteTombstone && op.ID == "ts-3":
			removedTombstone = true
		case op.Kind == series.OpInsertTombstone:
			ts := op.Tombstone
			movedTombstone = &ts
		case op.Kind == series.OpUpdate && op.Transaction.ID == "rent-4":
			tx := op.Transaction
			reindexed = &tx
		}
	}

	if !deletedFirst {
		t.Error("expected the January occurrence to leave the series")
	}
	if !removedTombstone || movedTombstone == nil || movedTombstone.OccurrenceIndex != 2 {
		t.Errorf("expected the March tombstone at index 2, got %+v", movedTombstone)
	}
	if reindexed == nil {
		t.Fatal("expected the diverged occurrence to be re-indexed")
	}
	if reindexed.OccurrenceIndex != 3 || reindexed.Date != date(2024, 4, 5) || !reindexed.Amount.Equal(decimal.RequireFromString("1300.00")) {
		t.Errorf("diverged occurrence must keep April and its amount, got %+v", reindexed)
	}
}
