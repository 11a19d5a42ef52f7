package series

import (
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// Scope selects how far an edit or delete on a series member reaches.
type Scope int

const (
	ScopeThisOccurrence Scope = iota + 1
	ScopeAllOccurrences
)

func (s Scope) String() string {
	switch s {
	case ScopeThisOccurrence:
		return "thisOccurrence"
	case ScopeAllOccurrences:
		return "allOccurrences"
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// ScopeFromFlag maps the wire updateAll / deleteAll flag.
func ScopeFromFlag(all bool) Scope {
	if all {
		return ScopeAllOccurrences
	}
	return ScopeThisOccurrence
}

// OpKind is one kind of storage write inside a Plan.
type OpKind string

const (
	OpInsert          OpKind = "insert"
	OpUpdate          OpKind = "update"
	OpDelete          OpKind = "delete"
	OpInsertTombstone OpKind = "insert_tombstone"
	OpDeleteTombstone OpKind = "delete_tombstone"
	// OpDeleteSeries removes the template, every stored occurrence and every
	// tombstone of the series.
	OpDeleteSeries OpKind = "delete_series"
)

// Op is a single write. Which field is set depends on Kind.
type Op struct {
	Kind        OpKind
	Transaction domain.Transaction // insert, update
	ID          string             // delete, delete_tombstone, delete_series
	Tombstone   domain.Tombstone   // insert_tombstone
}

// Plan is the full set of writes for one mutation. Stores apply it as a unit
// where the backend allows it.
type Plan struct {
	Ops []Op

	// Result is the row the client sees after an edit, nil when the edited
	// row no longer exists (deletes, or an installment total shrunk below it).
	Result *domain.Transaction
}

// Touches reports whether the plan has any op of the given kind.
func (p Plan) Touches(kind OpKind) bool {
	for _, op := range p.Ops {
		if op.Kind == kind {
			return true
		}
	}
	return false
}

// SeriesState is what the planner needs to know about a series beyond the
// target row: the template and everything stored under it.
type SeriesState struct {
	Template    domain.Transaction
	Occurrences []domain.Transaction
	Tombstones  []domain.Tombstone
}

// Planner turns a target row plus a request into a Plan. It is pure: ids and
// timestamps come from the injected functions.
type Planner struct {
	NewID func() string
	Now   func() time.Time
}

// NewPlanner returns a planner backed by random UUIDs and the wall clock.
func NewPlanner() *Planner {
	return &Planner{
		NewID: uuid.NewString,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// ScopeRequired reports whether patch sets a series field (amount,
// description, category, type or payment method) to a value that differs from
// the template. Only then does the client have to choose a scope. Fields the
// patch leaves alone never count, so an occurrence that diverged earlier can
// still get a date-only edit. Templates and singles never need one.
func ScopeRequired(target Row, tpl domain.Transaction, patch domain.TransactionPatch) (bool, error) {
	tx := target.Transaction()
	if !tx.SeriesKind.IsOccurrence() {
		return false, nil
	}
	applied, err := patch.Apply(tx)
	if err != nil {
		return false, err
	}
	return (patch.Amount != nil && !applied.Amount.Equal(tpl.Amount)) ||
		(patch.Description != nil && applied.Description != tpl.Description) ||
		(patch.Category != nil && applied.Category != tpl.Category) ||
		(patch.Type != nil && applied.Type != tpl.Type) ||
		(patch.PaymentMethod != nil && applied.PaymentMethod != tpl.PaymentMethod), nil
}

// ResolveScope decides the effective scope of an edit. A template target is
// always series-wide. Without an explicit choice the edit applies to the
// occurrence alone, unless it changes a series field, which is rejected.
func ResolveScope(target Row, tpl domain.Transaction, patch domain.TransactionPatch, updateAll *bool) (Scope, error) {
	tx := target.Transaction()
	switch {
	case tx.SeriesKind.IsTemplate():
		return ScopeAllOccurrences, nil
	case !tx.SeriesKind.IsOccurrence():
		return ScopeThisOccurrence, nil
	case updateAll != nil:
		return ScopeFromFlag(*updateAll), nil
	}
	required, err := ScopeRequired(target, tpl, patch)
	if err != nil {
		return 0, err
	}
	if required {
		return 0, &domain.ErrValidation{
			Field:   "updateAll",
			Message: "informe se a alteração vale só para esta ocorrência ou para todas",
		}
	}
	return ScopeThisOccurrence, nil
}

// Edit plans an edit of target. state is required when target belongs to a
// series and is ignored for singles. Every resulting record is validated
// before any op is emitted.
func (p *Planner) Edit(target Row, patch domain.TransactionPatch, scope Scope, state *SeriesState) (Plan, error) {
	tx := target.Transaction()

	if tx.SeriesKind == domain.SeriesSingle {
		updated, err := patch.Apply(tx)
		if err != nil {
			return Plan{}, err
		}
		if err := domain.ValidateTransaction(updated); err != nil {
			return Plan{}, err
		}
		updated.UpdatedAt = p.Now()
		return Plan{Ops: []Op{{Kind: OpUpdate, Transaction: updated}}, Result: &updated}, nil
	}

	if state == nil {
		return Plan{}, fmt.Errorf("series state required to edit %s", tx.Ref())
	}
	if tx.SeriesKind.IsTemplate() {
		scope = ScopeAllOccurrences
	}

	switch scope {
	case ScopeThisOccurrence:
		return p.editOccurrence(target, patch)
	case ScopeAllOccurrences:
		return p.editSeries(target, patch, *state)
	}
	return Plan{}, fmt.Errorf("unknown scope %v", scope)
}

func (p *Planner) editOccurrence(target Row, patch domain.TransactionPatch) (Plan, error) {
	if patch.TotalInstallments != nil {
		return Plan{}, &domain.ErrValidation{
			Field:   "totalInstallments",
			Message: "o número de parcelas só pode ser alterado para todas as ocorrências",
		}
	}

	tx := target.Transaction()
	updated, err := patch.Apply(tx)
	if err != nil {
		return Plan{}, err
	}
	if err := domain.ValidateTransaction(updated); err != nil {
		return Plan{}, err
	}

	now := p.Now()
	updated.Diverged = true
	updated.UpdatedAt = now

	switch target.(type) {
	case VirtualRow:
		// materialize the slot; the stored record now shadows it
		updated.ID = p.NewID()
		updated.IsVirtual = false
		updated.CreatedAt = now
		return Plan{Ops: []Op{{Kind: OpInsert, Transaction: updated}}, Result: &updated}, nil
	default:
		return Plan{Ops: []Op{{Kind: OpUpdate, Transaction: updated}}, Result: &updated}, nil
	}
}

func (p *Planner) editSeries(target Row, patch domain.TransactionPatch, state SeriesState) (Plan, error) {
	tx := target.Transaction()
	tpl := state.Template
	if !tpl.SeriesKind.IsTemplate() {
		return Plan{}, &domain.ErrDataIntegrity{RecordID: tpl.ID, Reason: "series root is not a template"}
	}

	// the anchor date belongs to the template; from an occurrence the date
	// can only change for that occurrence
	if patch.Date != nil && tx.SeriesKind.IsOccurrence() {
		d, err := domain.ParseDate(*patch.Date)
		if err != nil {
			return Plan{}, err
		}
		if d != tx.Date {
			return Plan{}, &domain.ErrValidation{
				Field:   "date",
				Message: "a data só pode ser alterada nesta ocorrência",
			}
		}
		patch.Date = nil
	}
	if patch.TotalInstallments != nil && !tpl.SeriesKind.IsInstallment() {
		return Plan{}, &domain.ErrValidation{
			Field:   "totalInstallments",
			Message: "parcelas só se aplicam a transações parceladas",
		}
	}

	newTpl, err := patch.Apply(tpl)
	if err != nil {
		return Plan{}, err
	}
	if err := domain.ValidateTransaction(newTpl); err != nil {
		return Plan{}, err
	}

	now := p.Now()
	newTpl.UpdatedAt = now
	plan := Plan{Ops: []Op{{Kind: OpUpdate, Transaction: newTpl}}}

	// moving the anchor to another month re-indexes everything stored under
	// the series so each occurrence and tombstone keeps its month
	shift := domain.WindowOf(newTpl.Date).MonthsSince(tpl.Date)
	outside := func(k int) bool {
		return k < 1 || (newTpl.SeriesKind == domain.SeriesInstallmentTemplate && k > newTpl.TotalOccurrences)
	}

	// renumber in the direction that never lands on a slot still in use
	occs := slices.Clone(state.Occurrences)
	slices.SortFunc(occs, func(a, b domain.Transaction) int {
		if shift > 0 {
			return a.OccurrenceIndex - b.OccurrenceIndex
		}
		return b.OccurrenceIndex - a.OccurrenceIndex
	})

	var removals, moves, updates []Op
	var updatedTarget *domain.Transaction
	targetGone := false
	for _, occ := range occs {
		k := occ.OccurrenceIndex - shift
		if outside(k) {
			removals = append(removals, Op{Kind: OpDelete, ID: occ.ID})
			targetGone = targetGone || occ.ID == tx.ID
			continue
		}
		next := occ
		next.OccurrenceIndex = k
		next.TotalOccurrences = newTpl.TotalOccurrences
		if !occ.Diverged {
			next = propagate(newTpl, next)
		}
		if k != occ.OccurrenceIndex || !sameContent(next, occ) {
			next.UpdatedAt = now
			updates = append(updates, Op{Kind: OpUpdate, Transaction: next})
		}
		if occ.ID == tx.ID {
			t := next
			updatedTarget = &t
		}
	}
	for _, ts := range state.Tombstones {
		k := ts.OccurrenceIndex - shift
		if k == ts.OccurrenceIndex && !outside(k) {
			continue
		}
		removals = append(removals, Op{Kind: OpDeleteTombstone, ID: ts.ID})
		if !outside(k) {
			moved := ts
			moved.ID = p.NewID()
			moved.OccurrenceIndex = k
			moves = append(moves, Op{Kind: OpInsertTombstone, Tombstone: moved})
		}
	}
	plan.Ops = append(plan.Ops, removals...)
	plan.Ops = append(plan.Ops, moves...)
	plan.Ops = append(plan.Ops, updates...)

	switch {
	case tx.SeriesKind.IsTemplate():
		plan.Result = &newTpl
	case targetGone:
		plan.Result = nil
	case updatedTarget != nil:
		plan.Result = updatedTarget
	default:
		if v, ok := Synthesize(newTpl, tx.OccurrenceIndex-shift); ok {
			t := v.Transaction()
			plan.Result = &t
		}
	}
	return plan, nil
}

// propagate copies the series fields of tpl onto a pristine occurrence and
// re-derives its date from the template's anchor.
func propagate(tpl, occ domain.Transaction) domain.Transaction {
	occ.Type = tpl.Type
	occ.Amount = tpl.Amount
	occ.Description = tpl.Description
	occ.Category = tpl.Category
	occ.PaymentMethod = tpl.PaymentMethod
	occ.BankID = tpl.BankID
	occ.CreditCardID = tpl.CreditCardID
	occ.TotalOccurrences = tpl.TotalOccurrences
	occ.Date = SlotDate(tpl.Date, occ.OccurrenceIndex)
	return occ
}

func sameContent(a, b domain.Transaction) bool {
	return a.Type == b.Type &&
		a.Amount.Equal(b.Amount) &&
		a.Description == b.Description &&
		a.Category == b.Category &&
		a.PaymentMethod == b.PaymentMethod &&
		a.BankID == b.BankID &&
		a.CreditCardID == b.CreditCardID &&
		a.TotalOccurrences == b.TotalOccurrences &&
		a.Date == b.Date
}

// Delete plans a delete of target. A template target always removes the
// whole series.
func (p *Planner) Delete(target Row, scope Scope) (Plan, error) {
	tx := target.Transaction()

	switch {
	case tx.SeriesKind == domain.SeriesSingle:
		return Plan{Ops: []Op{{Kind: OpDelete, ID: tx.ID}}}, nil
	case tx.SeriesKind.IsTemplate():
		return Plan{Ops: []Op{{Kind: OpDeleteSeries, ID: tx.ID}}}, nil
	case scope == ScopeAllOccurrences:
		return Plan{Ops: []Op{{Kind: OpDeleteSeries, ID: tx.SeriesParentID}}}, nil
	case scope != ScopeThisOccurrence:
		return Plan{}, fmt.Errorf("unknown scope %v", scope)
	}

	tomb := Op{Kind: OpInsertTombstone, Tombstone: domain.Tombstone{
		ID:              p.NewID(),
		UserID:          tx.UserID,
		SeriesParentID:  tx.SeriesParentID,
		OccurrenceIndex: tx.OccurrenceIndex,
		CreatedAt:       p.Now(),
	}}

	if _, ok := target.(VirtualRow); ok {
		return Plan{Ops: []Op{tomb}}, nil
	}
	return Plan{Ops: []Op{{Kind: OpDelete, ID: tx.ID}, tomb}}, nil
}

// Settle plans the persistence of every due slot of a series that is neither
// stored nor tombstoned. A slot is due once its date is on or before today.
// Settled occurrences are pristine copies of the template and keep its
// creation time, so reads look the same before and after.
func (p *Planner) Settle(state SeriesState, today civil.Date) Plan {
	tpl := state.Template
	if !tpl.SeriesKind.IsTemplate() || tpl.Date.After(today) {
		return Plan{}
	}

	occupied := make(map[int]bool, len(state.Occurrences)+len(state.Tombstones))
	for _, o := range state.Occurrences {
		occupied[o.OccurrenceIndex] = true
	}
	for _, ts := range state.Tombstones {
		occupied[ts.OccurrenceIndex] = true
	}

	last := SlotOf(tpl, domain.WindowOf(today))
	if tpl.SeriesKind == domain.SeriesInstallmentTemplate && last > tpl.TotalOccurrences {
		last = tpl.TotalOccurrences
	}

	now := p.Now()
	var plan Plan
	for k := 1; k <= last; k++ {
		if occupied[k] {
			continue
		}
		v, ok := Synthesize(tpl, k)
		if !ok {
			continue
		}
		occ := v.Transaction()
		if occ.Date.After(today) {
			continue
		}
		occ.ID = p.NewID()
		occ.IsVirtual = false
		occ.UpdatedAt = now
		plan.Ops = append(plan.Ops, Op{Kind: OpInsert, Transaction: occ})
	}
	return plan
}
