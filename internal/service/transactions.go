// Package service provides the business logic layer (use cases).
// TransactionService reads months through the series materializer and turns
// edits and deletes into plans applied by the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
	"github.com/boddenberg/finance-tracker-api/internal/port"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

var txTracer = otel.Tracer("service/transactions")

// TransactionService orchestrates transaction reads and scoped mutations.
type TransactionService struct {
	store   port.TransactionStore
	refs    *ReferenceService
	planner *series.Planner
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTransactionService creates a transaction service.
func NewTransactionService(store port.TransactionStore, refs *ReferenceService, planner *series.Planner, metrics *observability.Metrics, logger *zap.Logger) *TransactionService {
	return &TransactionService{store: store, refs: refs, planner: planner, metrics: metrics, logger: logger}
}

// ============================================================
// Create: POST /transactions
// ============================================================

// Create persists a single transaction or the template of a new series.
func (s *TransactionService) Create(ctx context.Context, userID string, in domain.TransactionInput) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Create")
	defer span.End()
	defer s.observe("create", time.Now())

	tx, err := in.Build(userID)
	if err != nil {
		return nil, err
	}
	if err := s.refs.checkReferences(ctx, tx); err != nil {
		return nil, err
	}

	now := s.planner.Now()
	tx.ID = s.planner.NewID()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := s.store.CreateRecord(ctx, series.ToRecord(tx)); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("transaction.id", tx.ID), attribute.String("series.kind", string(tx.SeriesKind)))
	s.logger.Info("transaction created",
		zap.String("user_id", userID),
		zap.String("transaction_id", tx.ID),
		zap.String("series_kind", string(tx.SeriesKind)),
	)
	return &tx, nil
}

// ============================================================
// Reads
// ============================================================

// Get returns the row addressed by ref: a stored id or an occurrence
// reference "<parentId>@<k>".
func (s *TransactionService) Get(ctx context.Context, userID, ref string) (series.Row, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref))

	row, _, err := s.resolve(ctx, userID, ref)
	return row, err
}

// ListMonth returns the materialized rows of w. Records and tombstones are
// loaded concurrently; both must arrive before anything is materialized.
func (s *TransactionService) ListMonth(ctx context.Context, userID string, w domain.Window) (series.Result, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.ListMonth")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("window", w.String()))
	defer s.observe("list_month", time.Now())

	var (
		records    []domain.Record
		tombstones []domain.Tombstone
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.store.ListMonthRecords(gctx, userID, w)
		return err
	})
	g.Go(func() error {
		var err error
		tombstones, err = s.store.ListTombstones(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.countExternal(err)
		return series.Result{}, err
	}

	res := series.Materialize(series.Input{Records: records, Tombstones: tombstones, Window: w})

	virtual := res.VirtualCount()
	s.metrics.RecordMaterialized(len(res.Rows)-virtual, virtual, len(res.Warnings))
	for _, warn := range res.Warnings {
		s.logger.Warn("data integrity warning",
			zap.String("user_id", userID),
			zap.String("window", w.String()),
			zap.String("record_id", warn.RecordID),
			zap.String("parent_id", warn.ParentID),
			zap.String("reason", warn.Reason),
		)
	}
	span.SetAttributes(attribute.Int("rows", len(res.Rows)), attribute.Int("rows.virtual", virtual))
	return res, nil
}

// ============================================================
// Edit: PUT /transactions/{id}
// ============================================================

// Edit applies req to the row addressed by ref and returns the row as the
// client now sees it. nil means the row no longer exists after the edit.
func (s *TransactionService) Edit(ctx context.Context, userID, ref string, req domain.EditRequest) (*domain.Transaction, error) {
	ctx, span := txTracer.Start(ctx, "TransactionService.Edit")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref))
	defer s.observe("edit", time.Now())

	if req.TransactionPatch.IsEmpty() {
		return nil, &domain.ErrValidation{Field: "body", Message: "nenhum campo para alterar"}
	}

	target, state, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return nil, err
	}

	tpl := target.Transaction()
	if state != nil {
		tpl = state.Template
	}
	scope, err := series.ResolveScope(target, tpl, req.TransactionPatch, req.UpdateAll)
	if err != nil {
		return nil, err
	}

	plan, err := s.planner.Edit(target, req.TransactionPatch, scope, state)
	if err != nil {
		return nil, err
	}
	if err := s.checkPlanReferences(ctx, plan); err != nil {
		return nil, err
	}

	if err := s.apply(ctx, userID, plan); err != nil {
		return nil, err
	}
	s.metrics.IncrMutation("edit", scope.String())
	s.logger.Info("transaction edited",
		zap.String("user_id", userID),
		zap.String("ref", ref),
		zap.String("scope", scope.String()),
		zap.Int("ops", len(plan.Ops)),
	)
	return plan.Result, nil
}

// checkPlanReferences validates the bank and card of every record the plan
// writes, including a template updated through one of its occurrences.
func (s *TransactionService) checkPlanReferences(ctx context.Context, plan series.Plan) error {
	checked := make(map[[2]string]bool)
	for _, op := range plan.Ops {
		if op.Kind != series.OpInsert && op.Kind != series.OpUpdate {
			continue
		}
		key := [2]string{op.Transaction.BankID, op.Transaction.CreditCardID}
		if checked[key] {
			continue
		}
		checked[key] = true
		if err := s.refs.checkReferences(ctx, op.Transaction); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================
// Delete: DELETE /transactions/{id}
// ============================================================

// Delete removes the row addressed by ref. deleteAll selects the whole series
// for occurrences; templates always take the series with them.
func (s *TransactionService) Delete(ctx context.Context, userID, ref string, deleteAll bool) error {
	ctx, span := txTracer.Start(ctx, "TransactionService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref), attribute.Bool("delete_all", deleteAll))
	defer s.observe("delete", time.Now())

	target, _, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return err
	}
	return s.delete(ctx, userID, ref, target, series.ScopeFromFlag(deleteAll))
}

// DeleteSeries cascade-deletes the series ref belongs to. kind must match the
// series: DELETE /transactions/{id}/recurring on an installment is rejected.
func (s *TransactionService) DeleteSeries(ctx context.Context, userID, ref string, kind domain.SeriesKind) error {
	ctx, span := txTracer.Start(ctx, "TransactionService.DeleteSeries")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref), attribute.String("series.kind", string(kind)))
	defer s.observe("delete_series", time.Now())

	target, _, err := s.resolve(ctx, userID, ref)
	if err != nil {
		return err
	}
	tx := target.Transaction()
	switch {
	case kind == domain.SeriesRecurringTemplate && !tx.SeriesKind.IsRecurring():
		return &domain.ErrValidation{Field: "id", Message: "transação não é recorrente"}
	case kind == domain.SeriesInstallmentTemplate && !tx.SeriesKind.IsInstallment():
		return &domain.ErrValidation{Field: "id", Message: "transação não é parcelada"}
	}
	return s.delete(ctx, userID, ref, target, series.ScopeAllOccurrences)
}

func (s *TransactionService) delete(ctx context.Context, userID, ref string, target series.Row, scope series.Scope) error {
	plan, err := s.planner.Delete(target, scope)
	if err != nil {
		return err
	}
	if err := s.apply(ctx, userID, plan); err != nil {
		return err
	}

	effective := scope
	if target.Transaction().SeriesKind.IsTemplate() {
		effective = series.ScopeAllOccurrences
	}
	s.metrics.IncrMutation("delete", effective.String())
	s.logger.Info("transaction deleted",
		zap.String("user_id", userID),
		zap.String("ref", ref),
		zap.String("scope", effective.String()),
	)
	return nil
}

// ============================================================
// Target resolution
// ============================================================

// resolve loads the row addressed by ref and, for series members, the state
// of its series. Virtual rows are re-derived from the template so a client
// can address them before they are stored.
func (s *TransactionService) resolve(ctx context.Context, userID, ref string) (series.Row, *series.SeriesState, error) {
	if occRef, ok := domain.ParseOccurrenceRef(ref); ok {
		return s.resolveSlot(ctx, userID, occRef)
	}

	rec, err := s.store.GetRecord(ctx, userID, ref)
	if err != nil {
		return nil, nil, err
	}
	tx, err := series.Classify(*rec)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case tx.SeriesKind == domain.SeriesSingle:
		return series.Persisted(tx), nil, nil
	case tx.SeriesKind.IsTemplate():
		state, err := s.loadState(ctx, userID, tx.ID)
		if err != nil {
			return nil, nil, err
		}
		return series.Persisted(state.Template), state, nil
	}

	state, err := s.loadState(ctx, userID, tx.SeriesParentID)
	if err != nil {
		return nil, nil, err
	}
	tx.TotalOccurrences = state.Template.TotalOccurrences
	return series.Persisted(tx), state, nil
}

func (s *TransactionService) resolveSlot(ctx context.Context, userID string, ref domain.OccurrenceRef) (series.Row, *series.SeriesState, error) {
	state, err := s.loadState(ctx, userID, ref.ParentID)
	if err != nil {
		return nil, nil, err
	}
	for _, occ := range state.Occurrences {
		if occ.OccurrenceIndex == ref.Index {
			return series.Persisted(occ), state, nil
		}
	}
	for _, ts := range state.Tombstones {
		if ts.OccurrenceIndex == ref.Index {
			return nil, nil, &domain.ErrNotFound{Resource: "transaction", ID: ref.String()}
		}
	}
	v, ok := series.Synthesize(state.Template, ref.Index)
	if !ok {
		return nil, nil, &domain.ErrNotFound{Resource: "transaction", ID: ref.String()}
	}
	return v, state, nil
}

// loadState reads a series and classifies its members. Members that fail to
// classify are left out and logged; a broken template fails the whole call.
func (s *TransactionService) loadState(ctx context.Context, userID, parentID string) (*series.SeriesState, error) {
	recs, tombs, err := s.store.ListSeries(ctx, userID, parentID)
	if err != nil {
		s.countExternal(err)
		return nil, err
	}
	if len(recs) == 0 || recs[0].ID != parentID {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: parentID}
	}

	tpl, err := series.Classify(recs[0])
	if err != nil {
		return nil, err
	}
	if !tpl.SeriesKind.IsTemplate() {
		return nil, &domain.ErrDataIntegrity{RecordID: parentID, Reason: "series parent is not a template"}
	}

	state := &series.SeriesState{Template: tpl, Tombstones: tombs}
	for _, rec := range recs[1:] {
		occ, err := series.Classify(rec)
		if err != nil || occ.SeriesKind != tpl.SeriesKind.OccurrenceKind() {
			s.logger.Warn("skipping unresolvable series member",
				zap.String("user_id", userID),
				zap.String("parent_id", parentID),
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		occ.TotalOccurrences = tpl.TotalOccurrences
		state.Occurrences = append(state.Occurrences, occ)
	}
	return state, nil
}

func (s *TransactionService) apply(ctx context.Context, userID string, plan series.Plan) error {
	if len(plan.Ops) == 0 {
		return nil
	}
	if err := s.store.ApplyPlan(ctx, userID, plan); err != nil {
		s.countExternal(err)
		return fmt.Errorf("apply plan: %w", err)
	}
	return nil
}

func (s *TransactionService) observe(op string, start time.Time) {
	s.metrics.RecordRequestDuration(op, time.Since(start))
}

func (s *TransactionService) countExternal(err error) {
	var ext *domain.ErrExternalService
	if errors.As(err, &ext) {
		s.metrics.IncrExternalError(ext.Service)
	}
}

// asReferenceError turns a missing bank or card into a validation error on
// the transaction field that referenced it.
func asReferenceError(err error, field, msg string) error {
	var notFound *domain.ErrNotFound
	if errors.As(err, &notFound) {
		return &domain.ErrValidation{Field: field, Message: msg}
	}
	return err
}
