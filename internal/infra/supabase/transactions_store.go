package supabase

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/port"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

// ============================================================
// Transactions (implements port.TransactionStore)
// ============================================================

// ListMonthRecords runs two queries: every series member of the user and the
// records dated inside w. Singles are the only rows the second one adds.
func (c *Client) ListMonthRecords(ctx context.Context, userID string, w domain.Window) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMonthRecords")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("window", w.String()))

	var members, month []domain.Record
	err := c.call(ctx, "transactions", func() error {
		members, month = nil, nil
		path := fmt.Sprintf("%s?%s&or=(is_recurring.is.true,is_installment.is.true,recurring_index.gt.0,installment_number.gt.0)&order=date.asc",
			tableTransactions, eq("user_id", userID))
		if err := c.getList(ctx, path, &members); err != nil {
			return err
		}
		path = fmt.Sprintf("%s?%s&date=gte.%s&date=lte.%s&order=date.asc",
			tableTransactions, eq("user_id", userID), w.First(), w.Last())
		return c.getList(ctx, path, &month)
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(members))
	out := make([]domain.Record, 0, len(members)+len(month))
	for _, r := range append(members, month...) {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) GetRecord(ctx context.Context, userID, id string) (*domain.Record, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetRecord")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	var rows []domain.Record
	err := c.call(ctx, "transactions", func() error {
		rows = nil
		path := fmt.Sprintf("%s?%s&%s&limit=1", tableTransactions, eq("id", id), eq("user_id", userID))
		if err := c.getList(ctx, path, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "transaction", ID: id}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

func (c *Client) ListSeries(ctx context.Context, userID, parentID string) ([]domain.Record, []domain.Tombstone, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSeries")
	defer span.End()
	span.SetAttributes(attribute.String("series.parent_id", parentID))

	var (
		recs  []domain.Record
		tombs []domain.Tombstone
	)
	err := c.call(ctx, "transactions", func() error {
		recs, tombs = nil, nil
		path := fmt.Sprintf("%s?%s&or=(id.eq.%s,recurring_parent_id.eq.%s,installment_parent_id.eq.%s)&order=date.asc",
			tableTransactions, eq("user_id", userID), parentID, parentID, parentID)
		if err := c.getList(ctx, path, &recs); err != nil {
			return err
		}
		path = fmt.Sprintf("%s?%s&%s&order=occurrence_index.asc",
			tableTombstones, eq("user_id", userID), eq("series_parent_id", parentID))
		return c.getList(ctx, path, &tombs)
	})
	if err != nil {
		return nil, nil, err
	}

	// template first
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID == parentID && recs[j].ID != parentID })
	return recs, tombs, nil
}

func (c *Client) ListTemplates(ctx context.Context) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTemplates")
	defer span.End()

	return c.listTemplates(ctx, fmt.Sprintf("%s?or=(is_recurring.is.true,is_installment.is.true)&order=user_id.asc,date.asc", tableTransactions))
}

func (c *Client) ListUserTemplates(ctx context.Context, userID string) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUserTemplates")
	defer span.End()

	return c.listTemplates(ctx, fmt.Sprintf("%s?%s&or=(is_recurring.is.true,is_installment.is.true)&order=date.asc", tableTransactions, eq("user_id", userID)))
}

func (c *Client) listTemplates(ctx context.Context, path string) ([]domain.Record, error) {
	var rows []domain.Record
	err := c.call(ctx, "transactions", func() error {
		rows = nil
		return c.getList(ctx, path, &rows)
	})
	if err != nil {
		return nil, err
	}

	// legacy occurrences may carry the template flags too
	out := rows[:0]
	for _, r := range rows {
		if r.ParentID() == "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) ListTombstones(ctx context.Context, userID string) ([]domain.Tombstone, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTombstones")
	defer span.End()

	var tombs []domain.Tombstone
	err := c.call(ctx, "tombstones", func() error {
		tombs = nil
		return c.getList(ctx, fmt.Sprintf("%s?%s", tableTombstones, eq("user_id", userID)), &tombs)
	})
	return tombs, err
}

func (c *Client) CreateRecord(ctx context.Context, rec domain.Record) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateRecord")
	defer span.End()

	return c.call(ctx, "transactions", func() error {
		_, err := c.doPost(ctx, tableTransactions, recordRow(rec))
		return err
	})
}

// ApplyPlan sends one request per op. PostgREST offers no multi-statement
// transaction, so a failure midway leaves the earlier ops applied; series
// deletes remove the template last so a retry still finds the series.
func (c *Client) ApplyPlan(ctx context.Context, userID string, plan series.Plan) error {
	ctx, span := tracer.Start(ctx, "Supabase.ApplyPlan")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.ops", len(plan.Ops)))

	for i, op := range plan.Ops {
		if err := c.call(ctx, "transactions", func() error { return c.applyOp(ctx, userID, op) }); err != nil {
			if i > 0 {
				c.logger.Error("supabase: plan partially applied",
					zap.String("user_id", userID),
					zap.Int("applied", i),
					zap.Int("total", len(plan.Ops)),
					zap.Error(err),
				)
			}
			return err
		}
	}
	return nil
}

func (c *Client) applyOp(ctx context.Context, userID string, op series.Op) error {
	switch op.Kind {
	case series.OpInsert:
		r := series.ToRecord(op.Transaction)
		if err := c.ensureSlotFree(ctx, userID, r); err != nil {
			return err
		}
		_, err := c.doPost(ctx, tableTransactions, recordRow(r))
		return err

	case series.OpUpdate:
		r := series.ToRecord(op.Transaction)
		if err := c.ensureSlotFree(ctx, userID, r); err != nil {
			return err
		}
		n, err := c.doPatch(ctx, fmt.Sprintf("%s?%s&%s", tableTransactions, eq("id", r.ID), eq("user_id", userID)), recordRow(r))
		return expectMatched(n, err, "transaction", r.ID)

	case series.OpDelete:
		n, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableTransactions, eq("id", op.ID), eq("user_id", userID)))
		return expectMatched(n, err, "transaction", op.ID)

	case series.OpInsertTombstone:
		_, err := c.doPost(ctx, tableTombstones, op.Tombstone)
		return err

	case series.OpDeleteTombstone:
		n, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableTombstones, eq("id", op.ID), eq("user_id", userID)))
		return expectMatched(n, err, "tombstone", op.ID)

	case series.OpDeleteSeries:
		if _, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&or=(recurring_parent_id.eq.%s,installment_parent_id.eq.%s)",
			tableTransactions, eq("user_id", userID), op.ID, op.ID)); err != nil {
			return err
		}
		if _, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableTombstones, eq("user_id", userID), eq("series_parent_id", op.ID))); err != nil {
			return err
		}
		n, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableTransactions, eq("id", op.ID), eq("user_id", userID)))
		return expectMatched(n, err, "transaction", op.ID)
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

// ensureSlotFree rejects writing an occurrence into a slot another stored
// occurrence already holds. A series_slot unique index on the table closes the
// remaining race window; its violation maps to the same conflict.
func (c *Client) ensureSlotFree(ctx context.Context, userID string, r domain.Record) error {
	parent := r.ParentID()
	if parent == "" {
		return nil
	}
	parentCol, slotCol := "recurring_parent_id", "recurring_index"
	if r.InstallmentParentID != "" {
		parentCol, slotCol = "installment_parent_id", "installment_number"
	}

	var rows []struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("%s?select=id&%s&%s&%s&id=neq.%s&limit=1",
		tableTransactions, eq("user_id", userID), eq(parentCol, parent), eq(slotCol, strconv.Itoa(r.Slot())), url.QueryEscape(r.ID))
	if err := c.getList(ctx, path, &rows); err != nil {
		return err
	}
	if len(rows) > 0 {
		return &domain.ErrConflict{Message: slotTakenMessage}
	}
	return nil
}

func (c *Client) ReferenceInUse(ctx context.Context, userID string, kind port.RefKind, id string) (bool, error) {
	column := "bank_id"
	if kind == port.RefCreditCard {
		column = "credit_card_id"
	}

	var rows []struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "transactions", func() error {
		rows = nil
		path := fmt.Sprintf("%s?select=id&%s&%s&limit=1", tableTransactions, eq("user_id", userID), eq(column, id))
		return c.getList(ctx, path, &rows)
	})
	return len(rows) > 0, err
}

// recordRow spells out every column so a PATCH also clears fields.
func recordRow(r domain.Record) map[string]any {
	return map[string]any{
		"id":                    r.ID,
		"user_id":               r.UserID,
		"type":                  r.Type,
		"amount":                r.Amount,
		"description":           r.Description,
		"category":              r.Category,
		"date":                  r.Date,
		"payment_method":        r.PaymentMethod,
		"bank_id":               r.BankID,
		"credit_card_id":        r.CreditCardID,
		"is_recurring":          r.IsRecurring,
		"recurring_parent_id":   r.RecurringParentID,
		"recurring_index":       r.RecurringIndex,
		"is_installment":        r.IsInstallment,
		"installment_parent_id": r.InstallmentParentID,
		"installment_number":    r.InstallmentNumber,
		"total_installments":    r.TotalInstallments,
		"diverged":              r.Diverged,
		"created_at":            r.CreatedAt,
		"updated_at":            r.UpdatedAt,
	}
}

func expectMatched(n int, err error, resource, id string) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}
