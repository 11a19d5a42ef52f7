package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// ReferenceStore implementation: banks and credit cards
// ============================================================

type bankRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

func newBankRow(b *domain.Bank) bankRow {
	return bankRow{ID: b.ID, UserID: b.UserID, Name: b.Name, Color: b.Color, CreatedAt: b.CreatedAt}
}

func (r bankRow) toDomain() domain.Bank {
	return domain.Bank{ID: r.ID, UserID: r.UserID, Name: r.Name, Color: r.Color, CreatedAt: r.CreatedAt}
}

type cardRow struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Name       string          `json:"name"`
	Brand      string          `json:"brand"`
	Limit      decimal.Decimal `json:"card_limit"`
	ClosingDay int             `json:"closing_day"`
	DueDay     int             `json:"due_day"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newCardRow(c *domain.CreditCard) cardRow {
	return cardRow{
		ID:         c.ID,
		UserID:     c.UserID,
		Name:       c.Name,
		Brand:      c.Brand,
		Limit:      c.Limit,
		ClosingDay: c.ClosingDay,
		DueDay:     c.DueDay,
		CreatedAt:  c.CreatedAt,
	}
}

func (r cardRow) toDomain() domain.CreditCard {
	return domain.CreditCard{
		ID:         r.ID,
		UserID:     r.UserID,
		Name:       r.Name,
		Brand:      r.Brand,
		Limit:      r.Limit,
		ClosingDay: r.ClosingDay,
		DueDay:     r.DueDay,
		CreatedAt:  r.CreatedAt,
	}
}

// --- Banks ---

func (c *Client) ListBanks(ctx context.Context, userID string) ([]domain.Bank, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListBanks")
	defer span.End()

	var rows []bankRow
	err := c.call(ctx, "banks", func() error {
		rows = nil
		return c.getList(ctx, fmt.Sprintf("%s?%s&order=name.asc", tableBanks, eq("user_id", userID)), &rows)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Bank, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c *Client) GetBank(ctx context.Context, userID, id string) (*domain.Bank, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetBank")
	defer span.End()

	var rows []bankRow
	err := c.call(ctx, "banks", func() error {
		rows = nil
		if err := c.getList(ctx, fmt.Sprintf("%s?%s&%s&limit=1", tableBanks, eq("id", id), eq("user_id", userID)), &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "bank", ID: id}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b := rows[0].toDomain()
	return &b, nil
}

func (c *Client) CreateBank(ctx context.Context, bank *domain.Bank) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateBank")
	defer span.End()

	return c.call(ctx, "banks", func() error {
		_, err := c.doPost(ctx, tableBanks, newBankRow(bank))
		return err
	})
}

func (c *Client) UpdateBank(ctx context.Context, bank *domain.Bank) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateBank")
	defer span.End()

	return c.call(ctx, "banks", func() error {
		n, err := c.doPatch(ctx, fmt.Sprintf("%s?%s&%s", tableBanks, eq("id", bank.ID), eq("user_id", bank.UserID)),
			map[string]any{"name": bank.Name, "color": bank.Color})
		return expectMatched(n, err, "bank", bank.ID)
	})
}

func (c *Client) DeleteBank(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteBank")
	defer span.End()

	return c.call(ctx, "banks", func() error {
		n, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableBanks, eq("id", id), eq("user_id", userID)))
		return expectMatched(n, err, "bank", id)
	})
}

// --- Credit cards ---

func (c *Client) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCreditCards")
	defer span.End()

	var rows []cardRow
	err := c.call(ctx, "credit_cards", func() error {
		rows = nil
		return c.getList(ctx, fmt.Sprintf("%s?%s&order=name.asc", tableCards, eq("user_id", userID)), &rows)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CreditCard, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c *Client) GetCreditCard(ctx context.Context, userID, id string) (*domain.CreditCard, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCreditCard")
	defer span.End()

	var rows []cardRow
	err := c.call(ctx, "credit_cards", func() error {
		rows = nil
		if err := c.getList(ctx, fmt.Sprintf("%s?%s&%s&limit=1", tableCards, eq("id", id), eq("user_id", userID)), &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "credit card", ID: id}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	card := rows[0].toDomain()
	return &card, nil
}

func (c *Client) CreateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCreditCard")
	defer span.End()

	return c.call(ctx, "credit_cards", func() error {
		_, err := c.doPost(ctx, tableCards, newCardRow(card))
		return err
	})
}

func (c *Client) UpdateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCreditCard")
	defer span.End()

	return c.call(ctx, "credit_cards", func() error {
		n, err := c.doPatch(ctx, fmt.Sprintf("%s?%s&%s", tableCards, eq("id", card.ID), eq("user_id", card.UserID)),
			map[string]any{
				"name":        card.Name,
				"brand":       card.Brand,
				"card_limit":  card.Limit,
				"closing_day": card.ClosingDay,
				"due_day":     card.DueDay,
			})
		return expectMatched(n, err, "credit card", card.ID)
	})
}

func (c *Client) DeleteCreditCard(ctx context.Context, userID, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCreditCard")
	defer span.End()

	return c.call(ctx, "credit_cards", func() error {
		n, err := c.doDelete(ctx, fmt.Sprintf("%s?%s&%s", tableCards, eq("id", id), eq("user_id", userID)))
		return expectMatched(n, err, "credit card", id)
	})
}
