package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// Banks
// ============================================================

func (s *Store) ListBanks(ctx context.Context, userID string) ([]domain.Bank, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListBanks")
	defer span.End()

	out := []domain.Bank{}
	err := s.run(ctx, "list_banks", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, user_id, name, color, created_at FROM banks WHERE user_id = ? ORDER BY name`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var b domain.Bank
			if err := rows.Scan(&b.ID, &b.UserID, &b.Name, &b.Color, &b.CreatedAt); err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) GetBank(ctx context.Context, userID, id string) (*domain.Bank, error) {
	var b domain.Bank
	err := s.run(ctx, "get_bank", func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, name, color, created_at FROM banks WHERE id = ? AND user_id = ?`, id, userID).
			Scan(&b.ID, &b.UserID, &b.Name, &b.Color, &b.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "bank", ID: id}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBank(ctx context.Context, bank *domain.Bank) error {
	return s.run(ctx, "create_bank", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO banks (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
			bank.ID, bank.UserID, bank.Name, bank.Color, bank.CreatedAt)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "banco já cadastrado: " + bank.Name}
		}
		return err
	})
}

func (s *Store) UpdateBank(ctx context.Context, bank *domain.Bank) error {
	return s.run(ctx, "update_bank", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE banks SET name = ?, color = ? WHERE id = ? AND user_id = ?`,
			bank.Name, bank.Color, bank.ID, bank.UserID)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "banco já cadastrado: " + bank.Name}
		}
		return expectRows(res, err, "bank", bank.ID)
	})
}

func (s *Store) DeleteBank(ctx context.Context, userID, id string) error {
	return s.run(ctx, "delete_bank", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM banks WHERE id = ? AND user_id = ?`, id, userID)
		return expectRows(res, err, "bank", id)
	})
}

// ============================================================
// Credit cards
// ============================================================

const cardColumns = `id, user_id, name, brand, card_limit, closing_day, due_day, created_at`

func scanCard(row scanner) (domain.CreditCard, error) {
	var c domain.CreditCard
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Brand, &c.Limit, &c.ClosingDay, &c.DueDay, &c.CreatedAt)
	return c, err
}

func (s *Store) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListCreditCards")
	defer span.End()

	out := []domain.CreditCard{}
	err := s.run(ctx, "list_credit_cards", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+cardColumns+` FROM credit_cards WHERE user_id = ? ORDER BY name`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCard(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) GetCreditCard(ctx context.Context, userID, id string) (*domain.CreditCard, error) {
	var card domain.CreditCard
	err := s.run(ctx, "get_credit_card", func() error {
		c, err := scanCard(s.db.QueryRowContext(ctx,
			`SELECT `+cardColumns+` FROM credit_cards WHERE id = ? AND user_id = ?`, id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "credit card", ID: id}
		}
		card = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *Store) CreateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	return s.run(ctx, "create_credit_card", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO credit_cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, card.UserID, card.Name, card.Brand, card.Limit, card.ClosingDay, card.DueDay, card.CreatedAt)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "cartão já cadastrado: " + card.Name}
		}
		return err
	})
}

func (s *Store) UpdateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	return s.run(ctx, "update_credit_card", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE credit_cards SET name = ?, brand = ?, card_limit = ?, closing_day = ?, due_day = ?
			 WHERE id = ? AND user_id = ?`,
			card.Name, card.Brand, card.Limit, card.ClosingDay, card.DueDay, card.ID, card.UserID)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "cartão já cadastrado: " + card.Name}
		}
		return expectRows(res, err, "credit card", card.ID)
	})
}

func (s *Store) DeleteCreditCard(ctx context.Context, userID, id string) error {
	return s.run(ctx, "delete_credit_card", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM credit_cards WHERE id = ? AND user_id = ?`, id, userID)
		return expectRows(res, err, "credit card", id)
	})
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	return s.run(ctx, "create_user", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Name, strings.ToLower(user.Email), user.PasswordHash, user.CreatedAt)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "e-mail já cadastrado"}
		}
		return err
	})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "get_user_by_email", `email = ?`, strings.ToLower(email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "get_user_by_id", `id = ?`, id)
}

func (s *Store) getUser(ctx context.Context, op, where string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.run(ctx, op, func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, email, password_hash, created_at FROM users WHERE `+where, arg).
			Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "user", ID: arg}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
