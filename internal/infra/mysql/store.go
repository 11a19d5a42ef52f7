// Package mysql implements the persistence ports on MySQL / MariaDB through
// database/sql and go-sql-driver/mysql. Plans are applied inside one SQL
// transaction so a mutation is never half-written.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	driver "github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/resilience"
	"github.com/boddenberg/finance-tracker-api/internal/port"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

var tracer = otel.Tracer("mysql")

//go:embed schema.sql
var schema string

// errDuplicateEntry is MySQL's ER_DUP_ENTRY.
const errDuplicateEntry = 1062

// slotKey is the unique index over a stored occurrence's parent and index.
const slotKey = "uq_tx_series_slot"

// Config holds connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	MaxConns int
}

// DSN renders the driver connection string.
func (c Config) DSN() string {
	cfg := driver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// UPDATE reports matched rows, so an unchanged row is not "not found"
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// Store is the MySQL-backed implementation of port.Store.
type Store struct {
	db     *sql.DB
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

var _ port.Store = (*Store)(nil)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, c Config, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("mysql", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open DB connection: %w", err)
	}
	if c.MaxConns > 0 {
		db.SetMaxOpenConns(c.MaxConns)
		db.SetMaxIdleConns(c.MaxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	s := New(db, cb, rcfg, logger)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("mysql: connected", zap.String("addr", fmt.Sprintf("%s:%d", c.Host, c.Port)), zap.String("database", c.Database))
	return s, nil
}

// New wraps an existing handle.
func New(db *sql.DB, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) *Store {
	return &Store{db: db, cb: cb, cfg: rcfg, logger: logger}
}

// Migrate creates missing tables. The driver runs one statement per Exec, so
// the embedded schema is split on ';'.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

// run executes fn through the circuit breaker with retries and wraps
// transport failures as ErrExternalService.
func (s *Store) run(ctx context.Context, op string, fn func() error) error {
	err := resilience.Execute(s.cb, func() error {
		return resilience.RetryWithBackoff(ctx, s.cfg, fn)
	})
	if err == nil || resilience.IsPermanent(err) {
		return err
	}
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	s.logger.Error("mysql: query failed", zap.String("op", op), zap.Error(err))
	return &domain.ErrExternalService{Service: "mysql/" + op, Err: err}
}

func isDuplicate(err error) bool {
	var me *driver.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

// recordConflict maps a duplicate key on a transaction write: either the id
// or the series slot (one stored occurrence per parent and index) is taken.
func recordConflict(err error, id string) error {
	var me *driver.MySQLError
	if errors.As(err, &me) && strings.Contains(me.Message, slotKey) {
		return &domain.ErrConflict{Message: "occurrence already stored for this month"}
	}
	return &domain.ErrConflict{Message: "transaction already exists: " + id}
}

// ============================================================
// Transactions
// ============================================================

const recordColumns = `id, user_id, type, amount, description, category, date, payment_method,
	bank_id, credit_card_id, is_recurring, recurring_parent_id, recurring_index,
	is_installment, installment_parent_id, installment_number, total_installments,
	diverged, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.Record, error) {
	var (
		r    domain.Record
		date time.Time
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Type, &r.Amount, &r.Description, &r.Category, &date, &r.PaymentMethod,
		&r.BankID, &r.CreditCardID, &r.IsRecurring, &r.RecurringParentID, &r.RecurringIndex,
		&r.IsInstallment, &r.InstallmentParentID, &r.InstallmentNumber, &r.TotalInstallments,
		&r.Diverged, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return domain.Record{}, err
	}
	r.Date = civil.DateOf(date)
	return r, nil
}

func recordArgs(r domain.Record) []any {
	return []any{r.ID, r.UserID, r.Type, r.Amount, r.Description, r.Category, r.Date.String(), r.PaymentMethod,
		r.BankID, r.CreditCardID, r.IsRecurring, r.RecurringParentID, r.RecurringIndex,
		r.IsInstallment, r.InstallmentParentID, r.InstallmentNumber, r.TotalInstallments,
		r.Diverged, r.CreatedAt, r.UpdatedAt}
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]domain.Record, error) {
	var out []domain.Record
	err := s.run(ctx, op, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListMonthRecords(ctx context.Context, userID string, w domain.Window) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListMonthRecords")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("window", w.String()))

	return s.queryRecords(ctx, "list_month_records",
		`SELECT `+recordColumns+` FROM transactions
		 WHERE user_id = ?
		   AND (is_recurring OR is_installment OR recurring_parent_id <> '' OR installment_parent_id <> ''
		        OR date BETWEEN ? AND ?)
		 ORDER BY date, id`,
		userID, w.First().String(), w.Last().String())
}

func (s *Store) GetRecord(ctx context.Context, userID, id string) (*domain.Record, error) {
	ctx, span := tracer.Start(ctx, "MySQL.GetRecord")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", id))

	var rec domain.Record
	err := s.run(ctx, "get_record", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
		r, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "transaction", ID: id}
		}
		rec = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListSeries(ctx context.Context, userID, parentID string) ([]domain.Record, []domain.Tombstone, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListSeries")
	defer span.End()
	span.SetAttributes(attribute.String("series.parent_id", parentID))

	recs, err := s.queryRecords(ctx, "list_series",
		`SELECT `+recordColumns+` FROM transactions
		 WHERE user_id = ? AND (id = ? OR recurring_parent_id = ? OR installment_parent_id = ?)
		 ORDER BY (id = ?) DESC, date, id`,
		userID, parentID, parentID, parentID, parentID)
	if err != nil {
		return nil, nil, err
	}
	tombs, err := s.queryTombstones(ctx, "list_series_tombstones",
		`SELECT id, user_id, series_parent_id, occurrence_index, created_at FROM transaction_tombstones
		 WHERE user_id = ? AND series_parent_id = ? ORDER BY occurrence_index`, userID, parentID)
	if err != nil {
		return nil, nil, err
	}
	return recs, tombs, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListTemplates")
	defer span.End()

	return s.queryRecords(ctx, "list_templates",
		`SELECT `+recordColumns+` FROM transactions
		 WHERE (is_recurring OR is_installment) AND recurring_parent_id = '' AND installment_parent_id = ''
		 ORDER BY user_id, date, id`)
}

func (s *Store) ListUserTemplates(ctx context.Context, userID string) ([]domain.Record, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListUserTemplates")
	defer span.End()

	return s.queryRecords(ctx, "list_user_templates",
		`SELECT `+recordColumns+` FROM transactions
		 WHERE user_id = ? AND (is_recurring OR is_installment) AND recurring_parent_id = '' AND installment_parent_id = ''
		 ORDER BY date, id`, userID)
}

func (s *Store) ListTombstones(ctx context.Context, userID string) ([]domain.Tombstone, error) {
	ctx, span := tracer.Start(ctx, "MySQL.ListTombstones")
	defer span.End()

	return s.queryTombstones(ctx, "list_tombstones",
		`SELECT id, user_id, series_parent_id, occurrence_index, created_at FROM transaction_tombstones
		 WHERE user_id = ? ORDER BY series_parent_id, occurrence_index`, userID)
}

func (s *Store) queryTombstones(ctx context.Context, op, query string, args ...any) ([]domain.Tombstone, error) {
	var out []domain.Tombstone
	err := s.run(ctx, op, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t domain.Tombstone
			if err := rows.Scan(&t.ID, &t.UserID, &t.SeriesParentID, &t.OccurrenceIndex, &t.CreatedAt); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

const insertRecord = `INSERT INTO transactions (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) CreateRecord(ctx context.Context, rec domain.Record) error {
	ctx, span := tracer.Start(ctx, "MySQL.CreateRecord")
	defer span.End()

	return s.run(ctx, "create_record", func() error {
		_, err := s.db.ExecContext(ctx, insertRecord, recordArgs(rec)...)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "transaction already exists: " + rec.ID}
		}
		return err
	})
}

// ApplyPlan runs every op in one transaction; any failure rolls back all of
// them.
func (s *Store) ApplyPlan(ctx context.Context, userID string, plan series.Plan) error {
	ctx, span := tracer.Start(ctx, "MySQL.ApplyPlan")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.ops", len(plan.Ops)))

	return s.run(ctx, "apply_plan", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, op := range plan.Ops {
			if err := applyOp(ctx, tx, userID, op); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

func applyOp(ctx context.Context, tx *sql.Tx, userID string, op series.Op) error {
	switch op.Kind {
	case series.OpInsert:
		_, err := tx.ExecContext(ctx, insertRecord, recordArgs(series.ToRecord(op.Transaction))...)
		if isDuplicate(err) {
			return recordConflict(err, op.Transaction.ID)
		}
		return err

	case series.OpUpdate:
		r := series.ToRecord(op.Transaction)
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET type = ?, amount = ?, description = ?, category = ?, date = ?,
			   payment_method = ?, bank_id = ?, credit_card_id = ?, is_recurring = ?, recurring_parent_id = ?,
			   recurring_index = ?, is_installment = ?, installment_parent_id = ?, installment_number = ?,
			   total_installments = ?, diverged = ?, updated_at = ?
			 WHERE id = ? AND user_id = ?`,
			r.Type, r.Amount, r.Description, r.Category, r.Date.String(),
			r.PaymentMethod, r.BankID, r.CreditCardID, r.IsRecurring, r.RecurringParentID,
			r.RecurringIndex, r.IsInstallment, r.InstallmentParentID, r.InstallmentNumber,
			r.TotalInstallments, r.Diverged, r.UpdatedAt, r.ID, userID)
		if isDuplicate(err) {
			return recordConflict(err, r.ID)
		}
		return expectRows(res, err, "transaction", r.ID)

	case series.OpDelete:
		res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, op.ID, userID)
		return expectRows(res, err, "transaction", op.ID)

	case series.OpInsertTombstone:
		t := op.Tombstone
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transaction_tombstones (id, user_id, series_parent_id, occurrence_index, created_at)
			 VALUES (?, ?, ?, ?, ?)`, t.ID, t.UserID, t.SeriesParentID, t.OccurrenceIndex, t.CreatedAt)
		if isDuplicate(err) {
			return &domain.ErrConflict{Message: "occurrence already deleted"}
		}
		return err

	case series.OpDeleteTombstone:
		res, err := tx.ExecContext(ctx, `DELETE FROM transaction_tombstones WHERE id = ? AND user_id = ?`, op.ID, userID)
		return expectRows(res, err, "tombstone", op.ID)

	case series.OpDeleteSeries:
		res, err := tx.ExecContext(ctx,
			`DELETE FROM transactions
			 WHERE user_id = ? AND (id = ? OR recurring_parent_id = ? OR installment_parent_id = ?)`,
			userID, op.ID, op.ID, op.ID)
		if err := expectRows(res, err, "transaction", op.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM transaction_tombstones WHERE user_id = ? AND series_parent_id = ?`, userID, op.ID)
		return err
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

func expectRows(res sql.Result, err error, resource, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}

func (s *Store) ReferenceInUse(ctx context.Context, userID string, kind port.RefKind, id string) (bool, error) {
	column := "bank_id"
	if kind == port.RefCreditCard {
		column = "credit_card_id"
	}
	var inUse bool
	err := s.run(ctx, "reference_in_use", func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM transactions WHERE user_id = ? AND `+column+` = ?)`, userID, id).Scan(&inUse)
	})
	return inUse, err
}
