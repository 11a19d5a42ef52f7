// Package memory is an in-process implementation of every persistence port.
// It is safe for concurrent use and backs local runs and service tests.
// Data is lost on restart; use the mysql or supabase store for persistence.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/port"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

// Store keeps records, tombstones and reference data in maps guarded by one
// RWMutex, which makes every plan atomic.
type Store struct {
	mu         sync.RWMutex
	records    map[string]domain.Record
	tombstones map[string]domain.Tombstone
	banks      map[string]domain.Bank
	cards      map[string]domain.CreditCard
	users      map[string]domain.User
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:    make(map[string]domain.Record),
		tombstones: make(map[string]domain.Tombstone),
		banks:      make(map[string]domain.Bank),
		cards:      make(map[string]domain.CreditCard),
		users:      make(map[string]domain.User),
	}
}

var _ port.Store = (*Store)(nil)

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

// ============================================================
// Transactions
// ============================================================

func (s *Store) ListMonthRecords(ctx context.Context, userID string, w domain.Window) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if isSeriesMember(r) || w.Contains(r.Date) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *Store) ListTombstones(ctx context.Context, userID string) ([]domain.Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Tombstone
	for _, t := range s.tombstones {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, userID, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok || r.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return &r, nil
}

func (s *Store) ListSeries(ctx context.Context, userID, parentID string) ([]domain.Record, []domain.Tombstone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []domain.Record
	if tpl, ok := s.records[parentID]; ok && tpl.UserID == userID {
		recs = append(recs, tpl)
	}
	var occs []domain.Record
	for _, r := range s.records {
		if r.UserID == userID && r.ParentID() == parentID {
			occs = append(occs, r)
		}
	}
	sortRecords(occs)
	recs = append(recs, occs...)

	var tombs []domain.Tombstone
	for _, t := range s.tombstones {
		if t.UserID == userID && t.SeriesParentID == parentID {
			tombs = append(tombs, t)
		}
	}
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].OccurrenceIndex < tombs[j].OccurrenceIndex })
	return recs, tombs, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]domain.Record, error) {
	return s.templates(func(string) bool { return true }), nil
}

func (s *Store) ListUserTemplates(ctx context.Context, userID string) ([]domain.Record, error) {
	return s.templates(func(uid string) bool { return uid == userID }), nil
}

func (s *Store) templates(include func(userID string) bool) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, r := range s.records {
		if (r.IsRecurring || r.IsInstallment) && r.ParentID() == "" && include(r.UserID) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func (s *Store) CreateRecord(ctx context.Context, rec domain.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return &domain.ErrConflict{Message: "transaction already exists: " + rec.ID}
	}
	s.records[rec.ID] = rec
	return nil
}

// ApplyPlan runs the plan against a copy of the transaction state and swaps
// it in only when every op succeeded, so a failing plan leaves the store
// untouched.
func (s *Store) ApplyPlan(ctx context.Context, userID string, plan series.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &planWork{
		userID:     userID,
		records:    maps.Clone(s.records),
		tombstones: maps.Clone(s.tombstones),
	}
	for _, op := range plan.Ops {
		if err := w.apply(op); err != nil {
			return err
		}
	}
	s.records, s.tombstones = w.records, w.tombstones
	return nil
}

type planWork struct {
	userID     string
	records    map[string]domain.Record
	tombstones map[string]domain.Tombstone
}

func (w *planWork) apply(op series.Op) error {
	switch op.Kind {
	case series.OpInsert:
		if op.Transaction.ID == "" || op.Transaction.UserID != w.userID {
			return fmt.Errorf("invalid insert for %q", op.Transaction.ID)
		}
		if _, exists := w.records[op.Transaction.ID]; exists {
			return &domain.ErrConflict{Message: "transaction already exists: " + op.Transaction.ID}
		}
		return w.put(series.ToRecord(op.Transaction))
	case series.OpUpdate:
		if r, ok := w.records[op.Transaction.ID]; !ok || r.UserID != w.userID {
			return &domain.ErrNotFound{Resource: "transaction", ID: op.Transaction.ID}
		}
		return w.put(series.ToRecord(op.Transaction))
	case series.OpDelete:
		if r, ok := w.records[op.ID]; !ok || r.UserID != w.userID {
			return &domain.ErrNotFound{Resource: "transaction", ID: op.ID}
		}
		delete(w.records, op.ID)
	case series.OpDeleteSeries:
		if r, ok := w.records[op.ID]; !ok || r.UserID != w.userID {
			return &domain.ErrNotFound{Resource: "transaction", ID: op.ID}
		}
		delete(w.records, op.ID)
		for id, r := range w.records {
			if r.UserID == w.userID && r.ParentID() == op.ID {
				delete(w.records, id)
			}
		}
		for id, t := range w.tombstones {
			if t.UserID == w.userID && t.SeriesParentID == op.ID {
				delete(w.tombstones, id)
			}
		}
	case series.OpInsertTombstone:
		for _, t := range w.tombstones {
			if t.SeriesParentID == op.Tombstone.SeriesParentID && t.OccurrenceIndex == op.Tombstone.OccurrenceIndex {
				return &domain.ErrConflict{Message: "occurrence already deleted"}
			}
		}
		w.tombstones[op.Tombstone.ID] = op.Tombstone
	case series.OpDeleteTombstone:
		if t, ok := w.tombstones[op.ID]; !ok || t.UserID != w.userID {
			return &domain.ErrNotFound{Resource: "tombstone", ID: op.ID}
		}
		delete(w.tombstones, op.ID)
	default:
		return fmt.Errorf("unknown op %q", op.Kind)
	}
	return nil
}

// put stores rec, keeping at most one stored occurrence per series slot.
func (w *planWork) put(rec domain.Record) error {
	if parent := rec.ParentID(); parent != "" {
		for id, r := range w.records {
			if id != rec.ID && r.ParentID() == parent && r.Slot() == rec.Slot() {
				return &domain.ErrConflict{Message: "occurrence already stored for this month"}
			}
		}
	}
	w.records[rec.ID] = rec
	return nil
}

func (s *Store) ReferenceInUse(ctx context.Context, userID string, kind port.RefKind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.UserID != userID {
			continue
		}
		if (kind == port.RefBank && r.BankID == id) || (kind == port.RefCreditCard && r.CreditCardID == id) {
			return true, nil
		}
	}
	return false, nil
}

func isSeriesMember(r domain.Record) bool {
	return r.IsRecurring || r.IsInstallment || r.ParentID() != ""
}

func sortRecords(recs []domain.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Date != recs[j].Date {
			return recs[i].Date.Before(recs[j].Date)
		}
		return recs[i].ID < recs[j].ID
	})
}

// ============================================================
// Reference data
// ============================================================

func (s *Store) ListBanks(ctx context.Context, userID string) ([]domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Bank{}
	for _, b := range s.banks {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) GetBank(ctx context.Context, userID, id string) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.banks[id]
	if !ok || b.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "bank", ID: id}
	}
	return &b, nil
}

func (s *Store) CreateBank(ctx context.Context, bank *domain.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.banks {
		if b.UserID == bank.UserID && strings.EqualFold(b.Name, bank.Name) {
			return &domain.ErrConflict{Message: "banco já cadastrado: " + bank.Name}
		}
	}
	s.banks[bank.ID] = *bank
	return nil
}

func (s *Store) UpdateBank(ctx context.Context, bank *domain.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.banks[bank.ID]
	if !ok || cur.UserID != bank.UserID {
		return &domain.ErrNotFound{Resource: "bank", ID: bank.ID}
	}
	bank.CreatedAt = cur.CreatedAt
	s.banks[bank.ID] = *bank
	return nil
}

func (s *Store) DeleteBank(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.banks[id]; !ok || b.UserID != userID {
		return &domain.ErrNotFound{Resource: "bank", ID: id}
	}
	delete(s.banks, id)
	return nil
}

func (s *Store) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.CreditCard{}
	for _, c := range s.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (s *Store) GetCreditCard(ctx context.Context, userID, id string) (*domain.CreditCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[id]
	if !ok || c.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "credit card", ID: id}
	}
	return &c, nil
}

func (s *Store) CreateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cards {
		if c.UserID == card.UserID && strings.EqualFold(c.Name, card.Name) {
			return &domain.ErrConflict{Message: "cartão já cadastrado: " + card.Name}
		}
	}
	s.cards[card.ID] = *card
	return nil
}

func (s *Store) UpdateCreditCard(ctx context.Context, card *domain.CreditCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cards[card.ID]
	if !ok || cur.UserID != card.UserID {
		return &domain.ErrNotFound{Resource: "credit card", ID: card.ID}
	}
	card.CreatedAt = cur.CreatedAt
	s.cards[card.ID] = *card
	return nil
}

func (s *Store) DeleteCreditCard(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cards[id]; !ok || c.UserID != userID {
		return &domain.ErrNotFound{Resource: "credit card", ID: id}
	}
	delete(s.cards, id)
	return nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &domain.ErrConflict{Message: "e-mail já cadastrado"}
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	return &u, nil
}
