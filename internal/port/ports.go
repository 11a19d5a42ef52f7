// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/series"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// RefKind names the reference data a transaction can point to.
type RefKind string

const (
	RefBank       RefKind = "bank"
	RefCreditCard RefKind = "creditCard"
)

// TransactionStore persists raw transaction records and tombstones. Stores
// never classify records; that is the series resolver's job.
type TransactionStore interface {
	// ListMonthRecords returns every series template and stored occurrence
	// of the user plus the singles dated inside w.
	ListMonthRecords(ctx context.Context, userID string, w domain.Window) ([]domain.Record, error)
	ListTombstones(ctx context.Context, userID string) ([]domain.Tombstone, error)

	GetRecord(ctx context.Context, userID, id string) (*domain.Record, error)

	// ListSeries returns the template, its stored occurrences and its
	// tombstones. The template is the first record when it exists.
	ListSeries(ctx context.Context, userID, parentID string) ([]domain.Record, []domain.Tombstone, error)

	// ListTemplates returns the series templates of every user. Used by
	// settlement.
	ListTemplates(ctx context.Context) ([]domain.Record, error)
	ListUserTemplates(ctx context.Context, userID string) ([]domain.Record, error)

	CreateRecord(ctx context.Context, rec domain.Record) error

	// ApplyPlan executes every op of plan for userID, in order. Stores with
	// transactions apply it atomically. Writing a second stored occurrence
	// into a series slot is an ErrConflict.
	ApplyPlan(ctx context.Context, userID string, plan series.Plan) error

	// ReferenceInUse reports whether any record of the user points to the
	// given bank or credit card.
	ReferenceInUse(ctx context.Context, userID string, kind RefKind, id string) (bool, error)
}

// ReferenceStore persists banks and credit cards.
type ReferenceStore interface {
	ListBanks(ctx context.Context, userID string) ([]domain.Bank, error)
	GetBank(ctx context.Context, userID, id string) (*domain.Bank, error)
	CreateBank(ctx context.Context, bank *domain.Bank) error
	UpdateBank(ctx context.Context, bank *domain.Bank) error
	DeleteBank(ctx context.Context, userID, id string) error

	ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error)
	GetCreditCard(ctx context.Context, userID, id string) (*domain.CreditCard, error)
	CreateCreditCard(ctx context.Context, card *domain.CreditCard) error
	UpdateCreditCard(ctx context.Context, card *domain.CreditCard) error
	DeleteCreditCard(ctx context.Context, userID, id string) error
}

// UserStore persists account owners. CreateUser returns ErrConflict when the
// email is taken.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// Store bundles every persistence port of one backend.
type Store interface {
	TransactionStore
	ReferenceStore
	UserStore

	Ping(ctx context.Context) error
	Close() error
}
