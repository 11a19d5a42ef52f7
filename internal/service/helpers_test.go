package service_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/cache"
	"github.com/boddenberg/finance-tracker-api/internal/infra/memory"
	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
	"github.com/boddenberg/finance-tracker-api/internal/series"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

const testUser = "u1"

type fixture struct {
	store   *memory.Store
	metrics *observability.Metrics
	refs    *service.ReferenceService
	txs     *service.TransactionService
	settle  *service.SettlementService
}

// newFixture wires the services over an in-memory store with banks "nubank"
// and "itau" and credit card "card-1" for testUser. Ids are "id-1", "id-2"...
func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	var seq atomic.Int64
	planner := &series.Planner{
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
		Now:   func() time.Time { return now },
	}

	store := memory.NewStore()
	ctx := context.Background()
	for _, b := range []domain.Bank{
		{ID: "nubank", UserID: testUser, Name: "Nubank"},
		{ID: "itau", UserID: testUser, Name: "Itaú"},
	} {
		b := b
		if err := store.CreateBank(ctx, &b); err != nil {
			t.Fatalf("seed bank: %v", err)
		}
	}
	if err := store.CreateCreditCard(ctx, &domain.CreditCard{
		ID: "card-1", UserID: testUser, Name: "Roxinho", Limit: decimal.NewFromInt(5000), ClosingDay: 3, DueDay: 10,
	}); err != nil {
		t.Fatalf("seed card: %v", err)
	}

	bankCache := cache.New[[]domain.Bank](time.Minute)
	cardCache := cache.New[[]domain.CreditCard](time.Minute)
	t.Cleanup(func() {
		bankCache.Close()
		cardCache.Close()
	})

	metrics := observability.NewMetrics()
	refs := service.NewReferenceService(store, store, bankCache, cardCache, metrics, zap.NewNop())
	txs := service.NewTransactionService(store, refs, planner, metrics, zap.NewNop())
	return &fixture{
		store:   store,
		metrics: metrics,
		refs:    refs,
		txs:     txs,
		settle:  service.NewSettlementService(txs),
	}
}

func defaultNow() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (f *fixture) create(t *testing.T, in domain.TransactionInput) *domain.Transaction {
	t.Helper()
	tx, err := f.txs.Create(context.Background(), testUser, in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Description, err)
	}
	return tx
}

func (f *fixture) month(t *testing.T, month, year int) []domain.Transaction {
	t.Helper()
	w, err := domain.NewWindow(month, year)
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.txs.ListMonth(context.Background(), testUser, w)
	if err != nil {
		t.Fatalf("list %d/%d: %v", month, year, err)
	}
	return res.Transactions()
}

func rentInput() domain.TransactionInput {
	return domain.TransactionInput{
		Type:          "expense",
		Amount:        decimal.RequireFromString("1200.00"),
		Description:   "Aluguel",
		Category:      "Moradia",
		Date:          "2024-01-05",
		PaymentMethod: "debito",
		Bank:          "itau",
		IsRecurring:   true,
	}
}

func notebookInput() domain.TransactionInput {
	return domain.TransactionInput{
		Type:              "expense",
		Amount:            decimal.RequireFromString("300.00"),
		Description:       "Notebook",
		Category:          "Eletrônicos",
		Date:              "2024-01-15",
		PaymentMethod:     "credito",
		CreditCard:        "card-1",
		IsInstallment:     true,
		TotalInstallments: 4,
	}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func editAmount(a decimal.Decimal, all bool) domain.EditRequest {
	return domain.EditRequest{
		TransactionPatch: domain.TransactionPatch{Amount: &a},
		UpdateAll:        &all,
	}
}
