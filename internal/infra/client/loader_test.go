package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/client"
)

// fakeMonthAPI answers each month after the month's gate is closed.
type fakeMonthAPI struct {
	gates map[time.Month]chan struct{}
	fail  map[time.Month]error
}

func (f *fakeMonthAPI) wait(ctx context.Context, w domain.Window) error {
	if gate, ok := f.gates[w.Month]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.fail[w.Month]
}

func (f *fakeMonthAPI) Dashboard(ctx context.Context, w domain.Window) (*domain.DashboardResponse, error) {
	if err := f.wait(ctx, w); err != nil {
		return nil, err
	}
	return &domain.DashboardResponse{Month: int(w.Month), Year: w.Year}, nil
}

func (f *fakeMonthAPI) ListTransactions(ctx context.Context, w domain.Window) (*domain.MonthResponse, error) {
	if err := f.wait(ctx, w); err != nil {
		return nil, err
	}
	return &domain.MonthResponse{Month: int(w.Month), Year: w.Year}, nil
}

func TestMonthLoader_PublishesBothParts(t *testing.T) {
	l := client.NewMonthLoader(&fakeMonthAPI{})

	view, err := l.Load(context.Background(), domain.Window{Year: 2024, Month: time.March})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if view.Dashboard == nil || view.Transactions == nil || view.Dashboard.Month != 3 || view.Transactions.Month != 3 {
		t.Errorf("expected both parts for March, got %+v", view)
	}
	if l.Current() != view {
		t.Error("expected view to be published")
	}
}

func TestMonthLoader_DiscardsSupersededLoad(t *testing.T) {
	api := &fakeMonthAPI{gates: map[time.Month]chan struct{}{time.January: make(chan struct{})}}
	l := client.NewMonthLoader(api)

	slow := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), domain.Window{Year: 2024, Month: time.January})
		slow <- err
	}()

	// let the January load start before switching months
	time.Sleep(20 * time.Millisecond)

	view, err := l.Load(context.Background(), domain.Window{Year: 2024, Month: time.February})
	if err != nil {
		t.Fatalf("february: %v", err)
	}
	close(api.gates[time.January])

	if err := <-slow; !errors.Is(err, client.ErrStale) {
		t.Fatalf("expected superseded load to be stale, got %v", err)
	}
	if cur := l.Current(); cur != view || cur.Window.Month != time.February {
		t.Errorf("expected February to stay published, got %+v", cur)
	}
}

func TestMonthLoader_FailureKeepsPreviousView(t *testing.T) {
	boom := errors.New("boom")
	l := client.NewMonthLoader(&fakeMonthAPI{fail: map[time.Month]error{time.April: boom}})

	first, err := l.Load(context.Background(), domain.Window{Year: 2024, Month: time.March})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(context.Background(), domain.Window{Year: 2024, Month: time.April}); !errors.Is(err, boom) {
		t.Fatalf("expected failure, got %v", err)
	}
	if l.Current() != first {
		t.Error("a failed load must not replace the published view")
	}
}
