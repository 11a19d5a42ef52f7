package client

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ErrStale is returned by MonthLoader.Load when a newer load started before
// this one finished. Its result is dropped.
var ErrStale = errors.New("client: load superseded by a newer request")

// MonthAPI is the part of the API a MonthLoader reads from. *Client
// implements it.
type MonthAPI interface {
	Dashboard(ctx context.Context, w domain.Window) (*domain.DashboardResponse, error)
	ListTransactions(ctx context.Context, w domain.Window) (*domain.MonthResponse, error)
}

// MonthView is the combined screen state for one month.
type MonthView struct {
	Window       domain.Window
	Dashboard    *domain.DashboardResponse
	Transactions *domain.MonthResponse
}

// MonthLoader keeps the view of the selected month. Switching months quickly
// starts overlapping loads; only the latest one is published.
type MonthLoader struct {
	api MonthAPI

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current *MonthView
}

// NewMonthLoader creates a loader over api.
func NewMonthLoader(api MonthAPI) *MonthLoader {
	return &MonthLoader{api: api}
}

// Load fetches the dashboard and the transactions of w concurrently and
// publishes them together once both arrive. A load started later cancels
// this one and makes it return ErrStale; the published view is never
// replaced by an older month.
func (l *MonthLoader) Load(ctx context.Context, w domain.Window) (*MonthView, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.gen++
	gen := l.gen
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.mu.Unlock()

	view := &MonthView{Window: w}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := l.api.Dashboard(gctx, w)
		view.Dashboard = d
		return err
	})
	g.Go(func() error {
		txs, err := l.api.ListTransactions(gctx, w)
		view.Transactions = txs
		return err
	})
	err := g.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		return nil, ErrStale
	}
	l.cancel = nil
	if err != nil {
		// the previous view stays on screen
		return nil, err
	}
	l.current = view
	return view, nil
}

// Current returns the last published view, nil before the first success.
func (l *MonthLoader) Current() *MonthView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
