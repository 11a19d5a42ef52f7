package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/client"
)

func newServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func march() domain.Window {
	return domain.Window{Year: 2024, Month: time.March}
}

func TestListTransactions_SendsTokenAndWindow(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.URL.Path != "/transactions" || r.URL.Query().Get("month") != "3" || r.URL.Query().Get("year") != "2024" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"month":3,"year":2024,"transactions":[{"occurrenceRef":"p@3","amount":1200.00,"isVirtual":true}]}`))
	})

	c := client.New(client.Config{BaseURL: srv.URL})
	c.SetToken("tok")

	resp, err := c.ListTransactions(context.Background(), march())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].OccurrenceRef != "p@3" || !resp.Transactions[0].IsVirtual {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestLogin_KeepsToken(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"abc","expiresIn":3600,"user":{"id":"u1","email":"ana@example.com"}}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})

	if _, err := c.Login(context.Background(), domain.LoginRequest{Email: "ana@example.com", Password: "segredo"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.Token() != "abc" {
		t.Errorf("expected token to be kept, got %q", c.Token())
	}
}

func TestServerMessagePassedThrough(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"banco possui transações vinculadas"}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})

	err := c.DeleteBank(context.Background(), "itau")
	var srvErr *domain.ErrServer
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected ErrServer, got %T %v", err, err)
	}
	if srvErr.Status != http.StatusConflict || err.Error() != "banco possui transações vinculadas" {
		t.Errorf("message must pass through verbatim, got %q", err.Error())
	}
}

func TestServerEmptyMessageFallsBack(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":""}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})

	err := c.DeleteBank(context.Background(), "itau")
	var srvErr *domain.ErrServer
	if !errors.As(err, &srvErr) || err.Error() == "" {
		t.Fatalf("expected ErrServer with generic message, got %v", err)
	}
}

func TestUnstructuredFailureIsNetwork(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	})
	c := client.New(client.Config{BaseURL: srv.URL})

	_, err := c.Dashboard(context.Background(), march())
	var netErr *domain.ErrNetwork
	if !errors.As(err, &netErr) {
		t.Fatalf("expected ErrNetwork, got %T %v", err, err)
	}
	if hits.Load() != 1 {
		t.Errorf("client must not retry, server saw %d calls", hits.Load())
	}
}

func TestTimeoutIsNetwork(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	c := client.New(client.Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})

	_, err := c.ListBanks(context.Background())
	var netErr *domain.ErrNetwork
	if !errors.As(err, &netErr) {
		t.Fatalf("expected ErrNetwork on timeout, got %T %v", err, err)
	}
}

func TestValidationNeverReachesNetwork(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL)
	})
	c := client.New(client.Config{BaseURL: srv.URL})
	ctx := context.Background()

	zero := decimal.Zero
	calls := map[string]func() error{
		"pix installment": func() error {
			_, err := c.CreateTransaction(ctx, domain.TransactionInput{
				Type: "expense", Amount: decimal.NewFromInt(100), Description: "TV", Date: "2024-01-01",
				PaymentMethod: "pix", Bank: "b", IsInstallment: true, TotalInstallments: 3,
			})
			return err
		},
		"empty edit": func() error {
			_, err := c.EditTransaction(ctx, "id", domain.EditRequest{})
			return err
		},
		"zero amount": func() error {
			_, err := c.EditTransaction(ctx, "id", domain.EditRequest{TransactionPatch: domain.TransactionPatch{Amount: &zero}})
			return err
		},
		"missing ref": func() error { return c.DeleteTransaction(ctx, " ", false) },
		"bank name":   func() error { _, err := c.CreateBank(ctx, domain.BankRequest{}); return err },
		"short password": func() error {
			_, err := c.Register(ctx, domain.RegisterRequest{Name: "A", Email: "a@b.c", Password: "1"})
			return err
		},
	}
	for name, call := range calls {
		var validation *domain.ErrValidation
		if err := call(); !errors.As(err, &validation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, got %d", hits.Load())
	}
}

func TestDeleteTransaction_ScopeFlag(t *testing.T) {
	var got []string
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.RequestURI())
		w.Write([]byte(`{"message":"ok"}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})
	ctx := context.Background()

	if err := c.DeleteTransaction(ctx, "p@2", false); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteTransaction(ctx, "p@2", true); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteSeries(ctx, "p", domain.SeriesInstallmentTemplate); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"DELETE /transactions/p@2",
		"DELETE /transactions/p@2?deleteAll=true",
		"DELETE /transactions/p/installments",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		var srvErr *domain.ErrServer
		if _, err := c.ListBanks(ctx); !errors.As(err, &srvErr) {
			t.Fatalf("call %d: expected ErrServer, got %v", i, err)
		}
	}

	_, err := c.ListBanks(ctx)
	var netErr *domain.ErrNetwork
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &netErr) || !errors.As(err, &open) {
		t.Fatalf("expected open breaker as ErrNetwork, got %T %v", err, err)
	}
	if hits.Load() != 5 {
		t.Errorf("open breaker must not reach the server, got %d calls", hits.Load())
	}
}

func TestClientErrorsKeepBreakerClosed(t *testing.T) {
	srv, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Transação não encontrada"}`))
	})
	c := client.New(client.Config{BaseURL: srv.URL})

	for i := 0; i < 10; i++ {
		if _, err := c.GetTransaction(context.Background(), "missing"); err == nil {
			t.Fatal("expected error")
		}
	}
	if hits.Load() != 10 {
		t.Errorf("4xx must not open the breaker, server saw %d calls", hits.Load())
	}
}
