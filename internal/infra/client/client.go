// Package client is a typed Go client for the finance API. It validates
// payloads locally, never retries on its own and classifies every failure as
// domain.ErrNetwork or domain.ErrServer so callers can decide what to show.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/resilience"
)

var tracer = otel.Tracer("client")

// DefaultTimeout bounds every call when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConcurrency int
	// OnBreakerChange observes circuit breaker transitions. Optional.
	OnBreakerChange resilience.StateChangeFunc
}

// Client calls the finance API on behalf of one signed-in user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead

	mu    sync.RWMutex
	token string
}

// New creates a client. There are no retries: a failed call surfaces to the
// caller, which offers a manual retry.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = 8
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cb:         resilience.NewCircuitBreaker("finance-api", cfg.OnBreakerChange),
		bulkhead:   resilience.NewBulkhead(maxConc),
	}
}

// SetToken sets the bearer token sent on every call.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// serverBody is the API's error shape. Error is a pointer so a body without
// the field is told apart from one with an empty message.
type serverBody struct {
	Error *string `json:"error"`
}

// do performs one call. 4xx answers with a structured body are returned as
// ErrServer without counting against the breaker; transport failures, 5xx and
// unstructured answers are ErrNetwork.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "Client."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	var clientErr error
	err := c.bulkhead.Do(ctx, func() error {
		return resilience.Execute(c.cb, func() error {
			err := c.roundTrip(ctx, op, method, path, payload, out)
			var srv *domain.ErrServer
			if errors.As(err, &srv) && srv.Status < http.StatusInternalServerError {
				clientErr = err
				return nil
			}
			return err
		})
	})

	var open *domain.ErrCircuitOpen
	switch {
	case clientErr != nil:
		return clientErr
	case errors.As(err, &open):
		return &domain.ErrNetwork{Op: op, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrNetwork{Op: op, Err: err}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ErrNetwork{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &domain.ErrNetwork{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var sb serverBody
		if json.Unmarshal(raw, &sb) == nil && sb.Error != nil {
			return &domain.ErrServer{Status: resp.StatusCode, Message: *sb.Error}
		}
		return &domain.ErrNetwork{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ErrNetwork{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
