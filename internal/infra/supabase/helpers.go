package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// HTTP helpers for POST, PATCH, DELETE
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: POST request failed",
			zap.String("table", table),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: POST non-2xx",
			zap.String("table", table),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, statusError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: POST OK", zap.String("table", table), zap.Int("status", resp.StatusCode))
	return body, nil
}

// doPatch updates the rows matched by path and returns how many matched.
func (c *Client) doPatch(ctx context.Context, path string, data any) (int, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, err
	}
	c.setHeaders(req, "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: PATCH request failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: PATCH non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return 0, statusError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: PATCH OK", zap.String("path", path))
	return countRows(body), nil
}

// doDelete deletes the rows matched by path and returns how many matched.
func (c *Client) doDelete(ctx context.Context, path string) (int, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req, "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: DELETE request failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: DELETE non-2xx",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return 0, statusError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: DELETE OK", zap.String("path", path))
	return countRows(body), nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func countRows(body []byte) int {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0
	}
	return len(rows)
}

// postgrestError is the error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const slotTakenMessage = "occurrence already stored for this month"

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// statusError maps a non-2xx response. A unique violation becomes a conflict
// so it is not retried.
func statusError(status int, body []byte) error {
	var pe postgrestError
	if json.Unmarshal(body, &pe) == nil && pe.Code == uniqueViolation {
		return &domain.ErrConflict{Message: conflictMessage(pe.Message)}
	}
	if status == http.StatusConflict {
		return &domain.ErrConflict{Message: conflictMessage(string(body))}
	}
	return fmt.Errorf("supabase returned status %d: %s", status, string(body))
}

func conflictMessage(detail string) string {
	switch {
	case strings.Contains(detail, "email"):
		return "e-mail já cadastrado"
	case strings.Contains(detail, "tombstones"):
		return "occurrence already deleted"
	case strings.Contains(detail, "series_slot"):
		return slotTakenMessage
	}
	return "registro já existe"
}
