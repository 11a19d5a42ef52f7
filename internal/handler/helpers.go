package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

// maxBodyBytes bounds request bodies; transaction payloads are tiny.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into v. Errors are validation errors so
// handleServiceError answers 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "corpo da requisição inválido"}
	}
	return nil
}

// parseWindow reads ?month&year. Both absent means the current month.
func parseWindow(r *http.Request, now time.Time) (domain.Window, error) {
	q := r.URL.Query()
	ms, ys := q.Get("month"), q.Get("year")
	if ms == "" && ys == "" {
		return domain.Window{Year: now.Year(), Month: now.Month()}, nil
	}

	month, err := strconv.Atoi(ms)
	if err != nil {
		return domain.Window{}, &domain.ErrValidation{Field: "month", Message: "mês inválido"}
	}
	year, err := strconv.Atoi(ys)
	if err != nil {
		return domain.Window{}, &domain.ErrValidation{Field: "year", Message: "ano inválido"}
	}
	return domain.NewWindow(month, year)
}

// parseFlag reads an optional boolean query parameter.
func parseFlag(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.ErrValidation{Field: name, Message: "valor booleano inválido"}
	}
	return b, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict
	var integrity *domain.ErrDataIntegrity
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("field", validation.Field), zap.String("error", validation.Message))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, notFoundMessage(notFound))
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &integrity):
		logger.Warn("data integrity error", zap.String("record_id", integrity.RecordID), zap.String("reason", integrity.Reason))
		writeError(w, http.StatusUnprocessableEntity, "registro inconsistente: "+integrity.Reason)
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "serviço temporariamente indisponível")
	case errors.As(err, &external):
		logger.Error("external service error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "falha ao acessar o armazenamento")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func notFoundMessage(e *domain.ErrNotFound) string {
	switch e.Resource {
	case "transaction":
		return "Transação não encontrada"
	case "bank":
		return "Banco não encontrado"
	case "credit card":
		return "Cartão de crédito não encontrado"
	case "user":
		return "Usuário não encontrado"
	}
	return e.Error()
}
