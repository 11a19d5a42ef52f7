package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

// ============================================================
// Transactions
// ============================================================

func dashboardHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /dashboard")
		defer span.End()

		win, err := parseWindow(r, time.Now())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		d, err := svc.Dashboard(ctx, UserIDFromContext(ctx), win)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewDashboardResponse(d))
	}
}

func listTransactionsHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /transactions")
		defer span.End()

		win, err := parseWindow(r, time.Now())
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.ListMonth(ctx, UserIDFromContext(ctx), win)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.MonthResponse{
			Month:        int(win.Month),
			Year:         win.Year,
			Transactions: domain.NewTransactionResponses(res.Transactions()),
			Warnings:     res.Warnings,
		})
	}
}

func createTransactionHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /transactions")
		defer span.End()

		var in domain.TransactionInput
		if err := decodeJSON(w, r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		tx, err := svc.Create(ctx, UserIDFromContext(ctx), in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, domain.NewTransactionResponse(*tx))
	}
}

func getTransactionHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /transactions/{id}")
		defer span.End()

		row, err := svc.Get(ctx, UserIDFromContext(ctx), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewTransactionResponse(row.Transaction()))
	}
}

func editTransactionHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /transactions/{id}")
		defer span.End()

		var req domain.EditRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		id := chi.URLParam(r, "id")
		tx, err := svc.Edit(ctx, UserIDFromContext(ctx), id, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if tx == nil {
			// the edit shrank an installment series below this row
			writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Parcela removida da série", ID: id})
			return
		}
		writeJSON(w, http.StatusOK, domain.NewTransactionResponse(*tx))
	}
}

func deleteTransactionHandler(svc *service.TransactionService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /transactions/{id}")
		defer span.End()

		deleteAll, err := parseFlag(r, "deleteAll")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		id := chi.URLParam(r, "id")
		if err := svc.Delete(ctx, UserIDFromContext(ctx), id, deleteAll); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Transação excluída", ID: id})
	}
}

func deleteSeriesHandler(svc *service.TransactionService, kind domain.SeriesKind, logger *zap.Logger) http.HandlerFunc {
	msg, suffix := "Série recorrente excluída", "recurring"
	if kind == domain.SeriesInstallmentTemplate {
		msg, suffix = "Parcelamento excluído", "installments"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /transactions/{id}/"+suffix)
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := svc.DeleteSeries(ctx, UserIDFromContext(ctx), id, kind); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: msg, ID: id})
	}
}

func settleHandler(svc *service.SettlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /fix-recurring-transactions")
		defer span.End()

		n, err := svc.SettleUser(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SettlementResponse{
			Settled: n,
			Message: "Transações recorrentes e parcelas atualizadas",
		})
	}
}
