package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/service"
)

// ============================================================
// Banks
// ============================================================

func listBanksHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /banks")
		defer span.End()

		banks, err := svc.ListBanks(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, banks)
	}
}

func createBankHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /banks")
		defer span.End()

		var req domain.BankRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		bank, err := svc.CreateBank(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, bank)
	}
}

func updateBankHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /banks/{id}")
		defer span.End()

		var req domain.BankRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		bank, err := svc.UpdateBank(ctx, UserIDFromContext(ctx), chi.URLParam(r, "id"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, bank)
	}
}

func deleteBankHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /banks/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := svc.DeleteBank(ctx, UserIDFromContext(ctx), id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Banco excluído", ID: id})
	}
}

// ============================================================
// Credit cards
// ============================================================

func listCreditCardsHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /credit-cards")
		defer span.End()

		cards, err := svc.ListCreditCards(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

func createCreditCardHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /credit-cards")
		defer span.End()

		var req domain.CreditCardRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		card, err := svc.CreateCreditCard(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	}
}

func updateCreditCardHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /credit-cards/{id}")
		defer span.End()

		var req domain.CreditCardRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		card, err := svc.UpdateCreditCard(ctx, UserIDFromContext(ctx), chi.URLParam(r, "id"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, card)
	}
}

func deleteCreditCardHandler(svc *service.ReferenceService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /credit-cards/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := svc.DeleteCreditCard(ctx, UserIDFromContext(ctx), id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Cartão excluído", ID: id})
	}
}
