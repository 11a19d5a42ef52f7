package service

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/observability"
	"github.com/boddenberg/finance-tracker-api/internal/port"
)

var refTracer = otel.Tracer("service/reference")

const referenceCache = "reference"

// ReferenceService manages banks and credit cards. List reads go through a
// per-user TTL cache that every write invalidates.
type ReferenceService struct {
	store     port.ReferenceStore
	usage     port.TransactionStore
	bankCache port.Cache[[]domain.Bank]
	cardCache port.Cache[[]domain.CreditCard]
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewReferenceService creates a reference data service. usage is consulted
// before deletes so a bank or card still referenced by a transaction stays.
func NewReferenceService(
	store port.ReferenceStore,
	usage port.TransactionStore,
	bankCache port.Cache[[]domain.Bank],
	cardCache port.Cache[[]domain.CreditCard],
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReferenceService {
	return &ReferenceService{
		store:     store,
		usage:     usage,
		bankCache: bankCache,
		cardCache: cardCache,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================
// Banks
// ============================================================

func (s *ReferenceService) ListBanks(ctx context.Context, userID string) ([]domain.Bank, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.ListBanks")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if banks, ok := s.bankCache.Get(userID); ok {
		s.metrics.IncrCacheHit(referenceCache)
		return slices.Clone(banks), nil
	}
	s.metrics.IncrCacheMiss(referenceCache)

	banks, err := s.store.ListBanks(ctx, userID)
	if err != nil {
		return nil, err
	}
	if banks == nil {
		banks = []domain.Bank{}
	}
	s.bankCache.Set(userID, banks)
	return slices.Clone(banks), nil
}

func (s *ReferenceService) GetBank(ctx context.Context, userID, id string) (*domain.Bank, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.GetBank")
	defer span.End()

	return s.store.GetBank(ctx, userID, id)
}

func (s *ReferenceService) CreateBank(ctx context.Context, userID string, req *domain.BankRequest) (*domain.Bank, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.CreateBank")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	bank := &domain.Bank{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      req.Name,
		Color:     req.Color,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateBank(ctx, bank); err != nil {
		return nil, err
	}
	s.bankCache.Delete(userID)

	s.logger.Info("bank created", zap.String("user_id", userID), zap.String("bank_id", bank.ID))
	return bank, nil
}

func (s *ReferenceService) UpdateBank(ctx context.Context, userID, id string, req *domain.BankRequest) (*domain.Bank, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.UpdateBank")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	bank, err := s.store.GetBank(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	bank.Name = req.Name
	bank.Color = req.Color
	if err := s.store.UpdateBank(ctx, bank); err != nil {
		return nil, err
	}
	s.bankCache.Delete(userID)
	return bank, nil
}

func (s *ReferenceService) DeleteBank(ctx context.Context, userID, id string) error {
	ctx, span := refTracer.Start(ctx, "ReferenceService.DeleteBank")
	defer span.End()

	if err := s.ensureUnused(ctx, userID, port.RefBank, id); err != nil {
		return err
	}
	if err := s.store.DeleteBank(ctx, userID, id); err != nil {
		return err
	}
	s.bankCache.Delete(userID)

	s.logger.Info("bank deleted", zap.String("user_id", userID), zap.String("bank_id", id))
	return nil
}

// ============================================================
// Credit cards
// ============================================================

func (s *ReferenceService) ListCreditCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.ListCreditCards")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	if cards, ok := s.cardCache.Get(userID); ok {
		s.metrics.IncrCacheHit(referenceCache)
		return slices.Clone(cards), nil
	}
	s.metrics.IncrCacheMiss(referenceCache)

	cards, err := s.store.ListCreditCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []domain.CreditCard{}
	}
	s.cardCache.Set(userID, cards)
	return slices.Clone(cards), nil
}

func (s *ReferenceService) GetCreditCard(ctx context.Context, userID, id string) (*domain.CreditCard, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.GetCreditCard")
	defer span.End()

	return s.store.GetCreditCard(ctx, userID, id)
}

func (s *ReferenceService) CreateCreditCard(ctx context.Context, userID string, req *domain.CreditCardRequest) (*domain.CreditCard, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.CreateCreditCard")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	card := &domain.CreditCard{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       req.Name,
		Brand:      req.Brand,
		Limit:      req.Limit,
		ClosingDay: req.ClosingDay,
		DueDay:     req.DueDay,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateCreditCard(ctx, card); err != nil {
		return nil, err
	}
	s.cardCache.Delete(userID)

	s.logger.Info("credit card created", zap.String("user_id", userID), zap.String("card_id", card.ID))
	return card, nil
}

func (s *ReferenceService) UpdateCreditCard(ctx context.Context, userID, id string, req *domain.CreditCardRequest) (*domain.CreditCard, error) {
	ctx, span := refTracer.Start(ctx, "ReferenceService.UpdateCreditCard")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	card, err := s.store.GetCreditCard(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	card.Name = req.Name
	card.Brand = req.Brand
	card.Limit = req.Limit
	card.ClosingDay = req.ClosingDay
	card.DueDay = req.DueDay
	if err := s.store.UpdateCreditCard(ctx, card); err != nil {
		return nil, err
	}
	s.cardCache.Delete(userID)
	return card, nil
}

func (s *ReferenceService) DeleteCreditCard(ctx context.Context, userID, id string) error {
	ctx, span := refTracer.Start(ctx, "ReferenceService.DeleteCreditCard")
	defer span.End()

	if err := s.ensureUnused(ctx, userID, port.RefCreditCard, id); err != nil {
		return err
	}
	if err := s.store.DeleteCreditCard(ctx, userID, id); err != nil {
		return err
	}
	s.cardCache.Delete(userID)

	s.logger.Info("credit card deleted", zap.String("user_id", userID), zap.String("card_id", id))
	return nil
}

// checkReferences verifies that the bank and card a transaction points to
// exist for the user.
func (s *ReferenceService) checkReferences(ctx context.Context, t domain.Transaction) error {
	if t.BankID != "" {
		if _, err := s.store.GetBank(ctx, t.UserID, t.BankID); err != nil {
			return asReferenceError(err, "bank", "banco não encontrado")
		}
	}
	if t.CreditCardID != "" {
		if _, err := s.store.GetCreditCard(ctx, t.UserID, t.CreditCardID); err != nil {
			return asReferenceError(err, "creditCard", "cartão de crédito não encontrado")
		}
	}
	return nil
}

func (s *ReferenceService) ensureUnused(ctx context.Context, userID string, kind port.RefKind, id string) error {
	inUse, err := s.usage.ReferenceInUse(ctx, userID, kind, id)
	if err != nil {
		return err
	}
	if inUse {
		msg := "banco possui transações vinculadas"
		if kind == port.RefCreditCard {
			msg = "cartão possui transações vinculadas"
		}
		return &domain.ErrConflict{Message: msg}
	}
	return nil
}
