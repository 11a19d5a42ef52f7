package service

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
)

var settleTracer = otel.Tracer("service/settlement")

// settleTimeout bounds one scheduled run over every user.
const settleTimeout = 10 * time.Minute

// SettlementService persists series occurrences once their date arrives.
// Settled rows are pristine copies of the template, so month reads return
// the same values before and after a run.
type SettlementService struct {
	txs *TransactionService
}

// NewSettlementService creates a settlement service on top of the
// transaction service's store and planner.
func NewSettlementService(txs *TransactionService) *SettlementService {
	return &SettlementService{txs: txs}
}

// SettleUser settles every series of one user. Used by
// POST /fix-recurring-transactions.
func (s *SettlementService) SettleUser(ctx context.Context, userID string) (int, error) {
	ctx, span := settleTracer.Start(ctx, "SettlementService.SettleUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return s.settle(ctx, func(ctx context.Context) ([]domain.Record, error) {
		return s.txs.store.ListUserTemplates(ctx, userID)
	})
}

// SettleAll settles every series in the store. Failures on one series are
// logged and do not stop the run.
func (s *SettlementService) SettleAll(ctx context.Context) (int, error) {
	ctx, span := settleTracer.Start(ctx, "SettlementService.SettleAll")
	defer span.End()

	return s.settle(ctx, s.txs.store.ListTemplates)
}

func (s *SettlementService) settle(ctx context.Context, listTemplates func(context.Context) ([]domain.Record, error)) (int, error) {
	start := time.Now()
	defer func() { s.txs.metrics.RecordRequestDuration("settle", time.Since(start)) }()

	templates, err := listTemplates(ctx)
	if err != nil {
		s.txs.countExternal(err)
		return 0, fmt.Errorf("list templates: %w", err)
	}

	today := civil.DateOf(s.txs.planner.Now())
	settled, failed := 0, 0
	for _, rec := range templates {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		n, err := s.settleSeries(ctx, rec.UserID, rec.ID, today)
		if err != nil {
			failed++
			s.txs.logger.Warn("settlement: series skipped",
				zap.String("user_id", rec.UserID),
				zap.String("parent_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		settled += n
	}

	s.txs.metrics.AddSettled(settled)
	s.txs.logger.Info("settlement finished",
		zap.Int("templates", len(templates)),
		zap.Int("settled", settled),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return settled, nil
}

func (s *SettlementService) settleSeries(ctx context.Context, userID, parentID string, today civil.Date) (int, error) {
	state, err := s.txs.loadState(ctx, userID, parentID)
	if err != nil {
		return 0, err
	}
	plan := s.txs.planner.Settle(*state, today)
	if err := s.txs.apply(ctx, userID, plan); err != nil {
		return 0, err
	}
	return len(plan.Ops), nil
}

// StartScheduler runs SettleAll on the given cron spec ("@daily",
// "0 3 * * *"). Stop the returned cron on shutdown.
func StartScheduler(spec string, svc *SettlementService, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()

		if _, err := svc.SettleAll(ctx); err != nil {
			logger.Error("settlement job failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule settlement %q: %w", spec, err)
	}

	c.Start()
	logger.Info("settlement scheduled", zap.String("spec", spec))
	return c, nil
}
