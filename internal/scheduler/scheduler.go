package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/services"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// DealLifecycle is the slice of the orchestrator the sweeps drive.
type DealLifecycle interface {
	Apply(ctx context.Context, dealID uuid.UUID, actorUserID *uuid.UUID, event statemachine.Event, payload services.EventPayload) (*services.ApplyResult, error)
	AutoPost(ctx context.Context, dealID uuid.UUID) (*services.ApplyResult, error)
	VerifyRetention(ctx context.Context, dealID uuid.UUID) (*services.ApplyResult, error)
	ReconcileEscrow(ctx context.Context, dealID uuid.UUID) error
}

type DealLister interface {
	ListByStatus(ctx context.Context, status statemachine.Status, limit int) ([]models.Deal, error)
	ListInactiveSince(ctx context.Context, statuses []statemachine.Status, cutoff time.Time, limit int) ([]models.Deal, error)
}

type EscrowLister interface {
	ListByState(ctx context.Context, state string, limit int) ([]models.Escrow, error)
}

type EscrowResolver interface {
	RetrySubmitted(ctx context.Context, escrow *models.Escrow) error
}

// Timeouts holds the per-status inactivity windows after which a deal is
// expired. A status missing from the map is never timed out by the sweep.
type Timeouts map[statemachine.Status]time.Duration

func DefaultTimeouts() Timeouts {
	return Timeouts{
		statemachine.StatusNegotiation:              72 * time.Hour,
		statemachine.StatusOwnerAccepted:            48 * time.Hour,
		statemachine.StatusAwaitingEscrowPayment:    24 * time.Hour,
		statemachine.StatusCreativePendingOwner:     72 * time.Hour,
		statemachine.StatusCreativeChangesRequested: 72 * time.Hour,
		statemachine.StatusScheduled:                24 * time.Hour,
	}
}

// Scheduler runs the periodic sweeps that move deals forward without user
// action. Every sweep isolates per-deal failures: one broken deal never
// blocks the rest of the batch.
type Scheduler struct {
	deals    DealLister
	escrows  EscrowLister
	resolver EscrowResolver
	orch     DealLifecycle
	timeouts Timeouts
	log      *zap.Logger
	now      func() time.Time
}

func New(deals DealLister, escrows EscrowLister, resolver EscrowResolver, orch DealLifecycle, timeouts Timeouts, log *zap.Logger) *Scheduler {
	if timeouts == nil {
		timeouts = DefaultTimeouts()
	}
	return &Scheduler{
		deals:    deals,
		escrows:  escrows,
		resolver: resolver,
		orch:     orch,
		timeouts: timeouts,
		log:      log,
		now:      time.Now,
	}
}

// SweepDeposits polls the chain for deals waiting on their escrow payment.
// Not-yet-funded deals come back as a non-transition, which is fine.
func (s *Scheduler) SweepDeposits(ctx context.Context) {
	deals, err := s.deals.ListByStatus(ctx, statemachine.StatusAwaitingEscrowPayment, sweepBatchSize)
	if err != nil {
		s.log.Error("deposit sweep listing failed", zap.Error(err))
		return
	}
	for _, deal := range deals {
		res, err := s.orch.Apply(ctx, deal.ID, nil, statemachine.EventDepositConfirmed, services.EventPayload{})
		if err != nil {
			s.logSweepError("deposit", deal.ID, err)
			continue
		}
		if res.Transitioned {
			s.log.Info("deposit confirmed by sweep", zap.String("deal_id", deal.ID.String()))
		}
	}
}

// SweepCompletions drives funded escrows to their on-chain conclusion:
// re-fires lost triggers and adopts completions we missed.
func (s *Scheduler) SweepCompletions(ctx context.Context) {
	escrows, err := s.escrows.ListByState(ctx, models.EscrowStateFunded, sweepBatchSize)
	if err != nil {
		s.log.Error("completion sweep listing failed", zap.Error(err))
		return
	}
	for i := range escrows {
		esc := &escrows[i]
		if err := s.resolver.RetrySubmitted(ctx, esc); err != nil {
			s.logSweepError("completion retry", esc.DealID, err)
		}
		if err := s.orch.ReconcileEscrow(ctx, esc.DealID); err != nil {
			s.logSweepError("completion reconcile", esc.DealID, err)
		}
	}
}

// SweepTimeouts expires deals that sat inactive past their status window.
func (s *Scheduler) SweepTimeouts(ctx context.Context) {
	for status, window := range s.timeouts {
		cutoff := s.now().Add(-window)
		deals, err := s.deals.ListInactiveSince(ctx, []statemachine.Status{status}, cutoff, sweepBatchSize)
		if err != nil {
			s.log.Error("timeout sweep listing failed", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, deal := range deals {
			s.log.Info("expiring inactive deal",
				zap.String("deal_id", deal.ID.String()),
				zap.String("status", string(deal.Status)),
			)
			if _, err := s.orch.Apply(ctx, deal.ID, nil, statemachine.EventTimeout, services.EventPayload{}); err != nil {
				s.logSweepError("timeout", deal.ID, err)
			}
		}
	}
}

// SweepScheduledPosts publishes deals whose scheduled time has arrived.
func (s *Scheduler) SweepScheduledPosts(ctx context.Context) {
	deals, err := s.deals.ListByStatus(ctx, statemachine.StatusScheduled, sweepBatchSize)
	if err != nil {
		s.log.Error("posting sweep listing failed", zap.Error(err))
		return
	}
	for _, deal := range deals {
		res, err := s.orch.AutoPost(ctx, deal.ID)
		if err != nil {
			s.logSweepError("auto post", deal.ID, err)
			continue
		}
		if res.Transitioned {
			s.log.Info("deal auto posted", zap.String("deal_id", deal.ID.String()))
		}
	}
}

// SweepRetention verifies posts under retention: early violation detection
// during the window, completion at the deadline.
func (s *Scheduler) SweepRetention(ctx context.Context) {
	deals, err := s.deals.ListByStatus(ctx, statemachine.StatusRetentionCheck, sweepBatchSize)
	if err != nil {
		s.log.Error("retention sweep listing failed", zap.Error(err))
		return
	}
	for _, deal := range deals {
		res, err := s.orch.VerifyRetention(ctx, deal.ID)
		if err != nil {
			s.logSweepError("retention", deal.ID, err)
			continue
		}
		if res.Transitioned {
			s.log.Info("retention verified",
				zap.String("deal_id", deal.ID.String()),
				zap.String("outcome", string(res.Deal.Status)),
			)
		}
	}
}

func (s *Scheduler) logSweepError(sweep string, dealID uuid.UUID, err error) {
	// A busy deal just means someone else is working on it; pick it up next tick.
	if errors.Is(err, services.ErrDealBusy) || errors.Is(err, services.ErrConcurrentUpdate) {
		s.log.Debug("sweep skipped busy deal", zap.String("sweep", sweep), zap.String("deal_id", dealID.String()))
		return
	}
	s.log.Error("sweep failed for deal",
		zap.String("sweep", sweep),
		zap.String("deal_id", dealID.String()),
		zap.Error(err),
	)
}
