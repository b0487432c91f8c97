package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dealLockTTL = 30 * time.Second

// EventPayload carries the event-specific inputs for Apply. Only the fields
// the event needs are read; the rest are ignored.
type EventPayload struct {
	// escrow_requested: the advertiser's deposit source wallet.
	AdvertiserWallet string

	// submit / resubmit
	CreativeText string
	MediaURLs    []string

	// request_changes
	Feedback string

	// schedule
	ScheduledAt *time.Time

	// posted, when the owner confirms a manual publication
	ChatID    int64
	MessageID int64
	PostURL   string

	// posted, set internally after an automatic publication
	published *PublishResult
}

// ApplyResult reports what a lifecycle call did. Transitioned == false with
// a nil error means the event was legal but its guard is not satisfied yet
// (e.g. deposit_confirmed before the money arrived); Reason says why.
type ApplyResult struct {
	Deal         *models.Deal
	Transitioned bool
	Reason       string
}

// Orchestrator is the single writer of deal status. Every transition goes
// through Apply: per-deal lock, pure transition check, side effects, then a
// compare-and-swap commit. Nothing else in the codebase updates deal status.
type Orchestrator struct {
	deals     DealStore
	escrows   EscrowStore
	creatives CreativeStore
	postings  PostingStore
	channels  ChannelStore
	audit     AuditStore
	escrow    *EscrowService
	gateway   PostingGateway
	locker    Locker
	notifier  NotificationSink
	log       *zap.Logger

	retentionHours     int
	maxPublishAttempts int
	now                func() time.Time
}

type OrchestratorDeps struct {
	Deals     DealStore
	Escrows   EscrowStore
	Creatives CreativeStore
	Postings  PostingStore
	Channels  ChannelStore
	Audit     AuditStore
	Escrow    *EscrowService
	Gateway   PostingGateway
	Locker    Locker
	Notifier  NotificationSink
	Log       *zap.Logger

	RetentionHours     int
	MaxPublishAttempts int
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	if d.RetentionHours <= 0 {
		d.RetentionHours = 24
	}
	if d.MaxPublishAttempts <= 0 {
		d.MaxPublishAttempts = 5
	}
	return &Orchestrator{
		deals:              d.Deals,
		escrows:            d.Escrows,
		creatives:          d.Creatives,
		postings:           d.Postings,
		channels:           d.Channels,
		audit:              d.Audit,
		escrow:             d.Escrow,
		gateway:            d.Gateway,
		locker:             d.Locker,
		notifier:           d.Notifier,
		log:                d.Log,
		retentionHours:     d.RetentionHours,
		maxPublishAttempts: d.MaxPublishAttempts,
		now:                time.Now,
	}
}

func (o *Orchestrator) lockDeal(ctx context.Context, dealID uuid.UUID) (Lock, error) {
	lock, err := o.locker.Obtain(ctx, "deal:lock:"+dealID.String(), dealLockTTL)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			return nil, ErrDealBusy
		}
		return nil, err
	}
	return lock, nil
}

type CreateDealInput struct {
	AdvertiserUserID uuid.UUID
	ChannelID        uuid.UUID
	CampaignID       *uuid.UUID
	PriceTON         string
	Brief            *string
	PublishFrom      *time.Time
	PublishTo        *time.Time
}

// CreateDeal makes a draft. The counterparty is whoever registered the
// channel. Drafts are private to the advertiser until sent.
func (o *Orchestrator) CreateDeal(ctx context.Context, in CreateDealInput) (*models.Deal, error) {
	price, err := decimal.NewFromString(in.PriceTON)
	if err != nil || !price.IsPositive() {
		return nil, &PreconditionError{Reason: "price must be a positive TON amount"}
	}
	if in.PublishFrom != nil && in.PublishTo != nil && !in.PublishTo.After(*in.PublishFrom) {
		return nil, &PreconditionError{Reason: "publish window end must be after its start"}
	}
	channel, err := o.channels.GetByID(ctx, in.ChannelID)
	if err != nil {
		return nil, &PreconditionError{Reason: "channel not found"}
	}
	if channel.AddedByUserID == nil {
		return nil, &PreconditionError{Reason: "channel has no registered owner"}
	}
	if *channel.AddedByUserID == in.AdvertiserUserID {
		return nil, &PreconditionError{Reason: "advertiser and owner must be different users"}
	}

	deal := &models.Deal{
		ID:               uuid.New(),
		AdvertiserUserID: in.AdvertiserUserID,
		OwnerUserID:      *channel.AddedByUserID,
		ChannelID:        in.ChannelID,
		CampaignID:       in.CampaignID,
		Status:           statemachine.StatusDraft,
		PriceTON:         price.String(),
		Currency:         models.CurrencyTON,
		Brief:            in.Brief,
		PublishFrom:      in.PublishFrom,
		PublishTo:        in.PublishTo,
	}
	if err := o.deals.Create(ctx, deal); err != nil {
		return nil, err
	}
	o.auditLog(ctx, &deal.AdvertiserUserID, "deal.created", deal.ID, map[string]any{
		"price_ton":  deal.PriceTON,
		"channel_id": deal.ChannelID.String(),
	})
	return deal, nil
}

// UpdateBrief edits the terms of a draft. Once the offer is sent the terms
// are frozen; renegotiation means a new draft.
func (o *Orchestrator) UpdateBrief(ctx context.Context, dealID, userID uuid.UUID, brief *string, publishFrom, publishTo *time.Time) error {
	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.AdvertiserUserID != userID {
		return &PreconditionError{Reason: "only the advertiser edits the brief"}
	}
	if publishFrom != nil && publishTo != nil && !publishTo.After(*publishFrom) {
		return &PreconditionError{Reason: "publish window end must be after its start"}
	}
	ok, err := o.deals.UpdateBrief(ctx, dealID, brief, publishFrom, publishTo)
	if err != nil {
		return err
	}
	if !ok {
		return &PreconditionError{Reason: "brief is editable only while the deal is a draft"}
	}
	return nil
}

// SetOwnerWallet records the owner's confirmed payout address for the deal.
// The TON Connect proof is verified by the wallet handler before this call.
func (o *Orchestrator) SetOwnerWallet(ctx context.Context, dealID, userID uuid.UUID, addr string) error {
	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	if deal.OwnerUserID != userID {
		return &PreconditionError{Reason: "only the channel owner sets the payout wallet"}
	}
	if statemachine.IsTerminal(deal.Status) {
		return &PreconditionError{Reason: "deal is finished"}
	}
	if esc, err := o.escrows.GetByDealID(ctx, dealID); err == nil && esc != nil {
		return &PreconditionError{Reason: "payout wallet is frozen once the escrow exists"}
	}
	return o.deals.SetOwnerWallet(ctx, dealID, addr)
}

// Apply runs one lifecycle event end to end. actorUserID == nil means the
// system (scheduler) is acting.
func (o *Orchestrator) Apply(ctx context.Context, dealID uuid.UUID, actorUserID *uuid.UUID, event statemachine.Event, payload EventPayload) (*ApplyResult, error) {
	lock, err := o.lockDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	actor := statemachine.ActorSystem
	if actorUserID != nil {
		actor = deal.ActorFor(*actorUserID)
		if actor == "" {
			return nil, &PreconditionError{Reason: "user is not a party to this deal"}
		}
	}
	return o.applyLocked(ctx, deal, actor, actorUserID, event, payload)
}

// applyLocked is Apply with the per-deal lock already held. Follow-up system
// transitions (posted -> retention_started) chain through here without
// releasing the lock in between.
func (o *Orchestrator) applyLocked(ctx context.Context, deal *models.Deal, actor statemachine.Actor, actorUserID *uuid.UUID, event statemachine.Event, payload EventPayload) (*ApplyResult, error) {
	// Confirming a deposit that is already on the ledger is a read, not a
	// conflict: clients and the deposit sweep both poll this event.
	if event == statemachine.EventDepositConfirmed && deal.Status != statemachine.StatusAwaitingEscrowPayment {
		if esc, err := o.escrows.GetByDealID(ctx, deal.ID); err == nil && esc != nil && esc.OnChainState != models.EscrowStateInit {
			return &ApplyResult{Deal: deal, Reason: "deposit already confirmed"}, nil
		}
	}

	next, err := statemachine.Transition(deal.Status, event, actor)
	if err != nil {
		return nil, err
	}

	// Event-specific side effects run before the commit. If any of them
	// fails, the status is untouched and the event can be retried.
	switch event {
	case statemachine.EventEscrowRequested:
		if payload.AdvertiserWallet == "" {
			return nil, &PreconditionError{Reason: "advertiser wallet address is required"}
		}
		if _, err := o.escrow.EnsureCreated(ctx, deal, payload.AdvertiserWallet); err != nil {
			return nil, err
		}

	case statemachine.EventDepositConfirmed:
		esc, err := o.escrows.GetByDealID(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("escrow not found: %w", err)
		}
		funded, transfer, err := o.escrow.CheckDeposit(ctx, esc)
		if err != nil {
			return nil, err
		}
		if !funded {
			return &ApplyResult{Deal: deal, Reason: "deposit not detected on chain yet"}, nil
		}
		txHash, payer := "", ""
		if transfer != nil {
			txHash, payer = transfer.TxHash, transfer.FromAddr
		}
		if _, err := o.escrows.MarkFunded(ctx, deal.ID, txHash, payer); err != nil {
			return nil, err
		}

	case statemachine.EventSubmit, statemachine.EventResubmit:
		if payload.CreativeText == "" && len(payload.MediaURLs) == 0 {
			return nil, &PreconditionError{Reason: "creative must have text or media"}
		}
		cv := &models.CreativeVersion{
			ID:        uuid.New(),
			DealID:    deal.ID,
			Text:      payload.CreativeText,
			MediaURLs: payload.MediaURLs,
		}
		if err := o.creatives.CreateVersion(ctx, cv); err != nil {
			return nil, err
		}

	case statemachine.EventApprove:
		cv, err := o.creatives.GetCurrent(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("no creative to approve: %w", err)
		}
		if err := o.creatives.SetStatus(ctx, cv.ID, models.CreativeStatusApproved, nil); err != nil {
			return nil, err
		}

	case statemachine.EventRequestChanges:
		if payload.Feedback == "" {
			return nil, &PreconditionError{Reason: "feedback is required when requesting changes"}
		}
		cv, err := o.creatives.GetCurrent(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("no creative to review: %w", err)
		}
		if err := o.creatives.SetStatus(ctx, cv.ID, models.CreativeStatusChangesRequested, &payload.Feedback); err != nil {
			return nil, err
		}

	case statemachine.EventSchedule:
		if err := o.scheduleSideEffect(ctx, deal, payload); err != nil {
			return nil, err
		}

	case statemachine.EventPosted:
		if err := o.postedSideEffect(ctx, deal, actor, payload); err != nil {
			return nil, err
		}
	}

	// Money moves before the terminal status is visible, so a crash between
	// the two leaves a submitted trigger, never a paid status without one.
	switch next {
	case statemachine.StatusReleased:
		esc, err := o.escrows.GetByDealID(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("escrow not found: %w", err)
		}
		if err := o.escrow.SubmitRelease(ctx, esc); err != nil {
			return nil, err
		}
	case statemachine.StatusRefunded:
		esc, err := o.escrows.GetByDealID(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("escrow not found: %w", err)
		}
		if err := o.escrow.SubmitRefund(ctx, esc); err != nil {
			return nil, err
		}
	case statemachine.StatusExpired:
		// Timeouts past funding still owe the advertiser their deposit.
		if esc, err := o.escrows.GetByDealID(ctx, deal.ID); err == nil && esc.OnChainState == models.EscrowStateFunded {
			if err := o.escrow.SubmitRefund(ctx, esc); err != nil {
				return nil, err
			}
		}
	}

	ok, err := o.deals.UpdateStatusCAS(ctx, deal.ID, deal.Status, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConcurrentUpdate
	}
	prev := deal.Status
	deal.Status = next

	o.auditLog(ctx, actorUserID, "deal."+string(event), deal.ID, map[string]any{
		"from":  string(prev),
		"to":    string(next),
		"actor": string(actor),
	})
	if o.notifier != nil {
		o.notifier.DealTransitioned(ctx, deal, event, actor)
	}

	// Publication immediately opens the retention window.
	if event == statemachine.EventPosted {
		return o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, statemachine.EventRetentionStarted, EventPayload{})
	}

	return &ApplyResult{Deal: deal, Transitioned: true}, nil
}

func (o *Orchestrator) scheduleSideEffect(ctx context.Context, deal *models.Deal, payload EventPayload) error {
	if payload.ScheduledAt == nil {
		return &PreconditionError{Reason: "scheduled_at is required"}
	}
	at := payload.ScheduledAt.UTC()
	if !at.After(o.now().UTC()) {
		return &PreconditionError{Reason: "scheduled_at must be in the future"}
	}
	if deal.PublishFrom != nil && at.Before(deal.PublishFrom.UTC()) {
		return &PreconditionError{Reason: "scheduled_at is before the agreed publish window"}
	}
	if deal.PublishTo != nil && at.After(deal.PublishTo.UTC()) {
		return &PreconditionError{Reason: "scheduled_at is after the agreed publish window"}
	}
	return o.postings.Upsert(ctx, &models.Posting{
		DealID:         deal.ID,
		ChannelID:      deal.ChannelID,
		ScheduledAt:    &at,
		RetentionHours: o.retentionHours,
	})
}

func (o *Orchestrator) auditLog(ctx context.Context, actorUserID *uuid.UUID, action string, dealID uuid.UUID, meta map[string]any) {
	actorType := "system"
	if actorUserID != nil {
		actorType = "user"
	}
	entry := models.AuditLog{
		ActorUserID: actorUserID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "deal",
		EntityID:    &dealID,
		Meta:        meta,
	}
	if err := o.audit.Log(ctx, entry); err != nil {
		o.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// Snapshot is the full deal view the mini-app renders from.
type Snapshot struct {
	Deal             *models.Deal             `json:"deal"`
	Escrow           *models.Escrow           `json:"escrow,omitempty"`
	CurrentCreative  *models.CreativeVersion  `json:"current_creative,omitempty"`
	Creatives        []models.CreativeVersion `json:"creatives,omitempty"`
	Posting          *models.Posting          `json:"posting,omitempty"`
	AvailableActions []statemachine.Event     `json:"available_actions"`
}

func (o *Orchestrator) Snapshot(ctx context.Context, dealID, forUserID uuid.UUID) (*Snapshot, error) {
	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	actor := deal.ActorFor(forUserID)
	if actor == "" {
		return nil, &PreconditionError{Reason: "user is not a party to this deal"}
	}

	snap := &Snapshot{
		Deal:             deal,
		AvailableActions: statemachine.AvailableEvents(deal.Status, actor),
	}
	if esc, err := o.escrows.GetByDealID(ctx, dealID); err == nil {
		snap.Escrow = esc
	}
	if cv, err := o.creatives.GetCurrent(ctx, dealID); err == nil {
		snap.CurrentCreative = cv
	}
	if list, err := o.creatives.ListByDeal(ctx, dealID); err == nil {
		snap.Creatives = list
	}
	if p, err := o.postings.GetByDealID(ctx, dealID); err == nil {
		snap.Posting = p
	}
	return snap, nil
}

// AvailableActions lists what the user can do with the deal right now.
func (o *Orchestrator) AvailableActions(ctx context.Context, dealID, forUserID uuid.UUID) ([]statemachine.Event, error) {
	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	actor := deal.ActorFor(forUserID)
	if actor == "" {
		return nil, &PreconditionError{Reason: "user is not a party to this deal"}
	}
	return statemachine.AvailableEvents(deal.Status, actor), nil
}

// PaymentInfo proxies the escrow deposit details for the advertiser.
func (o *Orchestrator) PaymentInfo(ctx context.Context, dealID, forUserID uuid.UUID) (*PaymentInfo, error) {
	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.ActorFor(forUserID) == "" {
		return nil, &PreconditionError{Reason: "user is not a party to this deal"}
	}
	return o.escrow.PaymentInfo(ctx, deal)
}
