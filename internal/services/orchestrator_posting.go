package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreativeContentHash fingerprints the approved creative. The same hash is
// recomputed from the live post during retention checks; any drift counts as
// an edit.
func CreativeContentHash(text string, mediaURLs []string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(text)))
	for _, u := range mediaURLs {
		h.Write([]byte{0})
		h.Write([]byte(u))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (o *Orchestrator) postedSideEffect(ctx context.Context, deal *models.Deal, actor statemachine.Actor, payload EventPayload) error {
	if _, err := o.postings.GetByDealID(ctx, deal.ID); err != nil {
		return fmt.Errorf("posting not found: %w", err)
	}

	cv, err := o.creatives.GetCurrent(ctx, deal.ID)
	if err != nil {
		return fmt.Errorf("no approved creative: %w", err)
	}
	hash := CreativeContentHash(cv.Text, cv.MediaURLs)

	var chatID, messageID int64
	var postURL string
	postedAt := o.now()

	if payload.published != nil {
		chatID = payload.published.ChatID
		messageID = payload.published.MessageID
		postURL = payload.published.PostURL
		postedAt = payload.published.PostedAt
	} else {
		// Owner confirms a manual publication with the message reference.
		if payload.MessageID == 0 {
			return &PreconditionError{Reason: "message_id of the published post is required"}
		}
		chatID = payload.ChatID
		messageID = payload.MessageID
		postURL = payload.PostURL
		if postURL == "" {
			if ch, err := o.channels.GetByID(ctx, deal.ChannelID); err == nil && ch.Username != "" {
				postURL = fmt.Sprintf("https://t.me/%s/%d", ch.Username, messageID)
			}
		}
	}

	ok, err := o.postings.MarkPosted(ctx, deal.ID, chatID, messageID, postURL, hash, postedAt)
	if err != nil {
		return err
	}
	if !ok {
		// Already recorded by an earlier attempt; the transition is what is
		// being retried, not the record.
		o.log.Info("posting already recorded", zap.String("deal_id", deal.ID.String()))
	}
	return nil
}

// AutoPost publishes a scheduled deal whose time has come. Called by the
// scheduler; a deal that is not due (or no longer scheduled) is a no-op.
func (o *Orchestrator) AutoPost(ctx context.Context, dealID uuid.UUID) (*ApplyResult, error) {
	lock, err := o.lockDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != statemachine.StatusScheduled {
		return &ApplyResult{Deal: deal, Reason: "deal is no longer scheduled"}, nil
	}

	posting, err := o.postings.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("posting not found: %w", err)
	}
	if posting.ScheduledAt == nil || posting.ScheduledAt.After(o.now()) {
		return &ApplyResult{Deal: deal, Reason: "not due yet"}, nil
	}

	channel, err := o.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		return nil, err
	}

	cv, err := o.creatives.GetCurrent(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("no approved creative: %w", err)
	}

	var result *PublishResult
	publishErr := error(nil)
	// Rights are re-checked at publish time, not at schedule time.
	if channel.BotStatus != "active" || channel.TelegramChatID == nil {
		publishErr = &ExternalError{Op: "publish", Err: errors.New("bot has no posting rights in the channel")}
	} else {
		result, publishErr = o.gateway.Publish(ctx, channel.Username, *channel.TelegramChatID, PublishContent{
			Text:      cv.Text,
			MediaURLs: cv.MediaURLs,
		})
	}

	if publishErr != nil {
		attempts, aerr := o.postings.IncrementPublishAttempts(ctx, dealID)
		if aerr != nil {
			o.log.Warn("publish attempt counter failed", zap.String("deal_id", dealID.String()), zap.Error(aerr))
		}
		windowClosed := deal.PublishTo != nil && o.now().After(*deal.PublishTo)
		if windowClosed || attempts >= o.maxPublishAttempts {
			o.log.Warn("giving up on auto publication",
				zap.String("deal_id", dealID.String()),
				zap.Int("attempts", attempts),
				zap.Bool("window_closed", windowClosed),
				zap.Error(publishErr),
			)
			return o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, statemachine.EventTimeout, EventPayload{})
		}
		return nil, publishErr
	}

	return o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, statemachine.EventPosted, EventPayload{published: result})
}

// VerifyRetention checks the live post against the approved creative.
// Within the window an intact post is a no-op; a deleted or edited post is an
// immediate violation; past the deadline an intact post completes the deal.
func (o *Orchestrator) VerifyRetention(ctx context.Context, dealID uuid.UUID) (*ApplyResult, error) {
	lock, err := o.lockDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal.Status != statemachine.StatusRetentionCheck {
		return &ApplyResult{Deal: deal, Reason: "deal is not under retention verification"}, nil
	}

	posting, err := o.postings.GetByDealID(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("posting not found: %w", err)
	}
	deadline, ok := posting.RetentionDeadline()
	if !ok || posting.TelegramMessageID == nil {
		return nil, &PreconditionError{Reason: "posting has no publication record"}
	}

	channel, err := o.channels.GetByID(ctx, deal.ChannelID)
	if err != nil {
		return nil, err
	}
	var chatID int64
	if posting.TelegramChatID != nil {
		chatID = *posting.TelegramChatID
	} else if channel.TelegramChatID != nil {
		chatID = *channel.TelegramChatID
	}

	violation := ""
	msg, err := o.gateway.FetchMessage(ctx, channel.Username, chatID, *posting.TelegramMessageID)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		violation = "post was deleted"
	case err != nil:
		return nil, &ExternalError{Op: "fetch message", Err: err}
	default:
		if posting.ContentHash != nil && CreativeContentHash(msg.Text, msg.MediaURLs) != *posting.ContentHash {
			violation = "post content was changed"
		} else if msg.EditedAt != nil && posting.PostedAt != nil && msg.EditedAt.After(*posting.PostedAt) {
			violation = "post was edited"
		}
	}

	if violation == "" && o.now().Before(deadline) {
		return &ApplyResult{Deal: deal, Reason: "retention window still open"}, nil
	}

	retained := violation == ""
	var verr *string
	if !retained {
		verr = &violation
	}
	recorded, err := o.postings.MarkVerified(ctx, dealID, retained, verr)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return &ApplyResult{Deal: deal, Reason: "already verified"}, nil
	}

	event := statemachine.EventVerifiedOK
	if !retained {
		event = statemachine.EventVerifiedViolation
		o.log.Info("retention violation",
			zap.String("deal_id", dealID.String()),
			zap.String("reason", violation),
		)
	}
	return o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, event, EventPayload{})
}

// ReconcileEscrow aligns the deal with the chain when they disagree. The
// chain is authoritative for money: a contract that released or refunded
// while we were down drags the deal to the matching terminal status.
func (o *Orchestrator) ReconcileEscrow(ctx context.Context, dealID uuid.UUID) error {
	lock, err := o.lockDeal(ctx, dealID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	deal, err := o.deals.GetByID(ctx, dealID)
	if err != nil {
		return err
	}
	esc, err := o.escrows.GetByDealID(ctx, dealID)
	if err != nil {
		return nil // no escrow, nothing to reconcile
	}

	chainState, err := o.escrow.ResolveChainState(ctx, esc)
	if err != nil {
		return err
	}

	switch chainState {
	case models.EscrowStateFunded:
		if deal.Status == statemachine.StatusAwaitingEscrowPayment {
			_, err := o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, statemachine.EventDepositConfirmed, EventPayload{})
			return err
		}
	case models.EscrowStateReleased:
		if deal.Status != statemachine.StatusReleased {
			if _, err := o.escrows.MarkReleased(ctx, dealID, ""); err != nil {
				return err
			}
			return o.adoptChainStatus(ctx, deal, statemachine.StatusReleased, statemachine.EventVerifiedOK)
		}
	case models.EscrowStateRefunded:
		if deal.Status != statemachine.StatusRefunded && deal.Status != statemachine.StatusExpired {
			if _, err := o.escrows.MarkRefunded(ctx, dealID, ""); err != nil {
				return err
			}
			return o.adoptChainStatus(ctx, deal, statemachine.StatusRefunded, statemachine.EventRefund)
		}
	}
	return nil
}

// adoptChainStatus moves the deal to where the chain says it is: through the
// normal event when one is legal, otherwise by a forced status write that is
// logged loudly.
func (o *Orchestrator) adoptChainStatus(ctx context.Context, deal *models.Deal, target statemachine.Status, event statemachine.Event) error {
	if _, err := statemachine.Transition(deal.Status, event, statemachine.ActorSystem); err == nil {
		_, err := o.applyLocked(ctx, deal, statemachine.ActorSystem, nil, event, EventPayload{})
		return err
	}

	o.log.Warn("forcing deal status to match chain",
		zap.String("deal_id", deal.ID.String()),
		zap.String("from", string(deal.Status)),
		zap.String("to", string(target)),
	)
	ok, err := o.deals.UpdateStatusCAS(ctx, deal.ID, deal.Status, target)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentUpdate
	}
	prev := deal.Status
	deal.Status = target
	o.auditLog(ctx, nil, "deal.chain_reconciled", deal.ID, map[string]any{
		"from": string(prev),
		"to":   string(target),
	})
	return nil
}
