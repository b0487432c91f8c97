package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/channelads/backend/internal/ton"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) createDeal(t *testing.T) *models.Deal {
	t.Helper()
	from := env.clock.Add(time.Hour)
	to := env.clock.Add(48 * time.Hour)
	deal, err := env.orch.CreateDeal(context.Background(), CreateDealInput{
		AdvertiserUserID: env.advertiserID,
		ChannelID:        env.channelID,
		PriceTON:         "5",
		PublishFrom:      &from,
		PublishTo:        &to,
	})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusDraft, deal.Status)
	require.Equal(t, env.ownerID, deal.OwnerUserID)
	return deal
}

// drives a fresh deal up to escrow_funded
func (env *testEnv) fundDeal(t *testing.T) *models.Deal {
	t.Helper()
	ctx := context.Background()
	deal := env.createDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventAccept, EventPayload{})
	require.NoError(t, err)

	require.NoError(t, env.orch.SetOwnerWallet(ctx, deal.ID, env.ownerID, testOwnerWallet))

	res, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventEscrowRequested, EventPayload{
		AdvertiserWallet: testAdvertiserWallet,
	})
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, statemachine.StatusAwaitingEscrowPayment, res.Deal.Status)

	env.chain.setState(ton.ContractState{Deployed: true, State: ton.GetterStateFunded})
	res, err = env.orch.Apply(ctx, deal.ID, nil, statemachine.EventDepositConfirmed, EventPayload{})
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, statemachine.StatusEscrowFunded, res.Deal.Status)
	return res.Deal
}

func TestFullLifecycleRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	esc, err := env.escrows.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStateFunded, esc.OnChainState)
	require.NotEmpty(t, esc.ContractAddress)

	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)

	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSubmit, EventPayload{
		CreativeText: "первый вариант",
	})
	require.NoError(t, err)

	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventRequestChanges, EventPayload{
		Feedback: "поправьте ссылку",
	})
	require.NoError(t, err)

	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventResubmit, EventPayload{
		CreativeText: "второй вариант",
	})
	require.NoError(t, err)

	current, err := env.creatives.GetCurrent(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, 2, current.Version)
	require.Equal(t, "второй вариант", current.Text)

	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	require.NoError(t, err)

	at := env.clock.Add(2 * time.Hour)
	res, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &at})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusScheduled, res.Deal.Status)

	// Not due yet: no-op, no publish call.
	res, err = env.orch.AutoPost(ctx, deal.ID)
	require.NoError(t, err)
	require.False(t, res.Transitioned)
	require.Equal(t, "not due yet", res.Reason)
	require.Equal(t, 0, env.gateway.publishCalls)

	env.advance(3 * time.Hour)
	res, err = env.orch.AutoPost(ctx, deal.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	// posted chains straight into the retention window
	require.Equal(t, statemachine.StatusRetentionCheck, res.Deal.Status)
	require.Equal(t, 1, env.gateway.publishCalls)

	posting, err := env.postings.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, posting.PostedAt)
	require.NotNil(t, posting.ContentHash)
	require.Equal(t, CreativeContentHash("второй вариант", nil), *posting.ContentHash)

	// During the window an intact post changes nothing.
	env.gateway.fetched = &FetchedMessage{Text: "второй вариант"}
	res, err = env.orch.VerifyRetention(ctx, deal.ID)
	require.NoError(t, err)
	require.False(t, res.Transitioned)
	require.Equal(t, "retention window still open", res.Reason)

	env.advance(25 * time.Hour)
	res, err = env.orch.VerifyRetention(ctx, deal.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, statemachine.StatusReleased, res.Deal.Status)
	require.Equal(t, 1, env.signer.releaseCalls)
	require.Equal(t, 0, env.signer.refundCalls)

	esc, err = env.escrows.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStateReleased, esc.OnChainState)
	require.NotNil(t, esc.ReleaseSubmittedAt)

	require.Contains(t, env.audit.actions(), "deal.verified_ok")
}

func TestDepositNotDetectedIsNoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventAccept, EventPayload{})
	require.NoError(t, err)
	require.NoError(t, env.orch.SetOwnerWallet(ctx, deal.ID, env.ownerID, testOwnerWallet))
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventEscrowRequested, EventPayload{
		AdvertiserWallet: testAdvertiserWallet,
	})
	require.NoError(t, err)

	// Contract not deployed: legal event, unsatisfied guard.
	res, err := env.orch.Apply(ctx, deal.ID, nil, statemachine.EventDepositConfirmed, EventPayload{})
	require.NoError(t, err)
	require.False(t, res.Transitioned)
	require.Equal(t, "deposit not detected on chain yet", res.Reason)
	require.Equal(t, statemachine.StatusAwaitingEscrowPayment, res.Deal.Status)
}

func TestDepositConfirmedRepeatIsNoOp(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	// Clients and the deposit sweep both poll this event; once the money is
	// on the ledger a repeat must read back the same status, not conflict.
	res, err := env.orch.Apply(ctx, deal.ID, nil, statemachine.EventDepositConfirmed, EventPayload{})
	require.NoError(t, err)
	require.False(t, res.Transitioned)
	require.Equal(t, "deposit already confirmed", res.Reason)
	require.Equal(t, statemachine.StatusEscrowFunded, res.Deal.Status)

	// Same when the advertiser retries from the UI.
	res, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventDepositConfirmed, EventPayload{})
	require.NoError(t, err)
	require.False(t, res.Transitioned)

	// And well past funding too.
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)
	res, err = env.orch.Apply(ctx, deal.ID, nil, statemachine.EventDepositConfirmed, EventPayload{})
	require.NoError(t, err)
	require.False(t, res.Transitioned)
	require.Equal(t, statemachine.StatusCreativePendingOwner, res.Deal.Status)
}

func TestEscrowRequiresConfirmedOwnerWallet(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventAccept, EventPayload{})
	require.NoError(t, err)

	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventEscrowRequested, EventPayload{
		AdvertiserWallet: testAdvertiserWallet,
	})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)

	// Failed side effect must not move the status.
	got, err := env.deals.GetByID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusOwnerAccepted, got.Status)
}

func TestActorGating(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	// Owner cannot send the advertiser's offer.
	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSend, EventPayload{})
	var unauthorized *statemachine.UnauthorizedActorError
	require.ErrorAs(t, err, &unauthorized)

	// A stranger is not a party at all.
	stranger := env.channelID
	_, err = env.orch.Apply(ctx, deal.ID, &stranger, statemachine.EventSend, EventPayload{})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestIllegalEventRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	var illegal *statemachine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
}

func TestConcurrentStatusChangeLosesCAS(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	env.deals.onCAS = func() {
		env.deals.onCAS = nil
		// Another writer cancels the deal between read and commit.
		env.deals.mu.Lock()
		env.deals.deals[deal.ID].Status = statemachine.StatusCancelled
		env.deals.mu.Unlock()
	}

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.ErrorIs(t, err, ErrConcurrentUpdate)
}

func TestLockedDealIsBusy(t *testing.T) {
	env := newTestEnv()
	deal := env.createDeal(t)

	env.orch.locker = &memLocker{busy: map[string]bool{"deal:lock:" + deal.ID.String(): true}}
	_, err := env.orch.Apply(context.Background(), deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.ErrorIs(t, err, ErrDealBusy)
}

func TestCancelAfterFundingRefunds(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	// Plain cancel is gone once money is in.
	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventCancel, EventPayload{})
	var illegal *statemachine.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	res, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventCancelPostEscrow, EventPayload{})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusRefunded, res.Deal.Status)
	require.Equal(t, 1, env.signer.refundCalls)

	esc, err := env.escrows.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, models.EscrowStateRefunded, esc.OnChainState)
}

func TestTimeoutAfterFundingRefundsDeposit(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)

	res, err := env.orch.Apply(ctx, deal.ID, nil, statemachine.EventTimeout, EventPayload{})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusExpired, res.Deal.Status)
	require.Equal(t, 1, env.signer.refundCalls)
}

func TestRetentionViolationRefunds(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.dealInRetention(t)

	// The post disappeared: immediate violation, no need to wait out the window.
	env.gateway.fetchErr = ErrMessageNotFound
	res, err := env.orch.VerifyRetention(ctx, deal.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, statemachine.StatusRefunded, res.Deal.Status)
	require.Equal(t, 1, env.signer.refundCalls)
	require.Equal(t, 0, env.signer.releaseCalls)

	posting, err := env.postings.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.NotNil(t, posting.Retained)
	require.False(t, *posting.Retained)
	require.Equal(t, "post was deleted", *posting.VerificationError)
}

func TestRetentionEditViolation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.dealInRetention(t)

	env.gateway.fetched = &FetchedMessage{Text: "совсем другой текст"}
	res, err := env.orch.VerifyRetention(ctx, deal.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned)
	require.Equal(t, statemachine.StatusRefunded, res.Deal.Status)

	posting, err := env.postings.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, "post content was changed", *posting.VerificationError)
}

func TestAutoPostGivesUpAfterRetries(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSubmit, EventPayload{CreativeText: "пост"})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	require.NoError(t, err)

	at := env.clock.Add(time.Hour)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &at})
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	env.gateway.publishErr = errors.New("bot was kicked")

	// First two failures surface as retryable errors.
	for i := 0; i < 2; i++ {
		_, err = env.orch.AutoPost(ctx, deal.ID)
		require.Error(t, err)
	}

	// Third failure exhausts the attempts: the deal expires and the funded
	// escrow is refunded.
	res, err := env.orch.AutoPost(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusExpired, res.Deal.Status)
	require.Equal(t, 1, env.signer.refundCalls)
}

func TestScheduleOutsideWindowRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSubmit, EventPayload{CreativeText: "пост"})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	require.NoError(t, err)

	var precondition *PreconditionError

	past := env.clock.Add(-time.Hour)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &past})
	require.ErrorAs(t, err, &precondition)

	late := env.clock.Add(30 * 24 * time.Hour)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &late})
	require.ErrorAs(t, err, &precondition)
}

func TestManualPostedConfirmation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSubmit, EventPayload{CreativeText: "пост"})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	require.NoError(t, err)
	at := env.clock.Add(time.Hour)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &at})
	require.NoError(t, err)

	// Owner posted by hand and reports the message id.
	res, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventPosted, EventPayload{MessageID: 777})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusRetentionCheck, res.Deal.Status)

	posting, err := env.postings.GetByDealID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(777), *posting.TelegramMessageID)
	require.Equal(t, "https://t.me/testchan/777", *posting.PostURL)
}

func TestReconcileEscrowAdoptsChainState(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventAccept, EventPayload{})
	require.NoError(t, err)
	require.NoError(t, env.orch.SetOwnerWallet(ctx, deal.ID, env.ownerID, testOwnerWallet))
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventEscrowRequested, EventPayload{
		AdvertiserWallet: testAdvertiserWallet,
	})
	require.NoError(t, err)

	// The deposit landed while we were not looking.
	env.chain.setState(ton.ContractState{Deployed: true, State: ton.GetterStateFunded})
	require.NoError(t, env.orch.ReconcileEscrow(ctx, deal.ID))

	got, err := env.deals.GetByID(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusEscrowFunded, got.Status)
}

func TestUpdateBriefOnlyInDraft(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.createDeal(t)

	brief := "два поста в вечерний прайм"
	require.NoError(t, env.orch.UpdateBrief(ctx, deal.ID, env.advertiserID, &brief, nil, nil))

	// Owner may not touch the brief.
	var precondition *PreconditionError
	err := env.orch.UpdateBrief(ctx, deal.ID, env.ownerID, &brief, nil, nil)
	require.ErrorAs(t, err, &precondition)

	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventSend, EventPayload{})
	require.NoError(t, err)

	err = env.orch.UpdateBrief(ctx, deal.ID, env.advertiserID, &brief, nil, nil)
	require.ErrorAs(t, err, &precondition)
}

func TestCreateDealRejectsSelfDeal(t *testing.T) {
	env := newTestEnv()
	_, err := env.orch.CreateDeal(context.Background(), CreateDealInput{
		AdvertiserUserID: env.ownerID,
		ChannelID:        env.channelID,
		PriceTON:         "5",
	})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestSnapshotAndActions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	deal := env.fundDeal(t)

	snap, err := env.orch.Snapshot(ctx, deal.ID, env.ownerID)
	require.NoError(t, err)
	require.NotNil(t, snap.Escrow)
	require.Equal(t, []statemachine.Event{statemachine.EventBeginCreative, statemachine.EventCancelPostEscrow}, snap.AvailableActions)

	// Outsiders get nothing.
	_, err = env.orch.Snapshot(ctx, deal.ID, env.channelID)
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
}

// drives a fresh deal into retention_check via auto publication
func (env *testEnv) dealInRetention(t *testing.T) *models.Deal {
	t.Helper()
	ctx := context.Background()
	deal := env.fundDeal(t)

	_, err := env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventBeginCreative, EventPayload{})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSubmit, EventPayload{CreativeText: "пост"})
	require.NoError(t, err)
	_, err = env.orch.Apply(ctx, deal.ID, &env.advertiserID, statemachine.EventApprove, EventPayload{})
	require.NoError(t, err)

	at := env.clock.Add(time.Hour)
	_, err = env.orch.Apply(ctx, deal.ID, &env.ownerID, statemachine.EventSchedule, EventPayload{ScheduledAt: &at})
	require.NoError(t, err)

	env.advance(2 * time.Hour)
	res, err := env.orch.AutoPost(ctx, deal.ID)
	require.NoError(t, err)
	require.Equal(t, statemachine.StatusRetentionCheck, res.Deal.Status)
	return res.Deal
}
