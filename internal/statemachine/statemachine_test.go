package statemachine

import (
	"errors"
	"testing"
)

func TestTransitionHappyPath(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
		actor Actor
		want  Status
	}{
		{StatusDraft, EventSend, ActorAdvertiser, StatusNegotiation},
		{StatusDraft, EventCancel, ActorAdvertiser, StatusCancelled},
		{StatusNegotiation, EventAccept, ActorOwner, StatusOwnerAccepted},
		{StatusNegotiation, EventCancel, ActorOwner, StatusCancelled},
		{StatusNegotiation, EventTimeout, ActorSystem, StatusExpired},
		{StatusOwnerAccepted, EventEscrowRequested, ActorAdvertiser, StatusAwaitingEscrowPayment},
		{StatusOwnerAccepted, EventTimeout, ActorSystem, StatusExpired},
		{StatusAwaitingEscrowPayment, EventDepositConfirmed, ActorSystem, StatusEscrowFunded},
		{StatusAwaitingEscrowPayment, EventCancel, ActorAdvertiser, StatusCancelled},
		{StatusEscrowFunded, EventBeginCreative, ActorSystem, StatusCreativePendingOwner},
		{StatusEscrowFunded, EventCancelPostEscrow, ActorAdvertiser, StatusRefunded},
		{StatusCreativePendingOwner, EventSubmit, ActorOwner, StatusCreativeSubmitted},
		{StatusCreativePendingOwner, EventTimeout, ActorSystem, StatusExpired},
		{StatusCreativeSubmitted, EventApprove, ActorAdvertiser, StatusCreativeApproved},
		{StatusCreativeSubmitted, EventRequestChanges, ActorAdvertiser, StatusCreativeChangesRequested},
		{StatusCreativeChangesRequested, EventResubmit, ActorOwner, StatusCreativeSubmitted},
		{StatusCreativeApproved, EventSchedule, ActorOwner, StatusScheduled},
		{StatusCreativeApproved, EventRefund, ActorSystem, StatusRefunded},
		{StatusScheduled, EventPosted, ActorSystem, StatusPosted},
		{StatusScheduled, EventTimeout, ActorSystem, StatusExpired},
		{StatusPosted, EventRetentionStarted, ActorSystem, StatusRetentionCheck},
		{StatusRetentionCheck, EventVerifiedOK, ActorSystem, StatusReleased},
		{StatusRetentionCheck, EventVerifiedViolation, ActorSystem, StatusRefunded},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			got, err := Transition(tt.from, tt.event, tt.actor)
			if err != nil {
				t.Fatalf("Transition(%s, %s, %s) unexpected error: %v", tt.from, tt.event, tt.actor, err)
			}
			if got != tt.want {
				t.Errorf("Transition(%s, %s, %s) = %s, want %s", tt.from, tt.event, tt.actor, got, tt.want)
			}
		})
	}
}

func TestTransitionIllegal(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
	}{
		{StatusDraft, EventAccept},
		{StatusDraft, EventApprove},
		{StatusNegotiation, EventSend},
		{StatusOwnerAccepted, EventDepositConfirmed},
		{StatusAwaitingEscrowPayment, EventSubmit},
		// once escrow is funded, plain cancel must be rejected
		{StatusEscrowFunded, EventCancel},
		{StatusCreativePendingOwner, EventCancel},
		{StatusCreativeSubmitted, EventCancel},
		{StatusCreativeSubmitted, EventTimeout},
		{StatusScheduled, EventCancel},
		{StatusPosted, EventRefund},
		{StatusRetentionCheck, EventRefund},
		{StatusRetentionCheck, EventTimeout},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event), func(t *testing.T) {
			_, err := Transition(tt.from, tt.event, ActorSystem)
			var illegal *IllegalTransitionError
			if !errors.As(err, &illegal) {
				t.Errorf("Transition(%s, %s) = %v, want IllegalTransitionError", tt.from, tt.event, err)
			}
		})
	}
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	terminals := []Status{StatusReleased, StatusRefunded, StatusCancelled, StatusExpired}
	events := []Event{
		EventSend, EventAccept, EventCancel, EventTimeout, EventEscrowRequested,
		EventDepositConfirmed, EventBeginCreative, EventCancelPostEscrow, EventSubmit,
		EventResubmit, EventApprove, EventRequestChanges, EventSchedule, EventPosted,
		EventRetentionStarted, EventVerifiedOK, EventVerifiedViolation, EventRefund,
	}

	for _, s := range terminals {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
		for _, ev := range events {
			for _, actor := range []Actor{ActorAdvertiser, ActorOwner, ActorSystem} {
				if _, err := Transition(s, ev, actor); err == nil {
					t.Errorf("Transition(%s, %s, %s) succeeded, terminal status must reject", s, ev, actor)
				}
			}
		}
	}
}

func TestTransitionActorGating(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
		actor Actor
	}{
		{StatusDraft, EventSend, ActorOwner},                         // only advertiser sends
		{StatusNegotiation, EventAccept, ActorAdvertiser},            // only owner accepts
		{StatusCreativePendingOwner, EventSubmit, ActorAdvertiser},   // only owner submits
		{StatusCreativeSubmitted, EventApprove, ActorOwner},          // only advertiser approves
		{StatusCreativeSubmitted, EventRequestChanges, ActorOwner},   //
		{StatusCreativeApproved, EventSchedule, ActorAdvertiser},     // only owner schedules
		{StatusRetentionCheck, EventVerifiedOK, ActorAdvertiser},     // verification is system-only
		{StatusAwaitingEscrowPayment, EventTimeout, ActorAdvertiser}, // timeouts are system-only
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.event)+"/"+string(tt.actor), func(t *testing.T) {
			_, err := Transition(tt.from, tt.event, tt.actor)
			var unauthorized *UnauthorizedActorError
			if !errors.As(err, &unauthorized) {
				t.Errorf("Transition(%s, %s, %s) = %v, want UnauthorizedActorError", tt.from, tt.event, tt.actor, err)
			}
		})
	}
}

func TestAvailableEvents(t *testing.T) {
	got := AvailableEvents(StatusCreativeSubmitted, ActorAdvertiser)
	want := []Event{EventApprove, EventRefund, EventRequestChanges}
	if len(got) != len(want) {
		t.Fatalf("AvailableEvents(creative_submitted, advertiser) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AvailableEvents(creative_submitted, advertiser) = %v, want %v", got, want)
		}
	}

	if evs := AvailableEvents(StatusReleased, ActorOwner); len(evs) != 0 {
		t.Errorf("AvailableEvents(released, owner) = %v, want empty", evs)
	}
	if evs := AvailableEvents(StatusPosted, ActorOwner); len(evs) != 0 {
		t.Errorf("AvailableEvents(posted, owner) = %v, want empty", evs)
	}
}

func TestUnknownStatus(t *testing.T) {
	if Known("garbage") {
		t.Error("Known(garbage) = true")
	}
	if _, err := Transition("garbage", EventSend, ActorAdvertiser); err == nil {
		t.Error("Transition from unknown status succeeded")
	}
}
