package statemachine

import (
	"fmt"
	"sort"
)

// Status is a deal lifecycle status.
type Status string

const (
	StatusDraft                    Status = "draft"
	StatusNegotiation              Status = "negotiation"
	StatusOwnerAccepted            Status = "owner_accepted"
	StatusAwaitingEscrowPayment    Status = "awaiting_escrow_payment"
	StatusEscrowFunded             Status = "escrow_funded"
	StatusCreativePendingOwner     Status = "creative_pending_owner"
	StatusCreativeSubmitted        Status = "creative_submitted"
	StatusCreativeChangesRequested Status = "creative_changes_requested"
	StatusCreativeApproved         Status = "creative_approved"
	StatusScheduled                Status = "scheduled"
	StatusPosted                   Status = "posted"
	StatusRetentionCheck           Status = "retention_check"
	StatusReleased                 Status = "released"
	StatusRefunded                 Status = "refunded"
	StatusCancelled                Status = "cancelled"
	StatusExpired                  Status = "expired"
)

// Event is an action applied to a deal by an actor.
type Event string

const (
	EventSend              Event = "send"
	EventAccept            Event = "accept"
	EventCancel            Event = "cancel"
	EventTimeout           Event = "timeout"
	EventEscrowRequested   Event = "escrow_requested"
	EventDepositConfirmed  Event = "deposit_confirmed"
	EventBeginCreative     Event = "begin_creative"
	EventCancelPostEscrow  Event = "cancel_post_escrow"
	EventSubmit            Event = "submit"
	EventResubmit          Event = "resubmit"
	EventApprove           Event = "approve"
	EventRequestChanges    Event = "request_changes"
	EventSchedule          Event = "schedule"
	EventPosted            Event = "posted"
	EventRetentionStarted  Event = "retention_started"
	EventVerifiedOK        Event = "verified_ok"
	EventVerifiedViolation Event = "verified_violation"
	EventRefund            Event = "refund"
)

// Actor is the role on whose behalf an event is fired.
type Actor string

const (
	ActorAdvertiser Actor = "advertiser"
	ActorOwner      Actor = "owner"
	ActorSystem     Actor = "system"
)

type rule struct {
	next   Status
	actors []Actor
}

// transitions: status -> event -> (next status, allowed actors).
// Once escrow is funded, plain cancel is never allowed: money must leave
// through the refund path.
var transitions = map[Status]map[Event]rule{
	StatusDraft: {
		EventSend:   {StatusNegotiation, []Actor{ActorAdvertiser}},
		EventCancel: {StatusCancelled, []Actor{ActorAdvertiser}},
	},
	StatusNegotiation: {
		EventAccept:  {StatusOwnerAccepted, []Actor{ActorOwner}},
		EventCancel:  {StatusCancelled, []Actor{ActorAdvertiser, ActorOwner}},
		EventTimeout: {StatusExpired, []Actor{ActorSystem}},
	},
	StatusOwnerAccepted: {
		EventEscrowRequested: {StatusAwaitingEscrowPayment, []Actor{ActorAdvertiser, ActorSystem}},
		EventCancel:          {StatusCancelled, []Actor{ActorAdvertiser, ActorOwner}},
		EventTimeout:         {StatusExpired, []Actor{ActorSystem}},
	},
	StatusAwaitingEscrowPayment: {
		EventDepositConfirmed: {StatusEscrowFunded, []Actor{ActorAdvertiser, ActorSystem}},
		EventCancel:           {StatusCancelled, []Actor{ActorAdvertiser}},
		EventTimeout:          {StatusExpired, []Actor{ActorSystem}},
	},
	StatusEscrowFunded: {
		EventBeginCreative:    {StatusCreativePendingOwner, []Actor{ActorOwner, ActorSystem}},
		EventCancelPostEscrow: {StatusRefunded, []Actor{ActorAdvertiser, ActorOwner}},
	},
	StatusCreativePendingOwner: {
		EventSubmit:  {StatusCreativeSubmitted, []Actor{ActorOwner}},
		EventRefund:  {StatusRefunded, []Actor{ActorAdvertiser, ActorSystem}},
		EventTimeout: {StatusExpired, []Actor{ActorSystem}},
	},
	StatusCreativeSubmitted: {
		EventApprove:        {StatusCreativeApproved, []Actor{ActorAdvertiser}},
		EventRequestChanges: {StatusCreativeChangesRequested, []Actor{ActorAdvertiser}},
		EventRefund:         {StatusRefunded, []Actor{ActorAdvertiser, ActorSystem}},
	},
	StatusCreativeChangesRequested: {
		EventResubmit: {StatusCreativeSubmitted, []Actor{ActorOwner}},
		EventRefund:   {StatusRefunded, []Actor{ActorAdvertiser, ActorSystem}},
		EventTimeout:  {StatusExpired, []Actor{ActorSystem}},
	},
	StatusCreativeApproved: {
		EventSchedule: {StatusScheduled, []Actor{ActorOwner}},
		EventRefund:   {StatusRefunded, []Actor{ActorAdvertiser, ActorSystem}},
	},
	StatusScheduled: {
		EventPosted:  {StatusPosted, []Actor{ActorOwner, ActorSystem}},
		EventRefund:  {StatusRefunded, []Actor{ActorAdvertiser, ActorSystem}},
		EventTimeout: {StatusExpired, []Actor{ActorSystem}},
	},
	StatusPosted: {
		EventRetentionStarted: {StatusRetentionCheck, []Actor{ActorSystem}},
	},
	StatusRetentionCheck: {
		EventVerifiedOK:        {StatusReleased, []Actor{ActorSystem}},
		EventVerifiedViolation: {StatusRefunded, []Actor{ActorSystem}},
	},
	StatusReleased:  {},
	StatusRefunded:  {},
	StatusCancelled: {},
	StatusExpired:   {},
}

// IllegalTransitionError: the event is not defined for the current status.
type IllegalTransitionError struct {
	From  Status
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %q is not allowed in status %q", e.Event, e.From)
}

// UnauthorizedActorError: the event exists but this actor may not fire it.
type UnauthorizedActorError struct {
	From  Status
	Event Event
	Actor Actor
}

func (e *UnauthorizedActorError) Error() string {
	return fmt.Sprintf("actor %q may not fire event %q in status %q", e.Actor, e.Event, e.From)
}

// Transition returns the next status for (status, event, actor) or a typed error.
// Pure: no I/O, no side effects. Guards that need external state (chain reads,
// wallet resolution, time checks) live in the orchestrator.
func Transition(from Status, event Event, actor Actor) (Status, error) {
	byEvent, ok := transitions[from]
	if !ok {
		return "", &IllegalTransitionError{From: from, Event: event}
	}
	r, ok := byEvent[event]
	if !ok {
		return "", &IllegalTransitionError{From: from, Event: event}
	}
	for _, a := range r.actors {
		if a == actor {
			return r.next, nil
		}
	}
	return "", &UnauthorizedActorError{From: from, Event: event, Actor: actor}
}

// AvailableEvents lists the events the given actor may fire in the given
// status, sorted for stable output. This is what the UI action list is built
// from; it is derived from the same table Transition uses.
func AvailableEvents(from Status, actor Actor) []Event {
	byEvent, ok := transitions[from]
	if !ok {
		return nil
	}
	var out []Event
	for ev, r := range byEvent {
		for _, a := range r.actors {
			if a == actor {
				out = append(out, ev)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether the status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusCancelled || s == StatusExpired
}

// Known reports whether s is one of the defined lifecycle statuses.
func Known(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// AllStatuses returns every defined status, sorted.
func AllStatuses() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
