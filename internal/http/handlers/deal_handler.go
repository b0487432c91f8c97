package handlers

import (
	"errors"
	"strconv"

	"github.com/channelads/backend/internal/http/dto"
	"github.com/channelads/backend/internal/middleware"
	"github.com/channelads/backend/internal/repositories"
	"github.com/channelads/backend/internal/services"
	"github.com/channelads/backend/internal/statemachine"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DealHandler struct {
	orch  *services.Orchestrator
	deals *repositories.DealRepo
	audit *repositories.AuditRepo
	log   *zap.Logger
}

func NewDealHandler(orch *services.Orchestrator, deals *repositories.DealRepo, audit *repositories.AuditRepo, log *zap.Logger) *DealHandler {
	return &DealHandler{orch: orch, deals: deals, audit: audit, log: log}
}

// dealError maps lifecycle errors onto HTTP statuses. Conflicts are real:
// the client should re-read the deal and show the fresh action list.
func (h *DealHandler) dealError(c *fiber.Ctx, err error) error {
	var illegal *statemachine.IllegalTransitionError
	var unauthorized *statemachine.UnauthorizedActorError
	var precondition *services.PreconditionError
	var external *services.ExternalError

	switch {
	case errors.As(err, &illegal):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &unauthorized):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &precondition):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrDealBusy), errors.Is(err, services.ErrConcurrentUpdate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &external):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	h.log.Error("deal operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
}

func (h *DealHandler) apply(c *fiber.Ctx, event statemachine.Event, payload services.EventPayload) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	actorID := middleware.GetUserID(c)
	res, err := h.orch.Apply(c.Context(), dealID, &actorID, event, payload)
	if err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.ApplyResponse{
		OK:      true,
		Applied: res.Transitioned,
		Status:  string(res.Deal.Status),
		Reason:  res.Reason,
	})
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	channelID, err := uuid.Parse(req.ChannelID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid channel_id"})
	}

	in := services.CreateDealInput{
		AdvertiserUserID: middleware.GetUserID(c),
		ChannelID:        channelID,
		PriceTON:         req.PriceTON,
		Brief:            req.Brief,
		PublishFrom:      req.PublishFrom,
		PublishTo:        req.PublishTo,
	}
	if req.CampaignID != nil {
		if id, err := uuid.Parse(*req.CampaignID); err == nil {
			in.CampaignID = &id
		}
	}

	deal, err := h.orch.CreateDeal(c.Context(), in)
	if err != nil {
		return h.dealError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.DealFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		st := statemachine.Status(v)
		if !statemachine.Known(st) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unknown status"})
		}
		filter.Status = &st
	}

	switch c.Query("role") {
	case "owner":
		filter.OwnerUserID = &userID
	default:
		filter.AdvertiserUserID = &userID
	}

	deals, err := h.deals.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list deals failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	snap, err := h.orch.Snapshot(c.Context(), dealID, middleware.GetUserID(c))
	if err != nil {
		var precondition *services.PreconditionError
		if errors.As(err, &precondition) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: snap})
}

func (h *DealHandler) GetActions(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	actions, err := h.orch.AvailableActions(c.Context(), dealID, middleware.GetUserID(c))
	if err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: actions})
}

func (h *DealHandler) UpdateBrief(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	var req dto.UpdateBriefRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.orch.UpdateBrief(c.Context(), dealID, middleware.GetUserID(c), req.Brief, req.PublishFrom, req.PublishTo); err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *DealHandler) SendDeal(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventSend, services.EventPayload{})
}

func (h *DealHandler) AcceptDeal(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventAccept, services.EventPayload{})
}

func (h *DealHandler) CancelDeal(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventCancel, services.EventPayload{})
}

// CancelFunded is the post-funding cancellation: always a refund, never a
// plain cancel.
func (h *DealHandler) CancelFunded(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventCancelPostEscrow, services.EventPayload{})
}

func (h *DealHandler) RequestRefund(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventRefund, services.EventPayload{})
}

func (h *DealHandler) RequestEscrow(c *fiber.Ctx) error {
	var req dto.RequestEscrowRequest
	if err := c.BodyParser(&req); err != nil || req.WalletAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address is required"})
	}
	return h.apply(c, statemachine.EventEscrowRequested, services.EventPayload{AdvertiserWallet: req.WalletAddress})
}

// ConfirmDeposit re-reads the chain; "applied": false means the money has
// not arrived yet and the client should keep polling.
func (h *DealHandler) ConfirmDeposit(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventDepositConfirmed, services.EventPayload{})
}

func (h *DealHandler) BeginCreative(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventBeginCreative, services.EventPayload{})
}

func (h *DealHandler) SubmitCreative(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	var req dto.SubmitCreativeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	// First submission and resubmission after feedback are different events;
	// pick by current status, Apply re-validates under the lock.
	event := statemachine.EventSubmit
	if deal, err := h.deals.GetByID(c.Context(), dealID); err == nil &&
		deal.Status == statemachine.StatusCreativeChangesRequested {
		event = statemachine.EventResubmit
	}
	return h.apply(c, event, services.EventPayload{
		CreativeText: req.Text,
		MediaURLs:    req.MediaURLs,
	})
}

func (h *DealHandler) ApproveCreative(c *fiber.Ctx) error {
	return h.apply(c, statemachine.EventApprove, services.EventPayload{})
}

func (h *DealHandler) RequestCreativeChanges(c *fiber.Ctx) error {
	var req dto.RequestCreativeChangesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	return h.apply(c, statemachine.EventRequestChanges, services.EventPayload{Feedback: req.Feedback})
}

func (h *DealHandler) ScheduleDeal(c *fiber.Ctx) error {
	var req dto.ScheduleRequest
	if err := c.BodyParser(&req); err != nil || req.ScheduledAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "scheduled_at is required"})
	}
	return h.apply(c, statemachine.EventSchedule, services.EventPayload{ScheduledAt: &req.ScheduledAt})
}

func (h *DealHandler) MarkPosted(c *fiber.Ctx) error {
	var req dto.MarkPostedRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "message_id is required"})
	}
	return h.apply(c, statemachine.EventPosted, services.EventPayload{
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		PostURL:   req.PostURL,
	})
}

// requireParty loads the deal and rejects users that are neither side of it.
// ok == false means the response has already been written.
func (h *DealHandler) requireParty(c *fiber.Ctx, dealID uuid.UUID) (bool, error) {
	deal, err := h.deals.GetByID(c.Context(), dealID)
	if err != nil {
		return false, c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	}
	if deal.ActorFor(middleware.GetUserID(c)) == "" {
		return false, c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "user is not a party to this deal"})
	}
	return true, nil
}

// CheckRetention runs an on-demand verification pass for the deal.
func (h *DealHandler) CheckRetention(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	if ok, resp := h.requireParty(c, dealID); !ok {
		return resp
	}
	res, err := h.orch.VerifyRetention(c.Context(), dealID)
	if err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.ApplyResponse{
		OK:      true,
		Applied: res.Transitioned,
		Status:  string(res.Deal.Status),
		Reason:  res.Reason,
	})
}

func (h *DealHandler) GetPaymentInfo(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	info, err := h.orch.PaymentInfo(c.Context(), dealID, middleware.GetUserID(c))
	if err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: info})
}

func (h *DealHandler) SetDealWallet(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	var req dto.SetDealWalletRequest
	if err := c.BodyParser(&req); err != nil || req.WalletAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address is required"})
	}
	if err := h.orch.SetOwnerWallet(c.Context(), dealID, middleware.GetUserID(c), req.WalletAddress); err != nil {
		return h.dealError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *DealHandler) GetDealEvents(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid deal id"})
	}
	if ok, resp := h.requireParty(c, dealID); !ok {
		return resp
	}
	entries, err := h.audit.GetByEntity(c.Context(), "deal", dealID, 100, 0)
	if err != nil {
		h.log.Error("get deal events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}
