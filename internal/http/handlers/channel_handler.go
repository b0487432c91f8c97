package handlers

import (
	"strconv"

	"github.com/channelads/backend/internal/http/dto"
	"github.com/channelads/backend/internal/middleware"
	"github.com/channelads/backend/internal/repositories"
	"github.com/channelads/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChannelHandler struct {
	channelService *services.ChannelService
	log            *zap.Logger
}

func NewChannelHandler(channelService *services.ChannelService, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channelService: channelService, log: log}
}

func (h *ChannelHandler) CreateChannel(c *fiber.Ctx) error {
	var req dto.CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "username is required"})
	}

	userID := middleware.GetUserID(c)
	ch, err := h.channelService.CreateChannel(c.Context(), req.Username, userID)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) MyChannels(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	channels, err := h.channelService.GetMyChannels(c.Context(), userID)
	if err != nil {
		h.log.Error("get my channels failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: channels})
}

func (h *ChannelHandler) GetChannel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid channel id"})
	}

	ch, err := h.channelService.GetChannel(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "channel not found"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: ch})
}

func (h *ChannelHandler) SearchChannels(c *fiber.Ctx) error {
	filter := repositories.ChannelFilter{
		Limit:  20,
		Offset: 0,
	}

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
	if v := c.Query("q"); v != "" {
		filter.Query = v
	}
	if v := c.Query("bot_status"); v != "" {
		filter.BotStatus = &v
	}

	channels, err := h.channelService.SearchChannels(c.Context(), filter)
	if err != nil {
		h.log.Error("search channels failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: channels})
}

func (h *ChannelHandler) InviteBot(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid channel id"})
	}

	instructions, err := h.channelService.GetBotInviteLink(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.BotInviteResponse{Instructions: instructions})
}

func (h *ChannelHandler) AddManager(c *fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid channel id"})
	}

	var req dto.AddManagerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	actorID := middleware.GetUserID(c)
	if err := h.channelService.AddManager(c.Context(), channelID, actorID, req.TelegramUserID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *ChannelHandler) GetAdmins(c *fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid channel id"})
	}

	admins, err := h.channelService.GetAdmins(c.Context(), channelID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: admins})
}
