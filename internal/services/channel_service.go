package services

import (
	"context"
	"fmt"

	"github.com/channelads/backend/internal/config"
	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChannelService struct {
	channelRepo *repositories.ChannelRepo
	userRepo    *repositories.UserRepo
	auditRepo   *repositories.AuditRepo
	gateway     *TelegramGateway
	cfg         *config.Config
	log         *zap.Logger
}

func NewChannelService(
	channelRepo *repositories.ChannelRepo,
	userRepo *repositories.UserRepo,
	auditRepo *repositories.AuditRepo,
	gateway *TelegramGateway,
	cfg *config.Config,
	log *zap.Logger,
) *ChannelService {
	return &ChannelService{
		channelRepo: channelRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		gateway:     gateway,
		cfg:         cfg,
		log:         log,
	}
}

func (s *ChannelService) CreateChannel(ctx context.Context, username string, creatorUserID uuid.UUID) (*models.Channel, error) {
	username = repositories.NormalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	ch := &models.Channel{
		Username:      username,
		AddedByUserID: &creatorUserID,
		BotStatus:     "pending",
	}

	if err := s.channelRepo.Create(ctx, ch); err != nil {
		return nil, err
	}

	if err := s.channelRepo.AddMember(ctx, &models.ChannelMember{
		ChannelID: ch.ID,
		UserID:    creatorUserID,
		Role:      "owner",
		CanPost:   true,
	}); err != nil {
		s.log.Warn("failed to add owner membership", zap.String("channel_id", ch.ID.String()), zap.Error(err))
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &creatorUserID,
		ActorType:   "user",
		Action:      "channel_created",
		EntityType:  "channel",
		EntityID:    &ch.ID,
	})

	return ch, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	return s.channelRepo.GetByID(ctx, id)
}

func (s *ChannelService) SearchChannels(ctx context.Context, f repositories.ChannelFilter) ([]models.Channel, error) {
	return s.channelRepo.Search(ctx, f)
}

func (s *ChannelService) GetMyChannels(ctx context.Context, userID uuid.UUID) ([]models.Channel, error) {
	return s.channelRepo.GetByUserID(ctx, userID)
}

func (s *ChannelService) GetBotInviteLink(ctx context.Context, channelID uuid.UUID) (string, error) {
	ch, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return "", err
	}
	// Return deeplink instruction
	// The user should add the bot as admin to @<username> channel
	return fmt.Sprintf("Add the bot as an administrator to @%s with 'Post Messages' permission. Use this link: https://t.me/YOUR_BOT_USERNAME?startchannel&admin=post_messages", ch.Username), nil
}

func (s *ChannelService) AddManager(ctx context.Context, channelID uuid.UUID, actorID uuid.UUID, managerTelegramID int64) error {
	// Check actor is owner
	member, err := s.channelRepo.GetMemberByUserAndChannel(ctx, channelID, actorID)
	if err != nil || member.Role != "owner" {
		return fmt.Errorf("only owner can add managers")
	}

	// Check member count
	count, err := s.channelRepo.CountMembers(ctx, channelID)
	if err != nil {
		return err
	}
	if count >= 3 {
		return fmt.Errorf("maximum 3 members (owner + 2 managers) allowed")
	}

	// Get or create manager user
	managerUser, err := s.userRepo.UpsertByTelegramID(ctx, managerTelegramID, nil, nil, nil)
	if err != nil {
		return err
	}

	// Verify via bot that this person is actually admin
	ch, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return err
	}

	result, err := s.gateway.AdminStatus(ctx, ch.Username, managerTelegramID)
	if err != nil {
		return fmt.Errorf("failed to verify admin: %w", err)
	}
	if !result.IsAdmin {
		return fmt.Errorf("user %d is not an admin of channel @%s", managerTelegramID, ch.Username)
	}

	m := &models.ChannelMember{
		ChannelID: channelID,
		UserID:    managerUser.ID,
		Role:      "manager",
		CanPost:   result.CanPostMessages,
	}

	return s.channelRepo.AddMember(ctx, m)
}

func (s *ChannelService) GetAdmins(ctx context.Context, channelID uuid.UUID) ([]AdminInfo, error) {
	ch, err := s.channelRepo.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return s.gateway.GetAdmins(ctx, ch.Username)
}

func (s *ChannelService) GetMembers(ctx context.Context, channelID uuid.UUID) ([]models.ChannelMember, error) {
	return s.channelRepo.GetMembers(ctx, channelID)
}
