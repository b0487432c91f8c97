package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/channelads/backend/internal/tme"
	"go.uber.org/zap"
)

// ErrMessageNotFound: the message does not exist (deleted or never posted).
var ErrMessageNotFound = errors.New("message not found")

type PublishContent struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type PublishResult struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	PostURL   string    `json:"post_url"`
	PostedAt  time.Time `json:"posted_at"`
}

type FetchedMessage struct {
	Text      string     `json:"text"`
	MediaURLs []string   `json:"media_urls,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// PostingGateway abstracts the messaging platform: publish to a channel,
// read a message back, check posting rights.
type PostingGateway interface {
	Publish(ctx context.Context, channelUsername string, chatID int64, content PublishContent) (*PublishResult, error)
	FetchMessage(ctx context.Context, channelUsername string, chatID, messageID int64) (*FetchedMessage, error)
	CheckAdmin(ctx context.Context, channelUsername string, telegramUserID int64) (bool, error)
}

// TelegramGateway implements PostingGateway over the bot internal API
// (publishing, admin checks) and the userbot internal API (message reads),
// with a public t.me fallback for reads when the userbot is down.
type TelegramGateway struct {
	botURL     string
	userbotURL string
	httpClient *http.Client
	fallback   *tme.Fetcher
	log        *zap.Logger
}

func NewTelegramGateway(botURL, userbotURL string, fallback *tme.Fetcher, log *zap.Logger) *TelegramGateway {
	return &TelegramGateway{
		botURL:     strings.TrimRight(botURL, "/"),
		userbotURL: strings.TrimRight(userbotURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		fallback: fallback,
		log:      log,
	}
}

func (g *TelegramGateway) Publish(ctx context.Context, channelUsername string, chatID int64, content PublishContent) (*PublishResult, error) {
	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       content.Text,
		"media_urls": content.MediaURLs,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/internal/channels/%s/post", g.botURL, channelUsername)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	var result PublishResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.PostedAt.IsZero() {
		result.PostedAt = time.Now()
	}
	return &result, nil
}

func (g *TelegramGateway) FetchMessage(ctx context.Context, channelUsername string, chatID, messageID int64) (*FetchedMessage, error) {
	msg, err := g.fetchViaUserbot(ctx, chatID, messageID)
	if err == nil || errors.Is(err, ErrMessageNotFound) {
		return msg, err
	}

	g.log.Warn("userbot message fetch failed, falling back to t.me",
		zap.Int64("chat_id", chatID),
		zap.Int64("message_id", messageID),
		zap.Error(err),
	)

	if channelUsername == "" {
		return nil, err
	}
	text, exists, err := g.fallback.FetchPost(ctx, channelUsername, messageID)
	if err != nil {
		return nil, fmt.Errorf("t.me fallback: %w", err)
	}
	if !exists {
		return nil, ErrMessageNotFound
	}
	// The embed page does not expose edit timestamps; text comparison is the
	// only signal on this path.
	return &FetchedMessage{Text: text}, nil
}

func (g *TelegramGateway) fetchViaUserbot(ctx context.Context, chatID, messageID int64) (*FetchedMessage, error) {
	url := fmt.Sprintf("%s/internal/messages/%d/%d", g.userbotURL, chatID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userbot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrMessageNotFound
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("userbot returned %d: %s", resp.StatusCode, string(b))
	}

	var msg FetchedMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type AdminInfo struct {
	TelegramUserID  int64   `json:"telegram_user_id"`
	Username        *string `json:"username,omitempty"`
	IsAdmin         bool    `json:"is_admin"`
	CanPostMessages bool    `json:"can_post_messages"`
}

// AdminStatus returns the user's admin standing in the channel as the bot
// sees it.
func (g *TelegramGateway) AdminStatus(ctx context.Context, channelUsername string, telegramUserID int64) (*AdminInfo, error) {
	url := fmt.Sprintf("%s/internal/channels/%s/check_admin?telegram_user_id=%d", g.botURL, channelUsername, telegramUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	var result AdminInfo
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	result.TelegramUserID = telegramUserID
	return &result, nil
}

func (g *TelegramGateway) CheckAdmin(ctx context.Context, channelUsername string, telegramUserID int64) (bool, error) {
	info, err := g.AdminStatus(ctx, channelUsername, telegramUserID)
	if err != nil {
		return false, err
	}
	return info.IsAdmin && info.CanPostMessages, nil
}

// GetAdmins lists the channel's administrators through the bot.
func (g *TelegramGateway) GetAdmins(ctx context.Context, channelUsername string) ([]AdminInfo, error) {
	url := fmt.Sprintf("%s/internal/channels/%s/admins", g.botURL, channelUsername)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		Admins []AdminInfo `json:"admins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Admins, nil
}

// SendNotification pushes a direct message to a user through the bot.
// Used by the notifier; failures are the caller's to swallow.
func (g *TelegramGateway) SendNotification(ctx context.Context, telegramUserID int64, text string) error {
	body, _ := json.Marshal(map[string]any{
		"telegram_user_id": telegramUserID,
		"text":             text,
	})

	url := fmt.Sprintf("%s/internal/notify", g.botURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bot notify returned %d", resp.StatusCode)
	}
	return nil
}
