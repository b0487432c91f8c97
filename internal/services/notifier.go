package services

import (
	"context"
	"fmt"

	"github.com/channelads/backend/internal/events"
	"github.com/channelads/backend/internal/models"
	"github.com/channelads/backend/internal/statemachine"
	"go.uber.org/zap"
)

// NotificationSink receives lifecycle notifications. Delivery is best-effort
// by contract: the orchestrator never fails a transition on a sink error.
type NotificationSink interface {
	DealTransitioned(ctx context.Context, deal *models.Deal, event statemachine.Event, actor statemachine.Actor)
}

// BotSender is the direct-message side of the bot internal API.
type BotSender interface {
	SendNotification(ctx context.Context, telegramUserID int64, text string) error
}

// Notifier fans a transition out to the Redis event stream (picked up by the
// websocket hub) and to the counterparty's Telegram DM via the bot.
type Notifier struct {
	publisher events.Publisher
	bot       BotSender
	users     UserStore
	log       *zap.Logger
}

func NewNotifier(publisher events.Publisher, bot BotSender, users UserStore, log *zap.Logger) *Notifier {
	return &Notifier{publisher: publisher, bot: bot, users: users, log: log}
}

var transitionTexts = map[statemachine.Event]string{
	statemachine.EventSend:              "Вам поступило предложение о размещении рекламы",
	statemachine.EventAccept:            "Владелец канала принял условия сделки",
	statemachine.EventDepositConfirmed:  "Оплата по сделке получена, средства в эскроу",
	statemachine.EventSubmit:            "Владелец канала прислал креатив на согласование",
	statemachine.EventApprove:           "Креатив согласован, можно планировать публикацию",
	statemachine.EventRequestChanges:    "Рекламодатель запросил правки по креативу",
	statemachine.EventResubmit:          "Владелец канала прислал обновлённый креатив",
	statemachine.EventPosted:            "Реклама опубликована в канале",
	statemachine.EventVerifiedOK:        "Пост продержался нужное время, оплата отправлена владельцу",
	statemachine.EventVerifiedViolation: "Пост был удалён или изменён, средства возвращены рекламодателю",
	statemachine.EventCancel:            "Сделка отменена",
	statemachine.EventTimeout:           "Сделка истекла по таймауту",
	statemachine.EventRefund:            "По сделке запущен возврат средств",
	statemachine.EventCancelPostEscrow:  "Сделка отменена, средства возвращаются рекламодателю",
}

func (n *Notifier) DealTransitioned(ctx context.Context, deal *models.Deal, event statemachine.Event, actor statemachine.Actor) {
	if err := n.publisher.Publish(ctx, events.DealStream, events.Event{
		Type: events.EventDealStatusChanged,
		Payload: map[string]any{
			"deal_id": deal.ID.String(),
			"status":  string(deal.Status),
			"event":   string(event),
			"actor":   string(actor),
		},
	}); err != nil {
		n.log.Warn("deal event publish failed", zap.String("deal_id", deal.ID.String()), zap.Error(err))
	}

	text, ok := transitionTexts[event]
	if !ok {
		return
	}

	// DM the side that did not act; system events go to both.
	for _, userID := range deal.Counterparties(actor) {
		user, err := n.users.GetByID(ctx, userID)
		if err != nil {
			n.log.Warn("notify recipient lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		msg := fmt.Sprintf("%s\nСделка: %s", text, deal.ID.String())
		if err := n.bot.SendNotification(ctx, user.TelegramUserID, msg); err != nil {
			n.log.Warn("bot notification failed",
				zap.Int64("telegram_user_id", user.TelegramUserID),
				zap.Error(err),
			)
		}
	}
}
