package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"serotonyl.ru/invest-engine/internal/metrics"
)

// ChatResolver находит Telegram-чат аккаунта.
type ChatResolver interface {
	TelegramChatID(ctx context.Context, userID int64) (int64, bool, error)
}

// Telegram шлёт текст события в личный чат аккаунта.
// Отправка ограничена по частоте, чтобы не упереться в лимиты Bot API.
type Telegram struct {
	bot     *telego.Bot
	chats   ChatResolver
	limiter *rate.Limiter
}

// NewTelegram создаёт бота по токену. ratePerSec: сообщений в секунду на всех.
func NewTelegram(token string, chats ChatResolver, ratePerSec float64) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram-бота: %w", err)
	}
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Telegram{
		bot:     bot,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	chatID, ok, err := t.chats.TelegramChatID(ctx, ev.UserID)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("telegram", "error").Inc()
		return fmt.Errorf("telegram: чат для user_id=%d: %w", ev.UserID, err)
	}
	if !ok {
		log.WithField("user_id", ev.UserID).Debug("Telegram-чат не привязан, уведомление пропущено")
		metrics.NotificationsTotal.WithLabelValues("telegram", "skipped").Inc()
		return nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), ev.Message)); err != nil {
		metrics.NotificationsTotal.WithLabelValues("telegram", "error").Inc()
		return fmt.Errorf("telegram: отправка user_id=%d: %w", ev.UserID, err)
	}
	metrics.NotificationsTotal.WithLabelValues("telegram", "ok").Inc()
	return nil
}
