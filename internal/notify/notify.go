// Package notify доставляет события движка наружу: пользователю в Telegram,
// в шину событий RabbitMQ и в лог.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/metrics"
)

// Kind: тип события. Для RabbitMQ это же routing key.
type Kind string

const (
	KindActivated   Kind = "activation.activated"
	KindDeactivated Kind = "activation.deactivated"
	KindDailyPosted Kind = "income.daily_posted"
	KindAdvisory    Kind = "advisory"
)

// Event: одно событие для пользователя.
type Event struct {
	Kind       Kind            `json:"kind"`
	UserID     int64           `json:"user_id"`
	Message    string          `json:"message"`
	Amount     decimal.Decimal `json:"amount"`
	ROIPortion decimal.Decimal `json:"roi_portion"`
	LevelPart  decimal.Decimal `json:"level_portion"`
	ForDate    *time.Time      `json:"for_date,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Notifier отправляет событие. Ошибка доставки не должна ломать вызывающего:
// её логируют и идут дальше.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi рассылает событие во все приёмники и собирает ошибки.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier пишет события в лог. Используется, когда других приёмников нет.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	metrics.NotificationsTotal.WithLabelValues("log", "ok").Inc()
	log.WithFields(log.Fields{
		"component": "notify",
		"kind":      ev.Kind,
		"user_id":   ev.UserID,
		"amount":    ev.Amount.StringFixed(2),
	}).Info(ev.Message)
	return nil
}
