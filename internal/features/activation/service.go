// Package activation — service.go: проверка активации с записью перехода и уведомлением.
package activation

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/accounts"
	"serotonyl.ru/invest-engine/internal/metrics"
	"serotonyl.ru/invest-engine/internal/notify"
)

// AccountStore: то, что машине активации нужно от аккаунтов.
type AccountStore interface {
	Get(ctx context.Context, id int64) (*accounts.Account, error)
	UpdateActivation(ctx context.Context, id int64, u accounts.ActivationUpdate) error
	ListIDs(ctx context.Context) ([]int64, error)
}

// DepositTotals: живая сумма одобренных депозитов.
type DepositTotals interface {
	ApprovedTotal(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Service: машина состояний активации.
type Service struct {
	accounts  AccountStore
	deposits  DepositTotals
	notifier  notify.Notifier
	clock     clockwork.Clock
	threshold decimal.Decimal
	parallel  int
}

func NewService(accounts AccountStore, deposits DepositTotals, notifier notify.Notifier, clock clockwork.Clock, threshold decimal.Decimal, parallel int) *Service {
	if !threshold.IsPositive() {
		threshold = DefaultThreshold
	}
	if parallel <= 0 {
		parallel = 1
	}
	return &Service{
		accounts:  accounts,
		deposits:  deposits,
		notifier:  notifier,
		clock:     clock,
		threshold: threshold,
		parallel:  parallel,
	}
}

// Evaluate пересчитывает активацию аккаунта.
//
// Если чтение аккаунта или депозитов не удалось: возвращается неактивное
// состояние вместе с ошибкой, ничего не пишется. При переходе одним UPDATE
// пишутся флаг, статус, живая сумма депозитов и время проверки, после чего
// пользователю уходит уведомление. Если перехода нет, но сохранённая сумма
// депозитов устарела: она обновляется без уведомления.
func (s *Service) Evaluate(ctx context.Context, userID int64) (State, error) {
	now := s.clock.Now()
	inactive := State{UserID: userID, CheckedAt: now, Balance: decimal.Zero, ApprovedTotal: decimal.Zero}

	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return inactive, fmt.Errorf("активация (user_id=%d): %w", userID, err)
	}
	total, err := s.deposits.ApprovedTotal(ctx, userID)
	if err != nil {
		return inactive, fmt.Errorf("активация (user_id=%d): %w", userID, err)
	}

	active := Evaluate(acct.Balance, total, s.threshold)
	st := State{
		UserID:        userID,
		IsActive:      active,
		Balance:       acct.Balance,
		ApprovedTotal: total,
		Changed:       active != acct.IsActive,
		CheckedAt:     now,
	}

	if !st.Changed && total.Equal(acct.TotalDeposits) {
		return st, nil
	}

	err = s.accounts.UpdateActivation(ctx, userID, accounts.ActivationUpdate{
		IsActive:      active,
		Status:        accounts.StatusFor(active),
		TotalDeposits: total,
		CheckedAt:     now,
	})
	if err != nil {
		// запись не удалась: возвращаем посчитанное состояние, переход повторится на следующей проверке
		st.Changed = false
		return st, fmt.Errorf("активация (user_id=%d): %w", userID, err)
	}

	if st.Changed {
		s.announce(ctx, st)
	}
	return st, nil
}

func (s *Service) announce(ctx context.Context, st State) {
	ev := notify.Event{
		UserID:     st.UserID,
		Amount:     st.ApprovedTotal,
		OccurredAt: st.CheckedAt,
	}
	if st.IsActive {
		metrics.ActivationTransitionsTotal.WithLabelValues(accounts.StatusActive).Inc()
		ev.Kind = notify.KindActivated
		ev.Message = fmt.Sprintf("Аккаунт активирован: начисление ROI включено. Депозиты: %s, баланс: %s.",
			common.FormatMoney(st.ApprovedTotal), common.FormatMoney(st.Balance))
	} else {
		metrics.ActivationTransitionsTotal.WithLabelValues(accounts.StatusInactive).Inc()
		ev.Kind = notify.KindDeactivated
		ev.Message = fmt.Sprintf("Аккаунт неактивен: для начисления ROI нужен баланс или депозиты от %s.",
			common.FormatMoney(s.threshold))
	}

	log.WithFields(log.Fields{
		"user_id":   st.UserID,
		"is_active": st.IsActive,
		"balance":   st.Balance.StringFixed(2),
		"deposits":  st.ApprovedTotal.StringFixed(2),
	}).Info("Состояние активации изменилось")

	if err := s.notifier.Notify(ctx, ev); err != nil {
		log.WithError(err).WithField("user_id", st.UserID).Warn("Не удалось отправить уведомление об активации")
	}
}

// Sweep перепроверяет активацию всех аккаунтов (cron).
// Ошибки по отдельным аккаунтам логируются и не останавливают обход.
func (s *Service) Sweep(ctx context.Context) error {
	ids, err := s.accounts.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("обход активации: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Evaluate(gctx, id); err != nil {
				log.WithError(err).WithField("user_id", id).Warn("Проверка активации не удалась")
			}
			return nil
		})
	}
	return g.Wait()
}
