// Package dashboard — service.go: расчёт показателей с откатом на последнее удачное значение.
package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/accounts"
	"serotonyl.ru/invest-engine/internal/features/activation"
	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/levelincome"
	"serotonyl.ru/invest-engine/internal/features/roi"
	"serotonyl.ru/invest-engine/internal/features/settings"
	"serotonyl.ru/invest-engine/internal/metrics"
)

// FreshFor: сколько свежий кэш отдаётся без пересчёта.
const FreshFor = 30 * time.Second

type AccountStore interface {
	Get(ctx context.Context, id int64) (*accounts.Account, error)
	UpdateROIIncome(ctx context.Context, id int64, v decimal.Decimal) error
}

type ActivationEvaluator interface {
	Evaluate(ctx context.Context, userID int64) (activation.State, error)
}

type DepositSource interface {
	ListApproved(ctx context.Context, userID int64) ([]deposits.Deposit, error)
}

type LevelSource interface {
	Compute(ctx context.Context, userID int64) (levelincome.Result, error)
}

type SettingsSource interface {
	Current(ctx context.Context) settings.Snapshot
}

// Service считает показатели дашборда.
type Service struct {
	accounts   AccountStore
	activation ActivationEvaluator
	deposits   DepositSource
	levels     LevelSource
	settings   SettingsSource
	cache      Cache
	clock      clockwork.Clock
}

func NewService(
	accounts AccountStore,
	activation ActivationEvaluator,
	deposits DepositSource,
	levels LevelSource,
	settings SettingsSource,
	cache Cache,
	clock clockwork.Clock,
) *Service {
	return &Service{
		accounts:   accounts,
		activation: activation,
		deposits:   deposits,
		levels:     levels,
		settings:   settings,
		cache:      cache,
		clock:      clock,
	}
}

// Snapshot возвращает показатели аккаунта. Свежий кэш с тем же поколением
// настроек отдаётся сразу; иначе показатели пересчитываются. Если пересчёт не
// удался, отдаётся последнее удачное значение, а если его нет, то нули.
// Ошибкой считается только отсутствие аккаунта.
func (s *Service) Snapshot(ctx context.Context, userID int64) (Figures, error) {
	gen, genErr := s.cache.Generation(ctx)
	cached, ok, err := s.cache.Get(ctx, userID)
	if err == nil {
		err = genErr
	}
	if err != nil {
		metrics.DashboardCacheTotal.WithLabelValues("error").Inc()
		log.WithError(err).WithField("user_id", userID).Debug("Кэш дашборда недоступен")
	}
	if err == nil && ok && cached.SettingsGeneration == gen && s.clock.Since(cached.ComputedAt) < FreshFor {
		metrics.DashboardCacheTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}

	fresh, err := s.compute(ctx, userID, gen)
	if err == nil {
		metrics.DashboardCacheTotal.WithLabelValues("miss").Inc()
		return fresh, nil
	}
	if errors.Is(err, common.ErrAccountNotFound) {
		return Figures{}, err
	}

	log.WithError(err).WithField("user_id", userID).Warn("Не удалось посчитать показатели, отдаём последние удачные")
	metrics.DashboardCacheTotal.WithLabelValues("stale").Inc()
	if ok {
		cached.Stale = true
		return cached, nil
	}
	return zeroFigures(userID, s.clock.Now()), nil
}

// Refresh пересчитывает показатели и обновляет кэш (после выплаты).
func (s *Service) Refresh(ctx context.Context, userID int64) error {
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		// без поколения запись в кэш сразу устареет, это безопасно
		log.WithError(err).WithField("user_id", userID).Debug("Поколение настроек недоступно")
	}
	_, err = s.compute(ctx, userID, gen)
	return err
}

// SettingsChanged вызывается провайдером настроек после перезагрузки.
// Увеличивает поколение в общем кэше: показатели, посчитанные по прежним
// настройкам любым экземпляром, перестают считаться свежими. Каждый экземпляр
// увеличивает поколение после своей перезагрузки, поэтому последнее увеличение
// происходит, когда все уже читают новые настройки.
func (s *Service) SettingsChanged(snap settings.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fields := log.Fields{"component": "dashboard", "version": snap.Version}
	gen, err := s.cache.BumpGeneration(ctx)
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("Не удалось сбросить кэш показателей после смены настроек")
		return
	}
	fields["generation"] = gen
	log.WithFields(fields).Info("Настройки изменились, показатели будут пересчитаны")
}

func (s *Service) compute(ctx context.Context, userID int64, gen int64) (Figures, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	state, err := s.activation.Evaluate(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	list, err := s.deposits.ListApproved(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	snap := s.settings.Current(ctx)
	now := s.clock.Now()
	r := roi.Accrue(list, snap.ROI, now, state.IsActive, acct.ROIIncome)

	lvl, err := s.levels.Compute(ctx, userID)
	if err != nil {
		return Figures{}, err
	}

	// накопленный ROI сохраняем только в активном состоянии: для неактивного
	// показывается последнее активное значение
	if !r.FromCache && !r.Cumulative.Equal(acct.ROIIncome) {
		if err := s.accounts.UpdateROIIncome(ctx, userID, r.Cumulative); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("Не удалось сохранить roi_income")
		}
	}

	f := Figures{
		UserID:                userID,
		CumulativeROI:         r.Cumulative,
		TodayROI:              r.Today,
		CumulativeLevelIncome: lvl.Cumulative,
		TodayLevelIncome:      lvl.Today,
		ActiveLevels:          lvl.ActiveLevels(),
		IsActive:              state.IsActive,
		SettingsGeneration:    gen,
		ComputedAt:            now,
	}
	if err := s.cache.Set(ctx, f); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("Не удалось записать показатели в кэш")
	}
	return f, nil
}
