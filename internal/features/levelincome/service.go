// Package levelincome — service.go собирает данные для расчёта и сохраняет
// накопленный доход с уровней в аккаунт (для дашборда).
package levelincome

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/accounts"
	"serotonyl.ru/invest-engine/internal/features/referral"
	"serotonyl.ru/invest-engine/internal/features/settings"
)

// AccountStore: чтение аккаунта и запись кэша дохода с уровней.
type AccountStore interface {
	Get(ctx context.Context, id int64) (*accounts.Account, error)
	UpdateLevelIncome(ctx context.Context, id int64, v decimal.Decimal) error
}

// TeamSource: команда аккаунта по уровням.
type TeamSource interface {
	GetTeam(ctx context.Context, rootID int64) ([]referral.Level, error)
}

// SettingsSource: текущие правила уровней.
type SettingsSource interface {
	Current(ctx context.Context) settings.Snapshot
}

// Service считает доход с уровней для одного аккаунта.
type Service struct {
	accounts AccountStore
	team     TeamSource
	settings SettingsSource
}

func NewService(accounts AccountStore, team TeamSource, settings SettingsSource) *Service {
	return &Service{accounts: accounts, team: team, settings: settings}
}

// Compute возвращает накопленный и сегодняшний доход с уровней.
//
// Накопленное значение сохраняется в accounts.level_income; ошибка этой записи
// только логируется. Если прав на чтение нет: возвращается нулевой результат без ошибки.
func (s *Service) Compute(ctx context.Context, userID int64) (Result, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return degrade(userID, err)
	}

	levels, err := s.team.GetTeam(ctx, userID)
	if err != nil {
		return degrade(userID, err)
	}

	snap := s.settings.Current(ctx)
	res := Calculate(acct.SelfDeposit, levels, snap.Rules)

	if !res.Cumulative.Equal(acct.LevelIncome) {
		if err := s.accounts.UpdateLevelIncome(ctx, userID, res.Cumulative); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("Не удалось сохранить доход с уровней")
		}
	}

	log.WithFields(log.Fields{
		"user_id":       userID,
		"levels":        len(levels),
		"active_levels": res.ActiveLevels(),
		"cumulative":    res.Cumulative.StringFixed(2),
		"today":         res.Today.StringFixed(2),
	}).Debug("Доход с уровней посчитан")
	return res, nil
}

func degrade(userID int64, err error) (Result, error) {
	if errors.Is(err, common.ErrPermissionDenied) {
		log.WithError(err).WithField("user_id", userID).Debug("Нет прав на чтение команды, доход с уровней = 0")
		return Result{Cumulative: decimal.Zero, Today: decimal.Zero}, nil
	}
	return Result{}, fmt.Errorf("доход с уровней (user_id=%d): %w", userID, err)
}
