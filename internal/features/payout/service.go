// Package payout — service.go: протокол ежедневной выплаты и обход по расписанию.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/activation"
	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/ledger"
	"serotonyl.ru/invest-engine/internal/features/levelincome"
	"serotonyl.ru/invest-engine/internal/features/roi"
	"serotonyl.ru/invest-engine/internal/features/settings"
	"serotonyl.ru/invest-engine/internal/metrics"
	"serotonyl.ru/invest-engine/internal/notify"
)

// Store: курсор выплат и атомарная проводка.
type Store interface {
	GetCursor(ctx context.Context, userID int64) (*time.Time, error)
	AdvanceCursor(ctx context.Context, userID int64, at, cutoff time.Time) (bool, error)
	PostDaily(ctx context.Context, p Posting) (ledger.Transaction, error)
}

// DueLister: аккаунты, которым ещё не выплачено за сегодня.
type DueLister interface {
	ListDueForPayout(ctx context.Context, cutoff time.Time) ([]int64, error)
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

// Refresher обновляет кэшированные показатели после выплаты.
type Refresher interface {
	Refresh(ctx context.Context, userID int64) error
}

// Options: параметры выплаты.
type Options struct {
	Location    *time.Location
	CutoffHour  int
	Concurrency int
}

// Service проводит ежедневные выплаты.
type Service struct {
	store      Store
	due        DueLister
	activation ActivationEvaluator
	deposits   DepositSource
	levels     LevelSource
	settings   SettingsSource
	notifier   notify.Notifier
	refresher  Refresher
	clock      clockwork.Clock
	opts       Options

	// параллельные запуски по одному аккаунту внутри процесса схлопываются
	inflight singleflight.Group
}

// Deps: зависимости сервиса выплат.
type Deps struct {
	Store      Store
	Due        DueLister
	Activation ActivationEvaluator
	Deposits   DepositSource
	Levels     LevelSource
	Settings   SettingsSource
	Notifier   notify.Notifier
	Refresher  Refresher // может быть nil
	Clock      clockwork.Clock
}

func NewService(d Deps, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Service{
		store:      d.Store,
		due:        d.Due,
		activation: d.Activation,
		deposits:   d.Deposits,
		levels:     d.Levels,
		settings:   d.Settings,
		notifier:   d.Notifier,
		refresher:  d.Refresher,
		clock:      d.Clock,
		opts:       opts,
	}
}

// Cutoff возвращает отсечку сегодняшнего дня для момента now.
func (s *Service) Cutoff(now time.Time) time.Time {
	return common.CutoffAt(now.In(s.opts.Location), s.opts.CutoffHour)
}

// Run проводит выплату за вчера для одного аккаунта, если она положена.
//
// Протокол: до отсечки ничего не делаем; если курсор уже не раньше отсечки,
// сегодня уже выплачено. Иначе считаем ROI за вчера (только при активном
// аккаунте) и доход с уровней (приближённо, по текущей команде). Нулевая сумма
// только сдвигает курсор. Ненулевая проводится одной транзакцией; проигрыш
// гонки другому исполнителю считается успехом.
//
// Повторные и параллельные вызовы безопасны. Вызов, присоединившийся к уже
// идущему запуску по тому же аккаунту, получает его результат; проводку,
// сделанную не им, он видит как OutcomeAlreadyPosted.
func (s *Service) Run(ctx context.Context, userID int64) (Result, error) {
	leader := false
	v, err, _ := s.inflight.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		leader = true
		res, err := s.run(ctx, userID)
		// метрика считается один раз на фактический запуск, а не на каждого ждущего
		metrics.PayoutRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
		return res, err
	})
	res, _ := v.(Result)
	if !leader && res.Outcome == OutcomePosted {
		res.Outcome = OutcomeAlreadyPosted
	}
	return res, err
}

func (s *Service) run(ctx context.Context, userID int64) (Result, error) {
	now := s.clock.Now().In(s.opts.Location)
	cutoff := s.Cutoff(now)
	forDate := common.Yesterday(now)
	res := Result{
		UserID:       userID,
		ForDate:      forDate,
		Total:        decimal.Zero,
		ROIPortion:   decimal.Zero,
		LevelPortion: decimal.Zero,
	}

	if now.Before(cutoff) {
		res.Outcome = OutcomeNotDue
		return res, nil
	}

	last, err := s.store.GetCursor(ctx, userID)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	if last != nil && !last.Before(cutoff) {
		res.Outcome = OutcomeAlreadyPosted
		return res, nil
	}

	// активность проверяем в этом же запуске; при ошибке чтения выплату откладываем,
	// иначе сдвиг курсора навсегда потеряет ROI за вчера
	state, err := s.activation.Evaluate(ctx, userID)
	if err != nil {
		return s.fail(ctx, res, err)
	}

	if state.IsActive {
		list, err := s.deposits.ListApproved(ctx, userID)
		if err != nil {
			return s.fail(ctx, res, err)
		}
		snap := s.settings.Current(ctx)
		res.ROIPortion = roi.ForDay(list, snap.ROI, forDate, s.opts.Location).Truncate(4)
		res.ROIDaysLeft = roi.DaysLeft(list, snap.ROI, forDate, s.opts.Location)
	}

	// истории команды нет: «вчерашний» доход с уровней берём по текущему составу
	lvl, err := s.levels.Compute(ctx, userID)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	res.LevelPortion = lvl.Today.Truncate(4)
	res.ActiveLevels = lvl.ActiveLevels()
	res.Total = res.ROIPortion.Add(res.LevelPortion)

	if !res.Total.IsPositive() {
		if _, err := s.store.AdvanceCursor(ctx, userID, now, cutoff); err != nil {
			return s.fail(ctx, res, err)
		}
		res.Outcome = OutcomeZero
		log.WithFields(log.Fields{
			"user_id":  userID,
			"for_date": common.FormatDate(forDate),
		}).Debug("Начислять нечего, курсор сдвинут")
		return res, nil
	}

	tx, err := s.store.PostDaily(ctx, Posting{
		UserID:       userID,
		Amount:       res.Total,
		ROIPortion:   res.ROIPortion,
		LevelPortion: res.LevelPortion,
		ForDate:      forDate,
		Cutoff:       cutoff,
		Now:          now,
		Note:         fmt.Sprintf("Ежедневное начисление за %s", common.FormatDate(forDate)),
	})
	if errors.Is(err, common.ErrAlreadyPosted) {
		res.Outcome = OutcomeAlreadyPosted
		log.WithField("user_id", userID).Debug("Выплату уже провёл параллельный запуск")
		return res, nil
	}
	if err != nil {
		return s.fail(ctx, res, err)
	}

	res.Outcome = OutcomePosted
	res.TransactionID = tx.ID
	res.PostedAt = tx.PostedAt

	log.WithFields(log.Fields{
		"user_id":       userID,
		"for_date":      common.FormatDate(forDate),
		"amount":        res.Total.StringFixed(2),
		"roi_portion":   res.ROIPortion.StringFixed(2),
		"level_portion": res.LevelPortion.StringFixed(2),
	}).Info("Ежедневная выплата проведена")

	s.afterPosted(ctx, res)
	return res, nil
}

func (s *Service) afterPosted(ctx context.Context, res Result) {
	forDate := res.ForDate
	err := s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.KindDailyPosted,
		UserID:     res.UserID,
		Message:    postedMessage(res),
		Amount:     res.Total,
		ROIPortion: res.ROIPortion,
		LevelPart:  res.LevelPortion,
		ForDate:    &forDate,
		OccurredAt: res.PostedAt,
	})
	if err != nil {
		log.WithError(err).WithField("user_id", res.UserID).Warn("Не удалось отправить уведомление о выплате")
	}

	if s.refresher != nil {
		if err := s.refresher.Refresh(ctx, res.UserID); err != nil {
			log.WithError(err).WithField("user_id", res.UserID).Debug("Не удалось обновить показатели дашборда")
		}
	}
}

// postedMessage: текст уведомления о проведённой выплате.
//
// Пример:
//
//	Начислено +$3.50 за 04.03.2025: ROI $1.00, доход с уровней $2.50 (2 уровня). ROI начисляется ещё 26 дней.
func postedMessage(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Начислено %s за %s: ROI %s, доход с уровней %s",
		common.FormatSignedMoney(res.Total), common.FormatDate(res.ForDate),
		common.FormatMoney(res.ROIPortion), common.FormatMoney(res.LevelPortion))
	if res.ActiveLevels > 0 {
		fmt.Fprintf(&b, " (%d %s)", res.ActiveLevels, common.PluralizeLevels(res.ActiveLevels))
	}
	b.WriteString(".")

	switch {
	case res.ROIPortion.IsPositive() && res.ROIDaysLeft > 0:
		fmt.Fprintf(&b, " ROI начисляется ещё %d %s.", res.ROIDaysLeft, common.PluralizeDays(res.ROIDaysLeft))
	case res.ROIPortion.IsPositive():
		b.WriteString(" Это последний день начисления ROI.")
	}
	return b.String()
}

// fail разбирает ошибку. Нет прав означает тихий пропуск, остальное откладывает
// выплату с предупреждением пользователю. Состояние не меняется.
func (s *Service) fail(ctx context.Context, res Result, err error) (Result, error) {
	if errors.Is(err, common.ErrPermissionDenied) {
		res.Outcome = OutcomeSkipped
		log.WithError(err).WithField("user_id", res.UserID).Debug("Нет прав на данные выплаты, пропускаем")
		return res, nil
	}

	res.Outcome = OutcomeFailed
	if errors.Is(err, common.ErrTransient) || errors.Is(err, common.ErrConflict) {
		nerr := s.notifier.Notify(ctx, notify.Event{
			Kind:       notify.KindAdvisory,
			UserID:     res.UserID,
			Message:    fmt.Sprintf("Начисление за %s временно отложено, попробуем ещё раз автоматически.", common.FormatDate(res.ForDate)),
			Amount:     decimal.Zero,
			OccurredAt: s.clock.Now(),
		})
		if nerr != nil {
			log.WithError(nerr).WithField("user_id", res.UserID).Debug("Не удалось отправить предупреждение")
		}
	}
	return res, fmt.Errorf("выплата (user_id=%d): %w", res.UserID, err)
}

// RunDue обходит все аккаунты, которым положена выплата, с ограниченным параллелизмом.
// Ошибка по одному аккаунту не останавливает остальных.
func (s *Service) RunDue(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { metrics.PayoutSweepDuration.Observe(time.Since(start).Seconds()) }()

	var sum Summary
	now := s.clock.Now().In(s.opts.Location)
	cutoff := s.Cutoff(now)
	if now.Before(cutoff) {
		return sum, nil
	}

	ids, err := s.due.ListDueForPayout(ctx, cutoff)
	if err != nil {
		if errors.Is(err, common.ErrPermissionDenied) {
			log.WithError(err).Debug("Нет прав на список аккаунтов для выплаты")
			return sum, nil
		}
		return sum, fmt.Errorf("список аккаунтов для выплаты: %w", err)
	}
	sum.Due = len(ids)
	if len(ids) == 0 {
		return sum, nil
	}

	outcomes := make([]Outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Run(gctx, id)
			outcomes[i] = res.Outcome
			if err != nil {
				outcomes[i] = OutcomeFailed
				log.WithError(err).WithField("user_id", id).Warn("Выплата не проведена, повторим на следующем запуске")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		sum.add(o)
	}

	log.WithFields(log.Fields{
		"due":            sum.Due,
		"posted":         sum.Posted,
		"zero":           sum.Zero,
		"already_posted": sum.AlreadyPosted,
		"failed":         sum.Failed,
	}).Info("Обход выплат завершён")
	return sum, nil
}
