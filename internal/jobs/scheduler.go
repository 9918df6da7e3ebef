// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: проверку ежедневных выплат,
// обход активации и чистку окна предупреждений.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/features/payout"
)

// PayoutSweeper: обход аккаунтов, которым пора выплатить.
type PayoutSweeper interface {
	RunDue(ctx context.Context) (payout.Summary, error)
}

// ActivationSweeper: пересчёт активации всех аккаунтов.
type ActivationSweeper interface {
	Sweep(ctx context.Context) error
}

// Cleaner убирает устаревшие записи окна ограничений.
type Cleaner interface {
	Cleanup()
}

// Schedules: cron-выражения задач.
type Schedules struct {
	Payout     string
	Activation string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	payout     PayoutSweeper
	activation ActivationSweeper
	cleaner    Cleaner
	schedules  Schedules
	loc        *time.Location
}

// NewScheduler создаёт планировщик в часовом поясе loc.
// Паника в задаче логируется и не роняет процесс; задача не стартует,
// пока не закончился её предыдущий запуск.
func NewScheduler(p PayoutSweeper, a ActivationSweeper, cleaner Cleaner, schedules Schedules, loc *time.Location) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:       c,
		payout:     p,
		activation: a,
		cleaner:    cleaner,
		schedules:  schedules,
		loc:        loc,
	}
}

// Start регистрирует задачи и запускает cron.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedules.Payout, func() { s.runPayout(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание выплат %q: %w", s.schedules.Payout, err)
	}

	if _, err := s.cron.AddFunc(s.schedules.Activation, func() { s.runActivation(ctx) }); err != nil {
		return fmt.Errorf("некорректное расписание активации %q: %w", s.schedules.Activation, err)
	}

	if s.cleaner != nil {
		// Чистка окна предупреждений раз в час
		if _, err := s.cron.AddFunc("0 * * * *", s.cleaner.Cleanup); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"payout":     s.schedules.Payout,
		"activation": s.schedules.Activation,
		"timezone":   s.loc.String(),
	}).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) runPayout(ctx context.Context) {
	log.Debug("[CRON] Проверка ежедневных выплат")
	sum, err := s.payout.RunDue(ctx)
	if err != nil {
		log.WithError(err).Error("[CRON] Ошибка обхода выплат")
		return
	}
	if sum.Failed > 0 {
		log.WithField("failed", sum.Failed).Warn("[CRON] Часть выплат отложена до следующего запуска")
	}
}

func (s *Scheduler) runActivation(ctx context.Context) {
	log.Debug("[CRON] Обход активации")
	if err := s.activation.Sweep(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка обхода активации")
	}
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
