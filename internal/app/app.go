// Package app инициализирует все компоненты приложения.
// app.go собирает приложение: создаёт БД-пул, репозитории, сервисы, приёмники
// уведомлений, планировщик и HTTP сервер.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/config"
	"serotonyl.ru/invest-engine/internal/db/postgres"
	"serotonyl.ru/invest-engine/internal/features/accounts"
	"serotonyl.ru/invest-engine/internal/features/activation"
	"serotonyl.ru/invest-engine/internal/features/dashboard"
	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/ledger"
	"serotonyl.ru/invest-engine/internal/features/levelincome"
	"serotonyl.ru/invest-engine/internal/features/payout"
	"serotonyl.ru/invest-engine/internal/features/referral"
	"serotonyl.ru/invest-engine/internal/features/settings"
	"serotonyl.ru/invest-engine/internal/httpapi"
	"serotonyl.ru/invest-engine/internal/jobs"
	"serotonyl.ru/invest-engine/internal/notify"
)

// App содержит все компоненты приложения.
type App struct {
	DB         *pgxpool.Pool
	Settings   *settings.Provider
	Activation *activation.Service
	Payout     *payout.Service
	Dashboard  *dashboard.Service
	Ledger     *ledger.Service
	Scheduler  *jobs.Scheduler
	HTTP       *httpapi.Server

	cfg      *config.Config
	changes  *settings.PgChangeSource
	redis    *redis.Client
	rabbit   *notify.Publisher
	throttle *notify.Throttle
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен: компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc := cfg.Location()
	clock := clockwork.NewRealClock()

	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := postgres.RunMigrations(ctx, cfg.DatabaseDSN()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	a := &App{DB: pool, cfg: cfg}

	// === 2. Репозитории ===
	accountRepo := accounts.NewRepository(pool)
	depositRepo := deposits.NewRepository(pool)
	referralRepo := referral.NewRepository(pool)
	settingsRepo := settings.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	payoutRepo := payout.NewRepository(pool, postgres.RetryConfigFrom(cfg))

	// === 3. Уведомления ===
	notifier := a.buildNotifier(accountRepo, clock)

	// === 4. Сервисы ===
	a.Settings = settings.NewProvider(settingsRepo, clock, cfg.DefaultDailyROI, cfg.DefaultMaxROI, cfg.SettingsDebounce)
	if err := a.Settings.Reload(ctx); err != nil {
		// без настроек работаем на значениях по умолчанию
		log.WithError(err).Warn("Настройки не загружены, используются значения по умолчанию")
	}

	team := referral.NewAggregator(referralRepo, cfg.TeamMaxDepth)
	levels := levelincome.NewService(accountRepo, team, a.Settings)
	a.Activation = activation.NewService(accountRepo, depositRepo, notifier, clock, cfg.ActivationThreshold, cfg.PayoutConcurrency)

	a.Dashboard = dashboard.NewService(accountRepo, a.Activation, depositRepo, levels, a.Settings, a.buildCache(ctx), clock)
	a.Settings.Subscribe(a.Dashboard.SettingsChanged)

	a.Payout = payout.NewService(payout.Deps{
		Store:      payoutRepo,
		Due:        accountRepo,
		Activation: a.Activation,
		Deposits:   depositRepo,
		Levels:     levels,
		Settings:   a.Settings,
		Notifier:   notifier,
		Refresher:  a.Dashboard,
		Clock:      clock,
	}, payout.Options{
		Location:    loc,
		CutoffHour:  cfg.PayoutCutoffHour,
		Concurrency: cfg.PayoutConcurrency,
	})

	a.Ledger = ledger.NewService(ledgerRepo, cfg.LedgerPageSize, loc)

	// === 5. Планировщик и HTTP ===
	a.Scheduler = jobs.NewScheduler(a.Payout, a.Activation, a.throttle, jobs.Schedules{
		Payout:     cfg.PayoutSchedule,
		Activation: cfg.ActivationSweepSchedule,
	}, loc)

	a.HTTP = httpapi.NewServer(cfg.HTTPAddr, httpapi.Deps{
		DB:        postgres.Health{Pool: pool},
		Dashboard: a.Dashboard,
		Payout:    a.Payout,
		Ledger:    a.Ledger,
		Location:  loc,
	})

	if cfg.FeatureSettingsListen {
		a.changes = settings.NewPgChangeSource(pool)
	}

	return a, nil
}

// buildNotifier собирает приёмники: лог всегда, Telegram и RabbitMQ, если настроены.
// Предупреждения одному аккаунту ограничены по частоте.
func (a *App) buildNotifier(chats notify.ChatResolver, clock clockwork.Clock) notify.Notifier {
	sinks := notify.Multi{notify.LogNotifier{}}

	if a.cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(a.cfg.TelegramBotToken, chats, a.cfg.TelegramRatePerSec)
		if err != nil {
			log.WithError(err).Warn("Telegram недоступен, уведомления только в лог")
		} else {
			sinks = append(sinks, tg)
		}
	}

	if a.cfg.RabbitMQURL != "" {
		pub, err := notify.NewPublisher(a.cfg.RabbitMQURL, a.cfg.EventsExchange)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ недоступен, события наружу не публикуются")
		} else {
			a.rabbit = pub
			sinks = append(sinks, pub)
		}
	}

	a.throttle = notify.NewThrottle(sinks, clock, a.cfg.NotifyAdvisoryLimit, a.cfg.NotifyAdvisoryWindow)
	return a.throttle
}

// buildCache: Redis, если задан REDIS_URL, иначе кэш в памяти.
func (a *App) buildCache(ctx context.Context) dashboard.Cache {
	if a.cfg.RedisURL == "" {
		return dashboard.NewMemoryCache()
	}
	client, err := dashboard.ConnectRedis(ctx, a.cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Redis недоступен, показатели кэшируются в памяти")
		return dashboard.NewMemoryCache()
	}
	a.redis = client
	return dashboard.NewRedisCache(client, a.cfg.DashboardCacheTTL)
}

// Start запускает фоновые части: подписку на настройки, планировщик и HTTP.
// Ошибка HTTP сервера приходит в errs.
func (a *App) Start(ctx context.Context, errs chan<- error) error {
	if a.changes != nil {
		go a.Settings.Run(ctx, a.changes)
	}

	if a.cfg.FeatureSchedulerEnabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("Планировщик отключён (FEATURE_SCHEDULER_ENABLED=false)")
	}

	go func() {
		if err := a.HTTP.Start(); err != nil {
			errs <- err
		}
	}()
	return nil
}

// Close останавливает всё в обратном порядке.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.HTTP != nil {
		if err := a.HTTP.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP сервер остановлен с ошибкой")
		}
	}
	if a.cfg != nil && a.cfg.FeatureSchedulerEnabled && a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.changes != nil {
		a.changes.Close()
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			log.WithError(err).Debug("RabbitMQ закрыт с ошибкой")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.DB.Close()
}
