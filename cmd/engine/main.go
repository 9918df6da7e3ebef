// Package main — точка входа движка начислений.
// Загружает конфигурацию, накатывает миграции, запускает планировщик выплат и HTTP.
// Поддерживает graceful shutdown по SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"serotonyl.ru/invest-engine/internal/app"
	"serotonyl.ru/invest-engine/internal/config"
	"serotonyl.ru/invest-engine/internal/db/postgres"
)

func main() {
	runOnce := flag.Bool("run-once", false, "провести один обход выплат и выйти")
	migrateOnly := flag.Bool("migrate-only", false, "применить миграции и выйти")
	flag.Parse()

	// Настраиваем логирование
	setupLogging()

	log.Info("=== Движок начислений запускается ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}

	// Устанавливаем уровень логирования из конфига
	level, err := log.ParseLevel(cfg.AppLogLevel)
	if err == nil {
		log.SetLevel(level)
	}

	// Контекст отменяется по SIGINT/SIGTERM (Ctrl+C, docker stop)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if err := postgres.RunMigrations(ctx, cfg.DatabaseDSN()); err != nil {
			log.WithError(err).Fatal("Миграции не применены")
		}
		return
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось инициализировать приложение")
	}
	defer application.Close()

	if *runOnce {
		sum, err := application.Payout.RunDue(ctx)
		if err != nil {
			log.WithError(err).Error("Обход выплат завершился ошибкой")
			return
		}
		log.WithFields(log.Fields{
			"due":    sum.Due,
			"posted": sum.Posted,
			"failed": sum.Failed,
		}).Info("Разовый обход выплат выполнен")
		return
	}

	errs := make(chan error, 1)
	if err := application.Start(ctx, errs); err != nil {
		log.WithError(err).Error("Не удалось запустить фоновые задачи")
		return
	}

	log.Info("=== Движок начислений готов к работе ===")

	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки, останавливаемся...")
	case err := <-errs:
		log.WithError(err).Error("HTTP сервер остановился")
	}

	log.Info("=== Движок начислений остановлен ===")
}

// setupLogging настраивает формат логов.
func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
