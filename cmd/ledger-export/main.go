// Package main — выгрузка журнала операций аккаунта в CSV.
//
// Пример:
//
//	ledger-export --account 42 --from 2025-03-01 --to 2025-03-31 --type daily_income --pages 10 --out march.csv
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"serotonyl.ru/invest-engine/internal/config"
	"serotonyl.ru/invest-engine/internal/db/postgres"
	"serotonyl.ru/invest-engine/internal/features/ledger"
)

func main() {
	account := flag.Int64("account", 0, "id аккаунта")
	from := flag.String("from", "", "с даты (2006-01-02)")
	to := flag.String("to", "", "по дату включительно (2006-01-02)")
	types := flag.String("type", "", "типы операций через запятую: daily_income,deposit,withdrawal")
	query := flag.String("query", "", "текстовый поиск по загруженным страницам")
	pages := flag.Int("pages", 1, "сколько страниц загрузить")
	out := flag.String("out", "", "файл для CSV (по умолчанию stdout)")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	log.SetOutput(os.Stderr)

	if *account <= 0 {
		log.Fatal("Укажите --account")
	}
	if *pages <= 0 {
		log.Fatal("--pages должен быть > 0")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Не удалось загрузить конфигурацию")
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}

	q, err := ledger.ParseQuery(*account, *from, *to, *types, cfg.Location())
	if err != nil {
		log.WithError(err).Fatal("Некорректные параметры выгрузки")
	}

	if err := run(cfg, q, *query, *pages, *out); err != nil {
		log.WithError(err).Fatal("Выгрузка не удалась")
	}
}

func run(cfg *config.Config, q ledger.Query, text string, pages int, out string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("не удалось создать файл: %w", err)
		}
		defer f.Close()
		w = f
	}

	svc := ledger.NewService(ledger.NewRepository(pool), cfg.LedgerPageSize, cfg.Location())
	n, err := svc.Export(ctx, q, text, pages, w)
	if err != nil {
		return err
	}
	log.WithField("rows", n).Info("Готово")
	return nil
}
