// Package postgres — вспомогательные функции для работы с БД.
// queries.go содержит обёртки над транзакциями.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxBeginner: то, что умеет открывать транзакции (pgxpool.Pool, pgx.Conn).
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// InSerializableTx выполняет fn в транзакции SERIALIZABLE.
// Если fn вернула ошибку: транзакция откатывается, иначе фиксируется.
// При конфликте сериализации вся транзакция повторяется заново (Retry),
// поэтому fn обязана заново читать всё, от чего зависит её решение.
func InSerializableTx(ctx context.Context, db TxBeginner, retry RetryConfig, op string, fn func(tx pgx.Tx) error) error {
	return Retry(ctx, retry, op, func() error {
		return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
	})
}

// Health проверяет доступность базы (для /healthz).
type Health struct {
	Pool *pgxpool.Pool
}

func (h Health) Ping(ctx context.Context) error {
	if err := h.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("база данных недоступна: %w", Classify(err))
	}
	return nil
}
