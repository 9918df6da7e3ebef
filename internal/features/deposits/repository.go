// Package deposits — repository.go: запросы к таблице deposits.
package deposits

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ListApproved возвращает одобренные депозиты пользователя, старые первыми.
func (r *Repository) ListApproved(ctx context.Context, userID int64) ([]Deposit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, status, created_at, approved_at
		FROM deposits
		WHERE user_id = $1 AND status = 'approved'
		ORDER BY approved_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения депозитов (user_id=%d): %w", userID, postgres.Classify(err))
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Deposit])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения депозитов (user_id=%d): %w", userID, postgres.Classify(err))
	}
	return list, nil
}

// ApprovedTotal: сумма одобренных депозитов, считается в БД.
func (r *Repository) ApprovedTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM deposits
		WHERE user_id = $1 AND status = 'approved'
	`, userID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка суммы депозитов (user_id=%d): %w", userID, postgres.Classify(err))
	}
	return total, nil
}
