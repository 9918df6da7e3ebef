// Package accounts — repository.go отвечает за операции с таблицей accounts.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// selectAccount: общая часть SELECT; self_deposit считается по одобренным депозитам.
const selectAccount = `
	SELECT a.id, a.referral_code, a.referred_by, a.telegram_chat_id, a.balance,
	       COALESCE((SELECT SUM(d.amount) FROM deposits d WHERE d.user_id = a.id AND d.status = 'approved'), 0),
	       a.total_deposits, a.is_active, a.status, a.level_income, a.roi_income,
	       a.activation_checked_at, a.created_at, a.updated_at
	FROM accounts a
`

// Get возвращает аккаунт. Если не найден: common.ErrAccountNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (*Account, error) {
	rows, err := r.db.Query(ctx, selectAccount+` WHERE a.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аккаунта (id=%d): %w", id, postgres.Classify(err))
	}
	list, err := scanAccounts(rows)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения аккаунта (id=%d): %w", id, postgres.Classify(err))
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("id=%d: %w", id, common.ErrAccountNotFound)
	}
	return list[0], nil
}

// UpdateActivation пишет isActive, status, total_deposits и время проверки одним UPDATE.
func (r *Repository) UpdateActivation(ctx context.Context, id int64, u ActivationUpdate) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET is_active = $2, status = $3, total_deposits = $4, activation_checked_at = $5, updated_at = NOW()
		WHERE id = $1
	`, id, u.IsActive, u.Status, u.TotalDeposits, u.CheckedAt)
	if err != nil {
		return fmt.Errorf("ошибка обновления активации (id=%d): %w", id, postgres.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("id=%d: %w", id, common.ErrAccountNotFound)
	}
	return nil
}

// UpdateLevelIncome сохраняет накопленный доход с уровней (кэш для дашборда).
func (r *Repository) UpdateLevelIncome(ctx context.Context, id int64, v decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET level_income = $2, updated_at = NOW()
		WHERE id = $1 AND level_income IS DISTINCT FROM $2
	`, id, v)
	if err != nil {
		return fmt.Errorf("ошибка сохранения level_income (id=%d): %w", id, postgres.Classify(err))
	}
	return nil
}

// UpdateROIIncome сохраняет отображаемое значение накопленного ROI.
func (r *Repository) UpdateROIIncome(ctx context.Context, id int64, v decimal.Decimal) error {
	_, err := r.db.Exec(ctx, `
		UPDATE accounts SET roi_income = $2, updated_at = NOW()
		WHERE id = $1 AND roi_income IS DISTINCT FROM $2
	`, id, v)
	if err != nil {
		return fmt.Errorf("ошибка сохранения roi_income (id=%d): %w", id, postgres.Classify(err))
	}
	return nil
}

// TelegramChatID возвращает чат для уведомлений; ok=false, если чат не привязан.
func (r *Repository) TelegramChatID(ctx context.Context, id int64) (int64, bool, error) {
	var chatID *int64
	err := r.db.QueryRow(ctx, `SELECT telegram_chat_id FROM accounts WHERE id = $1`, id).Scan(&chatID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("ошибка чтения telegram_chat_id (id=%d): %w", id, postgres.Classify(err))
	}
	if chatID == nil {
		return 0, false, nil
	}
	return *chatID, true, nil
}

// ListIDs возвращает id всех аккаунтов (для обхода активации).
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	return r.queryIDs(ctx, `SELECT id FROM accounts ORDER BY id`)
}

// ListDueForPayout возвращает аккаунты, у которых курсор выплаты раньше отсечки.
func (r *Repository) ListDueForPayout(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return r.queryIDs(ctx, `
		SELECT a.id
		FROM accounts a
		LEFT JOIN payout_cursors c ON c.user_id = a.id
		WHERE c.last_payout_at IS NULL OR c.last_payout_at < $1
		ORDER BY a.id
	`, cutoff)
}

func (r *Repository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка аккаунтов: %w", postgres.Classify(err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка аккаунтов: %w", postgres.Classify(err))
	}
	return ids, nil
}

func scanAccounts(rows pgx.Rows) ([]*Account, error) {
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(
			&a.ID, &a.ReferralCode, &a.ReferredBy, &a.TelegramChatID, &a.Balance,
			&a.SelfDeposit, &a.TotalDeposits, &a.IsActive, &a.Status,
			&a.LevelIncome, &a.ROIIncome, &a.ActivationCheckedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
