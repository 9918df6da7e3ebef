// Package payout — repository.go: курсор выплат и атомарная проводка.
package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/db/postgres"
	"serotonyl.ru/invest-engine/internal/features/ledger"
)

// dailyIncomeIndex: уникальный индекс «одна ежедневная выплата на аккаунт и дату».
const dailyIncomeIndex = "uq_wallet_tx_daily_income"

// Repository хранит курсоры выплат и проводит выплату в одной транзакции.
type Repository struct {
	db    *pgxpool.Pool
	retry postgres.RetryConfig
}

func NewRepository(db *pgxpool.Pool, retry postgres.RetryConfig) *Repository {
	return &Repository{db: db, retry: retry}
}

// GetCursor возвращает время последней выплаты; nil: выплат ещё не было.
func (r *Repository) GetCursor(ctx context.Context, userID int64) (*time.Time, error) {
	var last *time.Time
	err := postgres.Retry(ctx, r.retry, "payout.get_cursor", func() error {
		err := r.db.QueryRow(ctx, `SELECT last_payout_at FROM payout_cursors WHERE user_id = $1`, userID).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			last = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения курсора выплат (user_id=%d): %w", userID, err)
	}
	return last, nil
}

// AdvanceCursor сдвигает курсор на at, только если он ещё раньше cutoff.
// Возвращает false, если курсор уже был сдвинут кем-то другим.
func (r *Repository) AdvanceCursor(ctx context.Context, userID int64, at, cutoff time.Time) (bool, error) {
	var advanced bool
	err := postgres.Retry(ctx, r.retry, "payout.advance_cursor", func() error {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO payout_cursors (user_id, last_payout_at, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id) DO UPDATE
			SET last_payout_at = EXCLUDED.last_payout_at, updated_at = NOW()
			WHERE payout_cursors.last_payout_at IS NULL OR payout_cursors.last_payout_at < $3
		`, userID, at, cutoff)
		if err != nil {
			return err
		}
		advanced = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ошибка сдвига курсора выплат (user_id=%d): %w", userID, err)
	}
	return advanced, nil
}

// PostDaily атомарно: перечитывает курсор под блокировкой, перечитывает баланс,
// увеличивает его, дописывает запись в журнал и сдвигает курсор.
//
// Если курсор уже не раньше отсечки или запись за эту дату уже есть,
// возвращает common.ErrAlreadyPosted, ничего не меняя. Конфликты сериализации
// повторяются целиком.
func (r *Repository) PostDaily(ctx context.Context, p Posting) (ledger.Transaction, error) {
	if !p.Amount.IsPositive() {
		return ledger.Transaction{}, common.ErrInvalidAmount
	}

	var tx ledger.Transaction
	err := postgres.InSerializableTx(ctx, r.db, r.retry, "payout.post_daily", func(dbtx pgx.Tx) error {
		// строка курсора нужна для FOR UPDATE
		if _, err := dbtx.Exec(ctx, `
			INSERT INTO payout_cursors (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
		`, p.UserID); err != nil {
			return err
		}

		var last *time.Time
		if err := dbtx.QueryRow(ctx, `
			SELECT last_payout_at FROM payout_cursors WHERE user_id = $1 FOR UPDATE
		`, p.UserID).Scan(&last); err != nil {
			return err
		}
		if last != nil && !last.Before(p.Cutoff) {
			return common.ErrAlreadyPosted
		}

		var balance decimal.Decimal
		if err := dbtx.QueryRow(ctx, `
			SELECT balance FROM accounts WHERE id = $1 FOR UPDATE
		`, p.UserID).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("id=%d: %w", p.UserID, common.ErrAccountNotFound)
			}
			return err
		}

		if _, err := dbtx.Exec(ctx, `
			UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1
		`, p.UserID, balance.Add(p.Amount)); err != nil {
			return err
		}

		tx = ledger.Transaction{
			ID:           uuid.New(),
			UserID:       p.UserID,
			Type:         ledger.TypeDailyIncome,
			Amount:       p.Amount,
			ROIPortion:   p.ROIPortion,
			LevelPortion: p.LevelPortion,
			ForDate:      &p.ForDate,
			Note:         p.Note,
		}
		// posted_at ставит сервер (clock_timestamp())
		if err := dbtx.QueryRow(ctx, `
			INSERT INTO wallet_transactions (id, user_id, type, amount, roi_portion, level_portion, for_date, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING posted_at
		`, tx.ID, tx.UserID, tx.Type, tx.Amount, tx.ROIPortion, tx.LevelPortion, p.ForDate, tx.Note).Scan(&tx.PostedAt); err != nil {
			if postgres.IsUniqueViolation(err, dailyIncomeIndex) {
				return common.ErrAlreadyPosted
			}
			return err
		}

		_, err := dbtx.Exec(ctx, `
			UPDATE payout_cursors SET last_payout_at = $2, updated_at = NOW() WHERE user_id = $1
		`, p.UserID, p.Now)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyPosted) {
			return ledger.Transaction{}, common.ErrAlreadyPosted
		}
		return ledger.Transaction{}, fmt.Errorf("ошибка проводки выплаты (user_id=%d): %w", p.UserID, err)
	}
	return tx, nil
}
