//go:build integration

package payout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/db/postgres"
	"serotonyl.ru/invest-engine/internal/db/postgres/pgtest"
	"serotonyl.ru/invest-engine/internal/features/ledger"
	"serotonyl.ru/invest-engine/internal/features/payout"
)

var testRetry = postgres.RetryConfig{MaxAttempts: 20, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 100 * time.Millisecond}

func seedAccount(t *testing.T, pool *pgxpool.Pool, id int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO accounts (id, referral_code, balance) VALUES ($1, $2, 10)`, id, fmt.Sprintf("REF%d", id))
	require.NoError(t, err)
}

func posting(userID int64, now time.Time) payout.Posting {
	return payout.Posting{
		UserID:       userID,
		Amount:       decimal.RequireFromString("3.5"),
		ROIPortion:   decimal.RequireFromString("1"),
		LevelPortion: decimal.RequireFromString("2.5"),
		ForDate:      common.Yesterday(now),
		Cutoff:       common.CutoffAt(now, 10),
		Now:          now,
		Note:         "Ежедневное начисление",
	}
}

func TestPostDailyConcurrentRunnersPostOnce(t *testing.T) {
	pool := pgtest.New(t)
	seedAccount(t, pool, 1)
	repo := payout.NewRepository(pool, testRetry)
	now := time.Date(2025, 3, 5, 10, 5, 0, 0, time.UTC)

	const runners = 8
	var wg sync.WaitGroup
	errs := make([]error, runners)
	for i := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = repo.PostDaily(context.Background(), posting(1, now))
		}()
	}
	wg.Wait()

	posted := 0
	for _, err := range errs {
		if err == nil {
			posted++
			continue
		}
		assert.ErrorIs(t, err, common.ErrAlreadyPosted)
	}
	assert.Equal(t, 1, posted)

	var balance decimal.Decimal
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT balance FROM accounts WHERE id = 1`).Scan(&balance))
	assert.True(t, balance.Equal(decimal.RequireFromString("13.5")), "баланс %s", balance)

	var rows int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM wallet_transactions WHERE user_id = 1 AND type = 'daily_income'`).Scan(&rows))
	assert.Equal(t, 1, rows)

	last, err := repo.GetCursor(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))
}

func TestAdvanceCursorIsConditional(t *testing.T) {
	pool := pgtest.New(t)
	seedAccount(t, pool, 2)
	repo := payout.NewRepository(pool, testRetry)
	ctx := context.Background()

	now := time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC)
	cutoff := common.CutoffAt(now, 10)

	ok, err := repo.AdvanceCursor(ctx, 2, now, cutoff)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AdvanceCursor(ctx, 2, now.Add(time.Minute), cutoff)
	require.NoError(t, err)
	assert.False(t, ok, "второй сдвиг в тот же день ничего не меняет")

	// после сдвига курсора выплата за этот день уже не проходит
	_, err = repo.PostDaily(ctx, posting(2, now))
	assert.True(t, errors.Is(err, common.ErrAlreadyPosted))
}

func TestLedgerIsAppendOnlyAndPaged(t *testing.T) {
	pool := pgtest.New(t)
	seedAccount(t, pool, 3)
	repo := payout.NewRepository(pool, testRetry)
	ctx := context.Background()

	start := time.Date(2025, 3, 2, 10, 30, 0, 0, time.UTC)
	for day := 0; day < 5; day++ {
		_, err := repo.PostDaily(ctx, posting(3, start.AddDate(0, 0, day)))
		require.NoError(t, err)
	}

	_, err := pool.Exec(ctx, `UPDATE wallet_transactions SET amount = 0 WHERE user_id = 3`)
	require.Error(t, err, "журнал нельзя менять")
	_, err = pool.Exec(ctx, `DELETE FROM wallet_transactions WHERE user_id = 3`)
	require.Error(t, err, "из журнала нельзя удалять")

	svc := ledger.NewService(ledger.NewRepository(pool), 2, time.UTC)
	h := svc.Open(ledger.Query{UserID: 3})
	for !h.Done() {
		_, err := h.LoadMore(ctx)
		require.NoError(t, err)
	}
	items := h.Items()
	require.Len(t, items, 5)
	assert.Equal(t, 3, h.Pages())
	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].PostedAt.After(items[i-1].PostedAt), "новые первыми")
	}
}
