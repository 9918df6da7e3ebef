// Package ledger — repository.go: постраничное чтение wallet_transactions.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/db/postgres"
)

// pageIndex: составной индекс, без которого постраничное чтение превращается в полный скан.
const pageIndex = "idx_wallet_tx_user_posted"

type Repository struct {
	db           *pgxpool.Pool
	indexChecked atomic.Bool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Page возвращает до limit записей после курсора after (nil: с самой новой).
func (r *Repository) Page(ctx context.Context, q Query, after *Cursor, limit int) (Page, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var afterAt, afterID any
	if after != nil {
		afterAt, afterID = after.PostedAt, after.ID
	}
	types := q.Types
	if types == nil {
		types = []string{}
	}

	// запрашиваем на одну запись больше, чтобы понять, есть ли следующая страница
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, type, amount, roi_portion, level_portion, for_date, posted_at, note
		FROM wallet_transactions
		WHERE user_id = $1
		  AND ($2::timestamptz IS NULL OR posted_at >= $2)
		  AND ($3::timestamptz IS NULL OR posted_at < $3)
		  AND (cardinality($4::text[]) = 0 OR type = ANY($4))
		  AND ($5::timestamptz IS NULL OR (posted_at, id) < ($5, $6::uuid))
		ORDER BY posted_at DESC, id DESC
		LIMIT $7
	`, q.UserID, q.From, q.To, types, afterAt, afterID, limit+1)
	if err != nil {
		return Page{}, r.readError(err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Transaction])
	if err != nil {
		return Page{}, r.readError(err)
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.Next = CursorAfter(page.Items[limit-1])
	}
	return page, nil
}

// ensureIndex один раз проверяет наличие составного индекса.
func (r *Repository) ensureIndex(ctx context.Context) error {
	if r.indexChecked.Load() {
		return nil
	}
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'wallet_transactions' AND indexname = $1)
	`, pageIndex).Scan(&exists)
	if err != nil {
		return r.readError(err)
	}
	if !exists {
		return common.ErrLedgerIndexMissing
	}
	r.indexChecked.Store(true)
	return nil
}

func (r *Repository) readError(err error) error {
	if postgres.IsMissingSchema(err) {
		return fmt.Errorf("%w: %w", common.ErrLedgerIndexMissing, err)
	}
	return fmt.Errorf("ошибка чтения журнала: %w", postgres.Classify(err))
}
