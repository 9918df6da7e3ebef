// Package referral — repository.go читает рёбра дерева и участников пачками по уровню.
package referral

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/invest-engine/internal/db/postgres"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Children возвращает рёбра от всех referrerIDs одним запросом.
func (r *Repository) Children(ctx context.Context, referrerIDs []int64) ([]Edge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT referrer_id, referred_id
		FROM referral_edges
		WHERE referrer_id = ANY($1)
		ORDER BY created_at, referred_id
	`, referrerIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения рефералов: %w", postgres.Classify(err))
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ReferrerID, &e.ReferredID); err != nil {
			return nil, fmt.Errorf("ошибка чтения рефералов: %w", postgres.Classify(err))
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения рефералов: %w", postgres.Classify(err))
	}
	return edges, nil
}

// Members возвращает существующие аккаунты из ids с живой суммой одобренных депозитов.
// Удалённых аккаунтов в ответе просто нет.
func (r *Repository) Members(ctx context.Context, ids []int64) (map[int64]Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.is_active,
		       COALESCE(SUM(d.amount) FILTER (WHERE d.status = 'approved'), 0)
		FROM accounts a
		LEFT JOIN deposits d ON d.user_id = a.id
		WHERE a.id = ANY($1)
		GROUP BY a.id, a.is_active
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения участников команды: %w", postgres.Classify(err))
	}
	defer rows.Close()

	out := make(map[int64]Member, len(ids))
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.AccountID, &m.IsActive, &m.SelfDeposit); err != nil {
			return nil, fmt.Errorf("ошибка чтения участников команды: %w", postgres.Classify(err))
		}
		out[m.AccountID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения участников команды: %w", postgres.Classify(err))
	}
	return out, nil
}
