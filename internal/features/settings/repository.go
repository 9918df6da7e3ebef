// Package settings — repository.go: чтение level_rules, roi_settings и подписка на их изменения.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/invest-engine/internal/db/postgres"
)

// ChannelSettingsChanged: канал LISTEN/NOTIFY, в который пишут триггеры настроек.
const ChannelSettingsChanged = "settings_changed"

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// LoadRules возвращает правила уровней по возрастанию уровня.
func (r *Repository) LoadRules(ctx context.Context) ([]LevelRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT level, income_percent, self_investment_condition,
		       total_team_business_condition, total_team_size_condition, blocked
		FROM level_rules
		ORDER BY level
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения правил уровней: %w", postgres.Classify(err))
	}
	rules, err := pgx.CollectRows(rows, pgx.RowToStructByPos[LevelRule])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения правил уровней: %w", postgres.Classify(err))
	}
	return rules, nil
}

// LoadROI возвращает настройку ROI; ok=false, если строки нет.
func (r *Repository) LoadROI(ctx context.Context) (ROISetting, bool, error) {
	var s ROISetting
	err := r.db.QueryRow(ctx, `SELECT daily_roi, max_roi FROM roi_settings WHERE id = 1`).Scan(&s.DailyROI, &s.MaxROI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ROISetting{}, false, nil
		}
		return ROISetting{}, false, fmt.Errorf("ошибка чтения настройки ROI: %w", postgres.Classify(err))
	}
	return s, true, nil
}

// PgChangeSource ждёт NOTIFY settings_changed на выделенном соединении.
// При обрыве соединение пересоздаётся на следующем вызове Next.
type PgChangeSource struct {
	db   *pgxpool.Pool
	conn *pgx.Conn
}

func NewPgChangeSource(db *pgxpool.Pool) *PgChangeSource {
	return &PgChangeSource{db: db}
}

// Next блокируется до следующего уведомления об изменении настроек.
func (s *PgChangeSource) Next(ctx context.Context) error {
	if s.conn == nil {
		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("LISTEN: не удалось получить соединение: %w", postgres.Classify(err))
		}
		// соединение в режиме LISTEN забираем из пула насовсем
		pgConn := conn.Hijack()
		if _, err := pgConn.Exec(ctx, "LISTEN "+ChannelSettingsChanged); err != nil {
			pgConn.Close(context.Background())
			return fmt.Errorf("LISTEN %s: %w", ChannelSettingsChanged, postgres.Classify(err))
		}
		s.conn = pgConn
		log.Debugf("Подписка на %s установлена", ChannelSettingsChanged)
	}

	n, err := s.conn.WaitForNotification(ctx)
	if err != nil {
		s.Close()
		return err
	}
	log.WithField("table", n.Payload).Debug("Настройки изменились")
	return nil
}

// Close освобождает соединение подписки.
func (s *PgChangeSource) Close() {
	if s.conn != nil {
		s.conn.Close(context.Background())
		s.conn = nil
	}
}

// reconnectPause: пауза перед повторной подпиской после ошибки.
const reconnectPause = 5 * time.Second
