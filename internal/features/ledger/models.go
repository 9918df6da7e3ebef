// Package ledger — журнал операций кошелька: только дописывается,
// читается страницами по posted_at DESC с курсором продолжения.
package ledger

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/common"
)

// DefaultPageSize: размер страницы журнала.
const DefaultPageSize = 50

// Типы операций. Движок пишет только TypeDailyIncome, остальные приходят извне.
const (
	TypeDailyIncome = "daily_income"
	TypeDeposit     = "deposit"
	TypeWithdrawal  = "withdrawal"
)

// Transaction: одна запись журнала.
type Transaction struct {
	ID           uuid.UUID       `db:"id"`
	UserID       int64           `db:"user_id"`
	Type         string          `db:"type"`
	Amount       decimal.Decimal `db:"amount"`
	ROIPortion   decimal.Decimal `db:"roi_portion"`
	LevelPortion decimal.Decimal `db:"level_portion"`
	ForDate      *time.Time      `db:"for_date"` // только у daily_income
	PostedAt     time.Time       `db:"posted_at"`
	Note         string          `db:"note"`
}

// Query: фильтр выборки из журнала. Пустые поля не ограничивают.
type Query struct {
	UserID int64
	From   *time.Time // posted_at >= From
	To     *time.Time // posted_at < To
	Types  []string
}

// Cursor: последняя увиденная запись, следующая страница начинается строго после неё.
type Cursor struct {
	PostedAt time.Time
	ID       uuid.UUID
}

// CursorAfter возвращает курсор, указывающий на tx.
func CursorAfter(tx Transaction) *Cursor {
	return &Cursor{PostedAt: tx.PostedAt, ID: tx.ID}
}

// Encode кодирует курсор в непрозрачную строку для API.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.PostedAt.UnixMicro(), 10) + "_" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor разбирает строку из Encode.
func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), "_")
	if !ok {
		return nil, common.ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidCursor, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidCursor, err)
	}
	return &Cursor{PostedAt: time.UnixMicro(micros).UTC(), ID: uid}, nil
}

// Page: одна страница журнала. При Next == nil записей больше нет.
type Page struct {
	Items []Transaction
	Next  *Cursor
}
