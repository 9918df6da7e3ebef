// Package accounts — чтение и узкие обновления аккаунтов инвесторов.
// models.go описывает аккаунт так, как его видит движок начислений.
package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы активации в человекочитаемом виде (пишутся в accounts.status).
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Account представляет аккаунт инвестора.
// Balance, IsActive, Status и TotalDeposits меняют только выплата и машина активации.
type Account struct {
	ID             int64           `db:"id"`
	ReferralCode   string          `db:"referral_code"`
	ReferredBy     *int64          `db:"referred_by"`      // nil: пришёл без кода
	TelegramChatID *int64          `db:"telegram_chat_id"` // куда слать уведомления (может быть nil)
	Balance        decimal.Decimal `db:"balance"`
	// SelfDeposit: сумма одобренных депозитов, считается живым запросом, не из кэша
	SelfDeposit decimal.Decimal `db:"-"`
	// TotalDeposits: то же значение, но сохранённое машиной активации
	TotalDeposits       decimal.Decimal `db:"total_deposits"`
	IsActive            bool            `db:"is_active"`
	Status              string          `db:"status"`
	LevelIncome         decimal.Decimal `db:"level_income"` // кэш для дашборда
	ROIIncome           decimal.Decimal `db:"roi_income"`   // кэш для дашборда, истина в журнале
	ActivationCheckedAt *time.Time      `db:"activation_checked_at"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// ActivationUpdate: одно атомарное обновление состояния активации.
type ActivationUpdate struct {
	IsActive      bool
	Status        string
	TotalDeposits decimal.Decimal
	CheckedAt     time.Time
}

// StatusFor возвращает строку статуса для флага активности.
func StatusFor(active bool) string {
	if active {
		return StatusActive
	}
	return StatusInactive
}
