// Package activation решает, активен ли аккаунт, и сохраняет переходы состояния.
package activation

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultThreshold: порог активации в валюте счёта.
var DefaultThreshold = decimal.NewFromInt(20)

// State: результат проверки активации.
type State struct {
	UserID        int64
	IsActive      bool
	Balance       decimal.Decimal
	ApprovedTotal decimal.Decimal
	// Changed: состояние изменилось и было записано
	Changed   bool
	CheckedAt time.Time
}

// Evaluate: чистое правило, аккаунт активен, если баланс или сумма одобренных
// депозитов достигли порога.
func Evaluate(balance, approvedTotal, threshold decimal.Decimal) bool {
	return balance.GreaterThanOrEqual(threshold) || approvedTotal.GreaterThanOrEqual(threshold)
}
