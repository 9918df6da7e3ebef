// Package deposits читает депозиты инвесторов.
// Одобрение депозитов делает внешний процесс; движок только читает одобренные.
package deposits

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы депозита
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Deposit: один депозит. В расчётах ROI и активации участвуют только одобренные.
type Deposit struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	Amount     decimal.Decimal `db:"amount"`
	Status     string          `db:"status"`
	CreatedAt  time.Time       `db:"created_at"`
	ApprovedAt *time.Time      `db:"approved_at"` // заполнено только у одобренных
}

// Approved сообщает, участвует ли депозит в расчётах.
func (d Deposit) Approved() bool {
	return d.Status == StatusApproved && d.ApprovedAt != nil
}

// Total суммирует одобренные депозиты.
func Total(list []Deposit) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range list {
		if d.Approved() {
			sum = sum.Add(d.Amount)
		}
	}
	return sum
}
