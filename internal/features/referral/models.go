// Package referral обходит реферальное дерево и собирает команду по уровням.
package referral

import "github.com/shopspring/decimal"

// DefaultMaxDepth: жёсткий предел глубины обхода.
const DefaultMaxDepth = 30

// Edge: ребро реферального дерева, referrer пригласил referred.
type Edge struct {
	ReferrerID int64
	ReferredID int64
}

// Member: участник команды на каком-то уровне.
type Member struct {
	AccountID   int64
	SelfDeposit decimal.Decimal // сумма одобренных депозитов
	IsActive    bool
}

// Level: все участники одного уровня. Number начинается с 1 (прямые рефералы).
type Level struct {
	Number  int
	Members []Member
}

// Size: число участников уровня.
func (l Level) Size() int {
	return len(l.Members)
}

// Business: суммарные депозиты участников уровня.
func (l Level) Business() decimal.Decimal {
	sum := decimal.Zero
	for _, m := range l.Members {
		sum = sum.Add(m.SelfDeposit)
	}
	return sum
}
