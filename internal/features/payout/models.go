// Package payout проводит ежедневную выплату: раз в календарный день после отсечки
// зачисляет на баланс ROI и доход с уровней за вчера одной транзакцией.
package payout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome: чем закончился запуск выплаты по аккаунту.
type Outcome string

const (
	OutcomePosted        Outcome = "posted"         // выплата проведена
	OutcomeZero          Outcome = "zero"           // начислять нечего, курсор сдвинут
	OutcomeNotDue        Outcome = "not_due"        // отсечка ещё не наступила
	OutcomeAlreadyPosted Outcome = "already_posted" // сегодня уже выплачено (в том числе параллельным запуском)
	OutcomeSkipped       Outcome = "skipped"        // нет прав на данные, тихо пропускаем
	OutcomeFailed        Outcome = "error"
)

// Posting: всё, что пишется одной транзакцией.
type Posting struct {
	UserID       int64
	Amount       decimal.Decimal
	ROIPortion   decimal.Decimal
	LevelPortion decimal.Decimal
	ForDate      time.Time // вчерашняя дата
	Cutoff       time.Time // отсечка сегодняшнего дня
	Now          time.Time // новое значение курсора
	Note         string
}

// Result: итог запуска выплаты по аккаунту.
type Result struct {
	UserID        int64
	Outcome       Outcome
	Total         decimal.Decimal
	ROIPortion    decimal.Decimal
	LevelPortion  decimal.Decimal
	ForDate       time.Time
	TransactionID uuid.UUID
	PostedAt      time.Time
	ActiveLevels  int // уровни, принёсшие доход
	ROIDaysLeft   int // сколько дней после ForDate ещё начисляется ROI
}

// Summary: итог обхода всех аккаунтов по расписанию.
type Summary struct {
	Due           int
	Posted        int
	Zero          int
	AlreadyPosted int
	NotDue        int
	Skipped       int
	Failed        int
}

func (s *Summary) add(o Outcome) {
	switch o {
	case OutcomePosted:
		s.Posted++
	case OutcomeZero:
		s.Zero++
	case OutcomeAlreadyPosted:
		s.AlreadyPosted++
	case OutcomeNotDue:
		s.NotDue++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}
