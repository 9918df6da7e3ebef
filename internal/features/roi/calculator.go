// Package roi считает ежедневное начисление ROI по одобренным депозитам.
// Пакет ничего не пишет: зачисление идёт только через ежедневную выплату.
package roi

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/common"
	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/settings"
)

// DepositAccrual: начисление по одному депозиту.
type DepositAccrual struct {
	DepositID int64
	Days      int             // засчитанные дни, 0..MaxDays
	Earned    decimal.Decimal // amount * dailyROI * Days
	Today     decimal.Decimal // сегодняшняя доля, 0 после потолка
	Capped    bool
}

// Result: ROI по всем депозитам аккаунта.
type Result struct {
	Cumulative decimal.Decimal
	Today      decimal.Decimal
	Deposits   []DepositAccrual
	// FromCache: аккаунт неактивен, Cumulative взят из последнего активного значения
	FromCache bool
}

// ElapsedDaysInclusive = floor((now - approvedAt) / сутки) + 1: день одобрения засчитывается.
// До момента одобрения результат <= 0.
func ElapsedDaysInclusive(approvedAt, now time.Time) int {
	d := now.Sub(approvedAt)
	days := int(d / common.Day)
	if d < 0 && d%common.Day != 0 {
		days-- // floor для отрицательных
	}
	return days + 1
}

// MaxDays = floor(maxROI / dailyROI): сколько дней до потолка.
func MaxDays(s settings.ROISetting) int {
	if !s.DailyROI.IsPositive() {
		return 0
	}
	return int(s.MaxROI.Div(s.DailyROI).Floor().IntPart())
}

// DepositROI: ROI одного депозита на момент now.
func DepositROI(d deposits.Deposit, s settings.ROISetting, now time.Time) DepositAccrual {
	acc := DepositAccrual{DepositID: d.ID, Earned: decimal.Zero, Today: decimal.Zero}
	if !d.Approved() {
		return acc
	}

	maxDays := MaxDays(s)
	elapsed := ElapsedDaysInclusive(*d.ApprovedAt, now)
	acc.Days = clamp(elapsed, 0, maxDays)
	acc.Capped = elapsed > maxDays

	daily := d.Amount.Mul(s.DailyROI)
	acc.Earned = daily.Mul(decimal.NewFromInt(int64(acc.Days)))
	if elapsed >= 1 && elapsed <= maxDays {
		acc.Today = daily
	}
	return acc
}

// Accrue считает накопленный и сегодняшний ROI.
//
// Если аккаунт неактивен, сегодняшняя доля равна нулю, а накопленное значение
// для отображения берётся из lastActive (последнее значение, посчитанное в активном состоянии).
func Accrue(list []deposits.Deposit, s settings.ROISetting, now time.Time, active bool, lastActive decimal.Decimal) Result {
	if !active {
		return Result{Cumulative: lastActive, Today: decimal.Zero, FromCache: true}
	}

	res := Result{Cumulative: decimal.Zero, Today: decimal.Zero}
	for _, d := range list {
		acc := DepositROI(d, s, now)
		if !d.Approved() {
			continue
		}
		res.Deposits = append(res.Deposits, acc)
		res.Cumulative = res.Cumulative.Add(acc.Earned)
		res.Today = res.Today.Add(acc.Today)
	}
	return res
}

// DayIndex: номер календарного дня day в сроке начисления депозита:
// 1: день одобрения, 2: следующий и т.д. Даты берутся в часовом поясе loc.
func DayIndex(approvedAt, day time.Time, loc *time.Location) int {
	a := approvedAt.In(loc)
	d := day.In(loc)
	// полночь UTC одних и тех же дат: разница всегда кратна суткам, переходы на летнее время не мешают
	from := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from)/common.Day) + 1
}

// ForDay: ROI за календарный день day (используется выплатой «за вчера»).
// Депозит участвует, если одобрен не позже этого дня и день не вышел за потолок.
// Каждый календарный день даёт депозиту ровно один номер, поэтому сумма выплат
// по депозиту не превышает amount * dailyROI * MaxDays <= amount * maxROI.
func ForDay(list []deposits.Deposit, s settings.ROISetting, day time.Time, loc *time.Location) decimal.Decimal {
	maxDays := MaxDays(s)
	total := decimal.Zero
	for _, d := range list {
		if !d.Approved() {
			continue
		}
		idx := DayIndex(*d.ApprovedAt, day, loc)
		if idx >= 1 && idx <= maxDays {
			total = total.Add(d.Amount.Mul(s.DailyROI))
		}
	}
	return total
}

// DaysLeft: сколько календарных дней после day ещё будет начисляться ROI
// хотя бы по одному депозиту. 0: начисления закончились.
func DaysLeft(list []deposits.Deposit, s settings.ROISetting, day time.Time, loc *time.Location) int {
	maxDays := MaxDays(s)
	left := 0
	for _, d := range list {
		if !d.Approved() {
			continue
		}
		if n := maxDays - DayIndex(*d.ApprovedAt, day, loc); n > left {
			left = n
		}
	}
	return left
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
