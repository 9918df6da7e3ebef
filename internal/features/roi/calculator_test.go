package roi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/invest-engine/internal/features/deposits"
	"serotonyl.ru/invest-engine/internal/features/settings"
)

var (
	msk        = time.FixedZone("MSK", 3*60*60)
	defaultROI = settings.ROISetting{DailyROI: decimal.RequireFromString("0.01"), MaxROI: decimal.RequireFromString("0.30")}
)

func approved(id int64, amount string, at time.Time) deposits.Deposit {
	return deposits.Deposit{ID: id, Amount: decimal.RequireFromString(amount), Status: deposits.StatusApproved, ApprovedAt: &at}
}

func TestElapsedDaysInclusive(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, msk)
	assert.Equal(t, 1, ElapsedDaysInclusive(at, at))
	assert.Equal(t, 1, ElapsedDaysInclusive(at, at.Add(23*time.Hour)))
	assert.Equal(t, 2, ElapsedDaysInclusive(at, at.Add(24*time.Hour)))
	assert.Equal(t, 0, ElapsedDaysInclusive(at, at.Add(-time.Minute)))
	assert.Equal(t, -1, ElapsedDaysInclusive(at, at.Add(-25*time.Hour)))
}

func TestMaxDaysIsExact(t *testing.T) {
	assert.Equal(t, 30, MaxDays(defaultROI))
	assert.Equal(t, 33, MaxDays(settings.ROISetting{DailyROI: decimal.RequireFromString("0.03"), MaxROI: decimal.RequireFromString("1")}))
	assert.Equal(t, 0, MaxDays(settings.ROISetting{}))
}

func TestHundredDollarScenario(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, msk)
	d := approved(1, "100", at)

	day1 := DepositROI(d, defaultROI, at)
	assert.Equal(t, "1.00", day1.Earned.StringFixed(2))
	assert.Equal(t, "1.00", day1.Today.StringFixed(2))

	day30 := DepositROI(d, defaultROI, at.Add(29*24*time.Hour))
	assert.Equal(t, "30.00", day30.Earned.StringFixed(2))
	assert.Equal(t, "1.00", day30.Today.StringFixed(2))

	day31 := DepositROI(d, defaultROI, at.Add(30*24*time.Hour))
	assert.Equal(t, "30.00", day31.Earned.StringFixed(2))
	assert.True(t, day31.Today.IsZero())
	assert.True(t, day31.Capped)
}

func TestCumulativeIsMonotonicAndCapped(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, msk)
	d := approved(1, "250.50", at)
	limit := d.Amount.Mul(defaultROI.MaxROI)

	prev := decimal.Zero
	for h := -48; h < 24*60; h += 7 {
		acc := DepositROI(d, defaultROI, at.Add(time.Duration(h)*time.Hour))
		require.True(t, acc.Earned.GreaterThanOrEqual(prev), "час %d", h)
		require.True(t, acc.Earned.LessThanOrEqual(limit), "час %d", h)
		prev = acc.Earned
	}
	assert.True(t, prev.Equal(limit))
}

func TestAccrueGatedByActivation(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, msk)
	pending := deposits.Deposit{ID: 3, Amount: decimal.NewFromInt(1000), Status: deposits.StatusPending}
	list := []deposits.Deposit{approved(1, "100", at), approved(2, "50", at.Add(48*time.Hour)), pending}
	now := at.Add(72 * time.Hour)

	active := Accrue(list, defaultROI, now, true, decimal.Zero)
	// 100: 4 дня = 4.00, 50: 2 дня = 1.00
	assert.Equal(t, "5.00", active.Cumulative.StringFixed(2))
	assert.Equal(t, "1.50", active.Today.StringFixed(2))
	assert.Len(t, active.Deposits, 2)
	assert.False(t, active.FromCache)

	inactive := Accrue(list, defaultROI, now, false, decimal.RequireFromString("3.25"))
	assert.Equal(t, "3.25", inactive.Cumulative.StringFixed(2))
	assert.True(t, inactive.Today.IsZero())
	assert.True(t, inactive.FromCache)
}

func TestForDayPaysEachCalendarDayOnce(t *testing.T) {
	at := time.Date(2025, 3, 1, 22, 30, 0, 0, msk)
	list := []deposits.Deposit{approved(1, "100", at)}

	// день до одобрения ничего не даёт
	assert.True(t, ForDay(list, defaultROI, at.AddDate(0, 0, -1), msk).IsZero())

	total := decimal.Zero
	for i := 0; i < 45; i++ {
		total = total.Add(ForDay(list, defaultROI, at.AddDate(0, 0, i), msk))
	}
	assert.Equal(t, "30.00", total.StringFixed(2))
}

func TestDayIndexAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("нет tzdata")
	}
	at := time.Date(2025, 3, 29, 12, 0, 0, 0, berlin) // накануне перехода на летнее время
	assert.Equal(t, 1, DayIndex(at, time.Date(2025, 3, 29, 0, 0, 0, 0, berlin), berlin))
	assert.Equal(t, 2, DayIndex(at, time.Date(2025, 3, 30, 0, 0, 0, 0, berlin), berlin))
	assert.Equal(t, 3, DayIndex(at, time.Date(2025, 3, 31, 23, 0, 0, 0, berlin), berlin))
}

func TestDaysLeftFollowsLatestDeposit(t *testing.T) {
	list := []deposits.Deposit{
		approved(1, "100", time.Date(2025, 3, 1, 12, 0, 0, 0, msk)),
		approved(2, "50", time.Date(2025, 3, 10, 9, 0, 0, 0, msk)),
		{ID: 3, Amount: decimal.RequireFromString("500"), Status: deposits.StatusPending},
	}

	// 10.03: второй депозит в первом дне из 30
	assert.Equal(t, 29, DaysLeft(list, defaultROI, time.Date(2025, 3, 10, 0, 0, 0, 0, msk), msk))
	// 08.04: последний, тридцатый день второго депозита
	assert.Equal(t, 0, DaysLeft(list, defaultROI, time.Date(2025, 4, 8, 0, 0, 0, 0, msk), msk))
	assert.Equal(t, 0, DaysLeft(nil, defaultROI, time.Date(2025, 3, 10, 0, 0, 0, 0, msk), msk))
}
