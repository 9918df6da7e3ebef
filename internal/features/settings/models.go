// Package settings читает настройки, которые задаёт администратор:
// правила уровней и ставку ROI. Движок их только читает.
package settings

import (
	"time"

	"github.com/shopspring/decimal"
)

// LevelRule: правило одного уровня. Rules[i] относится к уровню i+1.
type LevelRule struct {
	Level                      int
	IncomePercent              decimal.Decimal // проценты, 10 = 10%
	SelfInvestmentCondition    decimal.Decimal // минимум собственных депозитов корня
	TotalTeamBusinessCondition decimal.Decimal // минимум суммарных депозитов уровня
	TotalTeamSizeCondition     int             // минимум участников уровня
	Blocked                    bool
}

// ROISetting: ставка и потолок ROI в долях (0.01 = 1% в день).
type ROISetting struct {
	DailyROI decimal.Decimal
	MaxROI   decimal.Decimal
}

// Valid: можно ли считать по этой настройке.
func (s ROISetting) Valid() bool {
	return s.DailyROI.IsPositive() && !s.MaxROI.IsNegative()
}

// Snapshot: согласованный срез настроек на момент загрузки.
type Snapshot struct {
	Rules []LevelRule
	ROI   ROISetting
	// ROIDefaulted: в базе нет настройки ROI, подставлены значения по умолчанию
	ROIDefaulted bool
	// Version растёт на каждой успешной перезагрузке (0: ещё не загружали)
	Version  uint64
	LoadedAt time.Time
}

// normalizeRules раскладывает правила по индексам: rules[i] описывает уровень i+1.
// Пропущенные уровни считаются заблокированными.
func normalizeRules(in []LevelRule) []LevelRule {
	maxLevel := 0
	for _, r := range in {
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
	}
	out := make([]LevelRule, maxLevel)
	for i := range out {
		out[i] = LevelRule{Level: i + 1, Blocked: true}
	}
	for _, r := range in {
		if r.Level >= 1 {
			out[r.Level-1] = r
		}
	}
	return out
}
