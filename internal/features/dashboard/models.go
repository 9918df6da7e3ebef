// Package dashboard собирает показатели для экрана инвестора: накопленный
// и сегодняшний ROI, доход с уровней и статус активации.
package dashboard

import (
	"time"

	"github.com/shopspring/decimal"
)

// Figures: показатели одного аккаунта на момент ComputedAt.
type Figures struct {
	UserID                int64           `json:"user_id"`
	CumulativeROI         decimal.Decimal `json:"cumulative_roi"`
	TodayROI              decimal.Decimal `json:"today_roi"`
	CumulativeLevelIncome decimal.Decimal `json:"cumulative_level_income"`
	TodayLevelIncome      decimal.Decimal `json:"today_level_income"`
	ActiveLevels          int             `json:"active_levels"`
	IsActive              bool            `json:"is_active"`
	SettingsGeneration    int64           `json:"settings_generation"`
	ComputedAt            time.Time       `json:"computed_at"`
	// Stale: посчитать не удалось, отдано последнее удачное значение
	Stale bool `json:"stale"`
}

func zeroFigures(userID int64, at time.Time) Figures {
	return Figures{
		UserID:                userID,
		CumulativeROI:         decimal.Zero,
		TodayROI:              decimal.Zero,
		CumulativeLevelIncome: decimal.Zero,
		TodayLevelIncome:      decimal.Zero,
		ComputedAt:            at,
		Stale:                 true,
	}
}
