// Package levelincome считает доход с уровней команды.
// calculator.go: чистый расчёт без обращений к базе.
package levelincome

import (
	"github.com/shopspring/decimal"

	"serotonyl.ru/invest-engine/internal/features/referral"
	"serotonyl.ru/invest-engine/internal/features/settings"
)

var hundred = decimal.NewFromInt(100)

// LevelResult: разбор одного уровня.
type LevelResult struct {
	Level       int
	Blocked     bool
	Eligible    bool
	Size        int
	Business    decimal.Decimal // суммарные депозиты уровня
	Income      decimal.Decimal // накопленный доход с уровня
	TodayIncome decimal.Decimal // часть от активных участников
}

// Result: итог по всем уровням.
// Cumulative и Today: разные величины, их нельзя складывать.
type Result struct {
	Cumulative decimal.Decimal
	Today      decimal.Decimal
	Levels     []LevelResult
}

// ActiveLevels: сколько уровней сейчас приносят доход.
func (r Result) ActiveLevels() int {
	n := 0
	for _, l := range r.Levels {
		if l.Eligible {
			n++
		}
	}
	return n
}

// Calculate считает доход по правилам rules (rules[i]: уровень i+1).
//
// Уровень приносит доход, только если он не заблокирован и выполнены все три
// условия сразу: собственные депозиты корня, оборот уровня, размер уровня.
// Доход уровня = оборот × IncomePercent / 100. «Сегодняшняя» часть считается
// по тому же проценту, но только от активных участников с ненулевым депозитом.
func Calculate(rootSelfDeposit decimal.Decimal, levels []referral.Level, rules []settings.LevelRule) Result {
	res := Result{
		Cumulative: decimal.Zero,
		Today:      decimal.Zero,
		Levels:     make([]LevelResult, 0, len(rules)),
	}

	for i, rule := range rules {
		level := referral.Level{Number: i + 1}
		if i < len(levels) {
			level = levels[i]
		}

		lr := LevelResult{
			Level:       i + 1,
			Blocked:     rule.Blocked,
			Size:        level.Size(),
			Business:    level.Business(),
			Income:      decimal.Zero,
			TodayIncome: decimal.Zero,
		}

		if !rule.Blocked {
			lr.Eligible = rootSelfDeposit.GreaterThanOrEqual(rule.SelfInvestmentCondition) &&
				lr.Business.GreaterThanOrEqual(rule.TotalTeamBusinessCondition) &&
				lr.Size >= rule.TotalTeamSizeCondition
		}

		if lr.Eligible {
			rate := rule.IncomePercent.Div(hundred)
			lr.Income = lr.Business.Mul(rate)
			lr.TodayIncome = activeBusiness(level).Mul(rate)

			res.Cumulative = res.Cumulative.Add(lr.Income)
			res.Today = res.Today.Add(lr.TodayIncome)
		}

		res.Levels = append(res.Levels, lr)
	}

	return res
}

func activeBusiness(level referral.Level) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range level.Members {
		if m.IsActive && m.SelfDeposit.IsPositive() {
			sum = sum.Add(m.SelfDeposit)
		}
	}
	return sum
}
