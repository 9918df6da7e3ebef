// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с календарными днями и отсечкой, форматирование денег, русская плюрализация.
package common

import (
	"time"
)

// Day: длительность одних суток для расчёта прошедших дней начисления.
const Day = 24 * time.Hour

// StartOfDay возвращает полночь того же календарного дня в часовом поясе t.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CutoffAt возвращает момент отсечки выплат для дня, в котором находится t.
//
// Пример:
//
//	CutoffAt(2025-03-04 08:15 MSK, 10) → 2025-03-04 10:00 MSK
func CutoffAt(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

// Yesterday возвращает календарную дату предыдущего дня (полночь).
// Через AddDate, чтобы переход на летнее время не сдвигал дату.
func Yesterday(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, -1)
}

// FormatDate форматирует дату в "02.01.2006".
func FormatDate(t time.Time) string {
	return t.Format("02.01.2006")
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в часовом поясе loc.
// В таком виде даты операций видит пользователь, по нему же ищется журнал.
func FormatDateTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 15:04")
}
