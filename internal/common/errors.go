// Package common — errors.go определяет ошибки, которые используются во всех модулях движка.
// Эти ошибки позволяют вызывающему коду различать типы проблем через errors.Is
// и решать: повторить, промолчать или показать понятное сообщение.
package common

import "errors"

// Ошибки аккаунтов и денег
var (
	// ErrAccountNotFound: аккаунт не найден (удалён или ещё не создан)
	ErrAccountNotFound = errors.New("аккаунт не найден")
	// ErrInvalidAmount: некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
)

// Ошибки хранилища
var (
	// ErrPermissionDenied: нет прав на чтение/запись. Не повторяется, на выходе нули.
	ErrPermissionDenied = errors.New("нет прав доступа к данным")
	// ErrTransient: временная ошибка хранилища (сеть, перезапуск, таймаут)
	ErrTransient = errors.New("временная ошибка хранилища")
	// ErrConflict: конфликт сериализации, транзакцию надо повторить целиком
	ErrConflict = errors.New("конфликт параллельных транзакций")
)

// Ошибки ежедневной выплаты
var (
	// ErrAlreadyPosted: выплата за этот день уже проведена другим исполнителем.
	// Для вызывающего это успех, а не ошибка.
	ErrAlreadyPosted = errors.New("выплата за этот день уже проведена")
	// ErrTooEarly: ещё не наступила отсечка сегодняшнего дня
	ErrTooEarly = errors.New("время выплаты ещё не наступило")
)

// Ошибки журнала операций
var (
	// ErrLedgerIndexMissing: нет составного индекса для постраничного чтения журнала
	ErrLedgerIndexMissing = errors.New("нет индекса wallet_transactions(user_id, posted_at DESC, id DESC): примените миграции (engine --migrate-only)")
	// ErrInvalidCursor: курсор продолжения не разобран
	ErrInvalidCursor = errors.New("некорректный курсор страницы")
)
