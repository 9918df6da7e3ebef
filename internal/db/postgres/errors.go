package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"serotonyl.ru/invest-engine/internal/common"
)

// Коды SQLSTATE, которые движок различает.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInsufficientPriv     = "42501"
	codeUndefinedTable       = "42P01"
	codeUndefinedColumn      = "42703"
	codeQueryCanceled        = "57014"
	codeTooManyConnections   = "53300"
)

// Classify оборачивает ошибку драйвера в одну из общих ошибок common:
// ErrConflict (повторить транзакцию), ErrTransient (повторить с паузой),
// ErrPermissionDenied (не повторять). Остальные ошибки возвращаются как есть.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	// Отмену контекста не трогаем: это решение вызывающего, а не сбой базы
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrTransient) || errors.Is(err, common.ErrPermissionDenied) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected:
			return fmt.Errorf("%w: %w", common.ErrConflict, err)
		case pgErr.Code == codeInsufficientPriv:
			return fmt.Errorf("%w: %w", common.ErrPermissionDenied, err)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "57P"), // admin shutdown, crash shutdown, cannot connect now
			pgErr.Code == codeQueryCanceled, // statement_timeout или отмена клиентом
			pgErr.Code == codeTooManyConnections:
			return fmt.Errorf("%w: %w", common.ErrTransient, err)
		}
		return err
	}

	if pgconn.Timeout(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", common.ErrTransient, err)
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "conn closed", "closed pool"} {
		if strings.Contains(errStr, pattern) {
			return fmt.Errorf("%w: %w", common.ErrTransient, err)
		}
	}
	return err
}

// IsUniqueViolation сообщает, нарушен ли уникальный индекс constraint
// (пустая строка: любой уникальный индекс).
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsMissingSchema сообщает, что запрос упал из-за отсутствующей таблицы или колонки.
// Отмена запроса (57014) сюда не относится: это временная ошибка, а отсутствие
// индекса журнала проверяется отдельно по pg_indexes.
func IsMissingSchema(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUndefinedTable, codeUndefinedColumn:
		return true
	}
	return false
}
