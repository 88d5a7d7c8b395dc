package rpcerr

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE коды, которые различает нормализатор.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeQueryCanceled       = "57014"
	codeLockNotAvailable    = "55P03"
	codeIdleTxTimeout       = "25P03"
	codeInvalidPassword     = "28P01"
	codeInvalidAuthSpec     = "28000"
	codeAdminShutdown       = "57P01"
	codeCrashShutdown       = "57P02"
	codeCannotConnectNow    = "57P03"
	codeRaiseException      = "P0001"

	connectionExceptionClass = "08"
)

// PgError достает ошибку драйвера из цепочки.
func PgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isConstraintUnique(code string) bool {
	return code == codeUniqueViolation
}

func isConstraintRelational(code string) bool {
	switch code {
	case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
		return true
	}
	return false
}

// IsLoginFailure ошибка аутентификации на стороне СУБД.
func IsLoginFailure(err error) bool {
	if pgErr, ok := PgError(err); ok {
		return pgErr.Code == codeInvalidPassword || pgErr.Code == codeInvalidAuthSpec
	}
	return false
}

// IsTimeout таймаут, который сообщил драйвер или контекст.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	if pgErr, ok := PgError(err); ok {
		switch pgErr.Code {
		case codeQueryCanceled, codeLockNotAvailable, codeIdleTxTimeout:
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnectionError ошибка уровня соединения или пула, а не конкретного запроса: сброс сокета, закрытое
// соединение, недоступный сервер, остановка СУБД.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if pgErr, ok := PgError(err); ok {
		if strings.HasPrefix(pgErr.Code, connectionExceptionClass) {
			return true
		}
		switch pgErr.Code {
		case codeAdminShutdown, codeCrashShutdown, codeCannotConnectNow:
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "closed pool")
}
