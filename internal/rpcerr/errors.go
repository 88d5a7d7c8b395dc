// Package rpcerr описывает клиентский контракт ошибок шлюза: небольшой фиксированный набор видов ошибок,
// стабильные коды причин и диагностику, которая попадает только в логи.
package rpcerr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnauthenticated    Kind = "unauthenticated"
	KindPermissionDenied   Kind = "permission-denied"
	KindInvalidArgument    Kind = "invalid-argument"
	KindNotFound           Kind = "not-found"
	KindAlreadyExists      Kind = "already-exists"
	KindFailedPrecondition Kind = "failed-precondition"
	KindDeadlineExceeded   Kind = "deadline-exceeded"
	KindInternal           Kind = "internal"
)

// HTTPStatus статус ответа для вида ошибки.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindFailedPrecondition:
		return http.StatusPreconditionFailed
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error типизированная клиентская ошибка. Kind и Reason уходят клиенту, диагностика - только в логи.
type Error struct {
	Kind    Kind
	Reason  string
	Message string

	diag  *Diagnostics
	cause error
}

func New(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Newf(kind Kind, reason, format string, args ...any) *Error {
	return New(kind, reason, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is сравнивает ошибки по виду и причине, что позволяет использовать *Error как шаблон в errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// WithCause возвращает копию ошибки с исходной причиной.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// WithDiagnostics возвращает копию ошибки с диагностикой для логов.
func (e *Error) WithDiagnostics(d Diagnostics) *Error {
	c := *e
	c.diag = &d
	return &c
}

// DiagnosticsOf достает диагностику из цепочки ошибок.
func DiagnosticsOf(err error) (Diagnostics, bool) {
	var e *Error
	if !errors.As(err, &e) || e.diag == nil {
		return Diagnostics{}, false
	}
	return *e.diag, true
}

// As возвращает типизированную ошибку из цепочки, если она там есть.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func InvalidArgument(reason, message string) *Error {
	return New(KindInvalidArgument, reason, message)
}

func NotFound(reason, message string) *Error {
	return New(KindNotFound, reason, message)
}

func FailedPrecondition(reason, message string) *Error {
	return New(KindFailedPrecondition, reason, message)
}

func PermissionDenied(reason, message string) *Error {
	return New(KindPermissionDenied, reason, message)
}

func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, ReasonUnauthenticated, message)
}

func Internal(reason, message string) *Error {
	return New(KindInternal, reason, message)
}
