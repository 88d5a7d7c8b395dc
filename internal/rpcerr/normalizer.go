package rpcerr

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ReasonTokenPrefix префикс кодов причин, которые хранимые процедуры встраивают в текст исключения.
const ReasonTokenPrefix = "ERR_"

var reasonTokenRe = regexp.MustCompile(`\bERR_([A-Z0-9_]+)(?::[ \t]*([^\r\n]*))?`)

// MapErrorFunc пользовательское преобразование ошибки, которое операция может предоставить нормализатору.
// Возврат nil означает "не распознано", и нормализатор продолжает по своим правилам.
type MapErrorFunc func(err error, ec ErrorContext) *Error

// ErrorContext сведения об активной операции в момент ошибки.
type ErrorContext struct {
	Operation string
	Routine   string
	Elapsed   time.Duration
	MapError  MapErrorFunc
}

// Normalize приводит любую ошибку к каноническому виду. Правила применяются строго по порядку,
// до первого совпадения:
//  1. типизированная *Error проходит без изменений (с диагностикой);
//  2. MapError операции;
//  3. код причины ERR_* в тексте ошибки или сообщении драйвера;
//  4. нарушение ограничений (SQLSTATE 23xxx);
//  5. таймаут, ошибка входа, потеря соединения;
//  6. иначе internal.
//
// Результат детерминирован: одна и та же ошибка всегда дает одну и ту же пару {kind, reason}.
func Normalize(err error, ec ErrorContext) *Error {
	if err == nil {
		return nil
	}
	diag := baseDiagnostics(err, ec)

	if typed, ok := As(err); ok {
		class := ClassTyped
		if typed.diag != nil && typed.diag.Classification != "" {
			class = typed.diag.Classification
		}
		return classified(typed, class, diag, err)
	}

	if ec.MapError != nil {
		if mapped := ec.MapError(err, ec); mapped != nil {
			return classified(mapped, ClassCustom, diag, err)
		}
	}

	if fromToken, ok := TokenOf(err); ok {
		return classified(fromToken, ClassReasonToken, diag, err)
	}

	if pgErr, ok := PgError(err); ok {
		switch {
		case isConstraintUnique(pgErr.Code):
			return classified(New(KindAlreadyExists, ReasonDuplicateRecord, "record already exists"),
				ClassConstraint, diag, err)
		case isConstraintRelational(pgErr.Code):
			return classified(FailedPrecondition(ReasonConstraintViolation, "operation violates data constraints"),
				ClassConstraint, diag, err)
		}
	}

	switch {
	case IsTimeout(err):
		return classified(New(KindDeadlineExceeded, ReasonBackendTimeout, "backend timeout"), ClassDriver, diag, err)
	case IsLoginFailure(err):
		return classified(FailedPrecondition(ReasonBackendLoginFailed, "backend login failed"), ClassDriver, diag, err)
	case IsConnectionError(err):
		return classified(FailedPrecondition(ReasonBackendUnavailable, "backend unavailable"), ClassDriver, diag, err)
	}

	return classified(Internal(ReasonGatewayFailure, "gateway failure"), ClassUnclassified, diag, err)
}

// FromReasonToken ищет код причины ERR_* в переданных сообщениях и выводит из него вид ошибки.
func FromReasonToken(messages ...string) (*Error, bool) {
	for _, msg := range messages {
		m := reasonTokenRe.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		token := strings.ToLower(m[1])
		message := strings.TrimSpace(m[2])
		if message == "" {
			message = strings.ReplaceAll(token, "_", " ")
		}
		return New(KindFromToken(token), token, message), true
	}
	return nil, false
}

// TokenOf ищет код причины в ошибке: сначала в сообщении драйвера, затем в тексте ошибки.
func TokenOf(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	return FromReasonToken(messagesOf(err)...)
}

// KindFromToken правила соответствия кода причины виду ошибки. Порядок проверок значим.
func KindFromToken(token string) Kind {
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(token, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("not_found"):
		return KindNotFound
	case has("unauth"):
		return KindUnauthenticated
	case has("permission", "forbidden"):
		return KindPermissionDenied
	case has("invalid", "format", "validation"):
		return KindInvalidArgument
	case has("already", "duplicate", "exists"):
		return KindAlreadyExists
	case has("insufficient", "constraint", "failed", "locked"):
		return KindFailedPrecondition
	case has("timeout"):
		return KindDeadlineExceeded
	default:
		return KindInternal
	}
}

// messagesOf сообщение драйвера идет первым: err.Error() у PgError дописывает SQLSTATE в хвост текста.
func messagesOf(err error) []string {
	var msgs []string
	if pgErr, ok := PgError(err); ok {
		msgs = append(msgs, pgErr.Message, pgErr.Detail, pgErr.Hint)
	}
	return append(msgs, err.Error())
}

func baseDiagnostics(err error, ec ErrorContext) Diagnostics {
	d := Diagnostics{
		Operation: ec.Operation,
		Routine:   ec.Routine,
		Elapsed:   ec.Elapsed,
		Cause:     err.Error(),
	}
	if existing, ok := DiagnosticsOf(err); ok {
		d = mergeDiagnostics(existing, d)
	}
	if pgErr, ok := PgError(err); ok {
		d.DriverCode = pgErr.Code
		d.Severity = pgErr.Severity
		d.Detail = pgErr.Detail
		if d.Routine == "" {
			d.Routine = pgErr.Routine
		}
	}
	return d
}

func mergeDiagnostics(existing, fresh Diagnostics) Diagnostics {
	if fresh.Operation == "" {
		fresh.Operation = existing.Operation
	}
	if fresh.Routine == "" {
		fresh.Routine = existing.Routine
	}
	if fresh.Elapsed == 0 {
		fresh.Elapsed = existing.Elapsed
	}
	fresh.DriverCode = existing.DriverCode
	fresh.Severity = existing.Severity
	fresh.Detail = existing.Detail
	return fresh
}

func classified(e *Error, class Classification, diag Diagnostics, cause error) *Error {
	diag.Classification = class
	out := e.WithDiagnostics(diag)
	if out.cause == nil && !errors.Is(cause, e) {
		out.cause = cause
	}
	return out
}
