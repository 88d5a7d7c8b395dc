package pgrepo

import (
	"errors"
	"fmt"

	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
)

// convertErr преобразует ошибку к стандартному виду для слоя репозитория.
// Добавляет форматированное сообщение контекста и тип бизнес-ошибки, исходная ошибка остается в цепочке:
//   - pgx.ErrNoRows дает ErrRecordNotFound из domain;
//   - нарушение уникальности (uniqueViolationCode) дает ErrDuplicateKey;
//   - нарушение внешнего ключа или CHECK дает ErrConstraint;
//   - все остальное ErrUnknown.
//
// Исходная ошибка нужна нормализатору выше: по ней он различает коды причин и ошибки соединения.
func convertErr(err error, format string, formatArgs ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, formatArgs...)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("[repository/%s] %w", msg, domain.ErrRecordNotFound)
	}

	var pgErr *pgconn.PgError
	errType := domain.ErrUnknown

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			errType = domain.ErrDuplicateKey
		case foreignKeyViolationCode, checkViolationCode:
			errType = domain.ErrConstraint
		}
	}

	return fmt.Errorf("[repository/%s] %w: %w", msg, errType, err)
}
