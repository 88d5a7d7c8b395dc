package gateway

//go:generate mockgen -source=session.go -destination=mocks/session.go -package=mocks

import (
	"context"
	"errors"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
)

// Connector источник пулового соединения. Discard вызывается после ошибки уровня пула.
type Connector interface {
	Acquire(ctx context.Context) (uow.Conn, error)
	Discard(cause error)
}

// acquireError ошибка получения соединения. Отличается от ошибки выполнения при решении о повторе.
type acquireError struct {
	err error
}

func (e *acquireError) Error() string {
	return "acquire connection: " + e.err.Error()
}

func (e *acquireError) Unwrap() error {
	return e.err
}

func isAcquireError(err error) bool {
	var ae *acquireError
	return errors.As(err, &ae)
}

// Session соединение одной попытки вызова. Соединение берется лениво: операции, которые не ходят
// в реляционный бекенд, пул не трогают.
type Session struct {
	connector Connector
	schema    string
	conn      uow.Conn
}

func NewSession(connector Connector, schema string) *Session {
	return &Session{connector: connector, schema: schema}
}

// Conn возвращает соединение, получая его при первом обращении.
func (s *Session) Conn(ctx context.Context) (uow.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	if s.connector == nil {
		return nil, rpcerr.FailedPrecondition(rpcerr.ReasonBackendNotConfigured, "relational backend is not configured")
	}
	conn, err := s.connector.Acquire(ctx)
	if err != nil {
		return nil, &acquireError{err: err}
	}
	s.conn = conn
	return conn, nil
}

// Used сообщает, бралось ли соединение.
func (s *Session) Used() bool {
	return s.conn != nil
}

// Execute вызывает процедуру запроса и собирает все строки результата.
func (s *Session) Execute(ctx context.Context, req *Request) (*Result, error) {
	stmt, args, err := req.Statement(s.schema)
	if err != nil {
		return nil, err
	}
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return collectRows(rows)
}
