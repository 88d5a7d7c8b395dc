package uow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type RepositoryName string
type Repository any
type RepositoryFactory func(DBTX) Repository

// Registry набор фабрик репозиториев. Заполняется один раз при старте, затем только читается.
type Registry struct {
	repositories map[RepositoryName]RepositoryFactory
}

func NewRegistry() *Registry {
	return &Registry{repositories: make(map[RepositoryName]RepositoryFactory)}
}

// Register регистрирует фабрику репозитория. Если имя уже занято, возвращает ErrRepositoryAlreadyRegistered.
func (r *Registry) Register(name RepositoryName, factory RepositoryFactory) error {
	if _, ok := r.repositories[name]; ok {
		return ErrRepositoryAlreadyRegistered
	}
	r.repositories[name] = factory
	return nil
}

// Bind создает единицу работы поверх конкретного соединения. Регистрация в единице работы реестр не меняет.
func (r *Registry) Bind(conn Conn) *UnitOfWork {
	repositories := make(map[RepositoryName]RepositoryFactory, len(r.repositories))
	for name, factory := range r.repositories {
		repositories[name] = factory
	}
	return &UnitOfWork{conn: conn, repositories: repositories}
}

type UnitOfWork struct {
	conn         Conn
	repositories map[RepositoryName]RepositoryFactory
}

// Do выполняет функцию fn внутри транзакции.
func (u *UnitOfWork) Do(ctx context.Context, fn func(context.Context, TX) error) (err error) {
	tx, txErr := u.conn.BeginTx(ctx, pgx.TxOptions{})
	if txErr != nil {
		return txErr //nolint:wrapcheck
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			if err == nil {
				err = rollbackErr
			} else {
				err = errors.Join(err, rollbackErr)
			}
		}
	}()

	transErr := fn(ctx, NewTransaction(tx, u.repositories))
	if transErr != nil {
		return transErr
	}
	err = tx.Commit(ctx)
	return
}
