// Package docstore транзакционное хранилище документов поверх Redis: оптимистичные транзакции
// чтение-изменение-запись на WATCH/MULTI с автоматическим повтором при конфликте записи.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultKeyPrefix  = "doc"
	defaultMaxRetries = 25
)

// ErrConflict попытки транзакции исчерпаны из-за конфликтов записи.
var ErrConflict = rpcerr.FailedPrecondition(rpcerr.ReasonTransactionConflict,
	"transaction conflict, retries exhausted")

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

type Store struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	log        *logrus.Entry
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithMaxRetries общее число попыток тела транзакции.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(client redis.UniversalClient, l *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     defaultKeyPrefix,
		maxRetries: defaultMaxRetries,
		log:        l.WithField("component", "docstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTransaction выполняет body в оптимистичной транзакции. Все прочитанные ключи наблюдаются,
// записи копятся и применяются одним MULTI/EXEC. Если наблюдаемый ключ изменился, тело выполняется
// заново на свежих данных, поэтому body не должно иметь внешних побочных эффектов.
func (s *Store) RunTransaction(ctx context.Context, body func(tx *Tx) error) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := newTx(ctx, rtx, s.prefix)
			if bodyErr := body(tx); bodyErr != nil {
				return bodyErr
			}
			return tx.commit()
		})
		if errors.Is(err, redis.TxFailedErr) {
			if ctx.Err() != nil {
				return ctx.Err() //nolint:wrapcheck
			}
			continue
		}
		if attempt > 1 && err == nil {
			s.log.WithField("attempts", attempt).Debug("transaction committed after conflicts")
		}
		return err
	}
	s.log.WithField("attempts", s.maxRetries).Warn("transaction conflict retries exhausted")
	return ErrConflict
}

// Get читает документ вне транзакции.
func (s *Store) Get(ctx context.Context, collection, id string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, key(s.prefix, collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err //nolint:wrapcheck
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// Put записывает документ вне транзакции. Используется для начального наполнения.
func (s *Store) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return s.client.Set(ctx, key(s.prefix, collection, id), raw, 0).Err() //nolint:wrapcheck
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err() //nolint:wrapcheck
}

func key(prefix, collection, id string) string {
	return prefix + ":" + collection + ":" + id
}
