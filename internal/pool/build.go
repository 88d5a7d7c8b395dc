package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	// driver for migration applying postgres.
	_ "github.com/golang-migrate/migrate/v4/database/postgres" //nolint:revive
	// driver to get migrations from files (*.sql in our case).
	_ "github.com/golang-migrate/migrate/v4/source/file" //nolint:revive
)

func (h *Handle) defaultBuild(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	p, poolErr := pgxpool.NewWithConfig(ctx, cfg)
	if poolErr != nil {
		return nil, fmt.Errorf("failed to create pool: %w", poolErr)
	}

	// Проверяем, что соединение работает (Ping)
	if pingErr := p.Ping(ctx); pingErr != nil {
		p.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", pingErr)
	}

	if err := h.migrateOnce(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// migrateOnce применяет миграции при первом успешном подключении процесса.
func (h *Handle) migrateOnce() error {
	if h.migrationsDir == "" {
		return nil
	}
	h.mu.Lock()
	done := h.migrated
	h.mu.Unlock()
	if done {
		return nil
	}

	m, mErr := migrate.New("file://"+h.migrationsDir, h.migrateURL())
	if mErr != nil {
		return fmt.Errorf("failed to create migrate instance: %w", mErr)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	h.mu.Lock()
	h.migrated = true
	h.mu.Unlock()
	h.log.WithField("dir", h.migrationsDir).Info("migrations applied")
	return nil
}

// migrateURL DSN в формате, который понимает драйвер миграций. Учетные данные экранирует url.URL.
func (h *Handle) migrateURL() string {
	c := h.conf
	q := url.Values{}
	q.Set("sslmode", sslMode(c.Encrypt, c.TrustServerCert))
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))),
		Path:     "/" + c.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func sslMode(encrypt, trust bool) string {
	switch {
	case !encrypt:
		return "disable"
	case trust:
		return "require"
	default:
		return "verify-full"
	}
}

// Warmup пытается построить пул при старте, повторяя попытки с паузой. Ошибка конфигурации не повторяется.
func (h *Handle) Warmup(ctx context.Context, maxAttempts uint, retryInterval time.Duration) error {
	var attempts uint
	for {
		_, err := h.acquire(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotConfigured) || ctx.Err() != nil {
			return err
		}
		attempts++
		if attempts >= maxAttempts {
			return fmt.Errorf("init postgres connection after %d attempts: %w", maxAttempts, err)
		}
		h.log.WithError(err).
			WithField("CurrentAttempt", fmt.Sprintf("#%d / %d", attempts, maxAttempts)).
			Warnf("init postgres connection error, retrying in %.f seconds", retryInterval.Seconds())

		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-time.After(retryInterval):
		}
	}
}
