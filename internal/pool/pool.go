// Package pool управляет единственным на процесс пулом соединений с реляционным бекендом.
package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/config"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotConfigured типизированная ошибка: вызывающий получает failed-precondition без повторов.
	ErrNotConfigured = rpcerr.FailedPrecondition(rpcerr.ReasonBackendNotConfigured,
		"relational backend is not configured")
	ErrClosed = errors.New("[pool] handle is closed")
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosed     State = "closed"
)

// BuildFunc создает пул по готовой конфигурации. Подменяется в тестах.
type BuildFunc func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error)

// future результат одного построения пула. Все ожидающие Acquire получают один и тот же результат.
type future struct {
	done chan struct{}
	pool *pgxpool.Pool
	err  error
}

// Handle ленивый синглтон пула. Пул строится при первом Acquire, после Discard следующий Acquire строит
// его заново. Handle принадлежит корню приложения и передается зависимостям явно.
type Handle struct {
	conf          config.Database
	migrationsDir string
	log           *logrus.Entry
	build         BuildFunc

	mu        sync.Mutex
	current   *future
	closed    bool
	migrated  bool
	lastErr   error
	rebuilds  uint64
	createdAt time.Time
}

type Option func(*Handle)

// WithBuildFunc заменяет построение пула (по умолчанию NewWithConfig + Ping + миграции).
func WithBuildFunc(fn BuildFunc) Option {
	return func(h *Handle) {
		h.build = fn
	}
}

// WithMigrations включает применение миграций из dir при первом успешном построении пула.
func WithMigrations(dir string) Option {
	return func(h *Handle) {
		h.migrationsDir = dir
	}
}

func New(conf config.Database, l *logrus.Logger, opts ...Option) *Handle {
	h := &Handle{
		conf: conf,
		log:  l.WithField("component", "pool"),
	}
	h.build = h.defaultBuild
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Acquire возвращает текущий пул или строит новый. Одновременные вызовы ждут одно построение.
// Неудачное построение не кэшируется: следующий вызов попробует снова.
func (h *Handle) Acquire(ctx context.Context) (uow.Conn, error) {
	p, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handle) acquire(ctx context.Context) (*pgxpool.Pool, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	f := h.current
	if f == nil {
		f = &future{done: make(chan struct{})}
		h.current = f
		// построение не привязано к контексту конкретного вызывающего: его отмена не должна
		// ломать ожидание остальных.
		go h.resolve(context.WithoutCancel(ctx), f)
	}
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err() //nolint:wrapcheck
	case <-f.done:
	}

	if f.err != nil {
		h.mu.Lock()
		if h.current == f {
			h.current = nil
		}
		h.mu.Unlock()
		return nil, f.err
	}
	return f.pool, nil
}

func (h *Handle) resolve(ctx context.Context, f *future) {
	defer close(f.done)

	cfg, cfgErr := h.poolConfig()
	if cfgErr != nil {
		f.err = cfgErr
		h.setLastErr(cfgErr)
		return
	}

	p, buildErr := h.build(ctx, cfg)
	if buildErr != nil {
		f.err = fmt.Errorf("build pool: %w", buildErr)
		h.setLastErr(f.err)
		h.log.WithError(buildErr).Warn("pool build failed")
		return
	}
	f.pool = p

	h.mu.Lock()
	h.lastErr = nil
	h.rebuilds++
	h.createdAt = time.Now()
	h.mu.Unlock()
	h.log.WithField("maxConns", cfg.MaxConns).Info("pool ready")
}

// Discard выбрасывает текущий пул после ошибки уровня пула. Следующий Acquire построит новый.
// Старый пул закрывается в фоне, чтобы не ждать возврата занятых соединений.
func (h *Handle) Discard(cause error) {
	h.mu.Lock()
	f := h.current
	h.current = nil
	if cause != nil {
		h.lastErr = cause
	}
	h.mu.Unlock()

	if f == nil {
		return
	}
	h.log.WithError(cause).Warn("pool discarded")
	go closeWhenResolved(f)
}

// Reconnect выбрасывает текущий пул и сразу строит новый.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.Discard(nil)
	_, err := h.acquire(ctx)
	return err
}

// Reset закрывает и очищает пул синхронно. Handle остается пригодным для новых Acquire.
func (h *Handle) Reset() {
	h.mu.Lock()
	f := h.current
	h.current = nil
	h.mu.Unlock()

	if f != nil {
		closeWhenResolved(f)
	}
}

// Close закрывает пул окончательно.
func (h *Handle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.Reset()
}

// Supervise периодически проверяет пул и пересоздает его, если проверка не прошла.
// Пока пул не построен, проверка не выполняется: это работа первого Acquire.
func (h *Handle) Supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check(ctx, interval)
		}
	}
}

func (h *Handle) check(ctx context.Context, timeout time.Duration) {
	p := h.ready()
	if p == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if pingErr := p.Ping(pingCtx); pingErr != nil {
		if ctx.Err() != nil {
			return
		}
		h.log.WithError(pingErr).Warn("pool health check failed, reconnecting")
		if err := h.Reconnect(ctx); err != nil {
			h.log.WithError(err).Error("pool reconnect failed")
		}
	}
}

// ready возвращает построенный пул без ожидания и без построения.
func (h *Handle) ready() *pgxpool.Pool {
	h.mu.Lock()
	f := h.current
	h.mu.Unlock()
	if f == nil {
		return nil
	}
	select {
	case <-f.done:
		return f.pool
	default:
		return nil
	}
}

type Status struct {
	State      State  `json:"state"`
	TotalConns int32  `json:"totalConns"`
	IdleConns  int32  `json:"idleConns"`
	Builds     uint64 `json:"builds"`
	LastError  string `json:"lastError,omitempty"`
}

func (h *Handle) Status() Status {
	h.mu.Lock()
	closed, f, builds, lastErr := h.closed, h.current, h.rebuilds, h.lastErr
	h.mu.Unlock()

	st := Status{State: StateIdle, Builds: builds}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	switch {
	case closed:
		st.State = StateClosed
	case f == nil:
	default:
		select {
		case <-f.done:
			if f.pool != nil {
				st.State = StateReady
				stat := f.pool.Stat()
				st.TotalConns = stat.TotalConns()
				st.IdleConns = stat.IdleConns()
			}
		default:
			st.State = StateConnecting
		}
	}
	return st
}

func (h *Handle) setLastErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// poolConfig собирает конфигурацию пула из параметров окружения. Значения присваиваются полям
// конфигурации напрямую, строка подключения не склеивается.
func (h *Handle) poolConfig() (*pgxpool.Config, error) {
	c := h.conf
	var missing []string
	if c.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %v", ErrNotConfigured, missing)
	}

	cfg, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.ConnConfig.Host = c.Host
	cfg.ConnConfig.Port = c.Port
	cfg.ConnConfig.User = c.User
	cfg.ConnConfig.Password = c.Password
	cfg.ConnConfig.Database = c.Name
	cfg.ConnConfig.TLSConfig = tlsConfig(c)
	cfg.ConnConfig.Fallbacks = nil

	if c.PoolMax > 0 {
		cfg.MaxConns = c.PoolMax
	}
	if c.PoolMin > 0 && c.PoolMin <= cfg.MaxConns {
		cfg.MinConns = c.PoolMin
	}
	if c.IdleTimeout > 0 {
		cfg.MaxConnIdleTime = c.IdleTimeout
	}
	return cfg, nil
}

func tlsConfig(c config.Database) *tls.Config {
	if !c.Encrypt {
		return nil
	}
	if c.TrustServerCert {
		return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
}

func closeWhenResolved(f *future) {
	<-f.done
	if f.pool != nil {
		f.pool.Close()
	}
}
