package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/config"
	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/escrow"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/operations"
	"github.com/fsdevblog/escrow-gateway/internal/pool"
	"github.com/fsdevblog/escrow-gateway/internal/repository/pgrepo"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc"
	"github.com/sirupsen/logrus"
)

const (
	warmupAttempts  = 5
	warmupInterval  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

type App struct {
	Config *config.Config
	Logger *logrus.Logger
}

func New(conf *config.Config, l *logrus.Logger) *App {
	return &App{
		Config: conf,
		Logger: l,
	}
}

// backends то, что выбрано флагом пути исполнения. Ровно одно из полей pool/docs не nil.
type backends struct {
	escrow escrow.Backend
	pool   *pool.Handle
	docs   *docstore.Store
	close  func()
}

func (a *App) Run() error {
	notifyCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Logger.WithFields(a.Config.LogFields()).Info("starting escrow gateway")

	rate, rateErr := a.Config.CommissionRate()
	if rateErr != nil {
		a.Logger.WithError(rateErr).Warn("commission rate fallback to default")
	}
	settings := escrow.Settings{Rate: rate, PlatformWalletID: a.Config.PlatformWalletID}

	b, err := a.initBackends(notifyCtx, settings)
	if err != nil {
		return fmt.Errorf("app run: %s", err.Error())
	}
	defer b.close()

	rules, err := authz.LoadRules(a.Config.PolicyFile)
	if err != nil {
		return fmt.Errorf("app run: %s", err.Error())
	}
	policy := authz.NewRoleEvaluator(rules)
	authorizer := authz.NewAuthorizer(policy)

	registry := gateway.NewRegistry()
	if regErr := registry.Register(escrow.Definitions(b.escrow, authorizer)...); regErr != nil {
		return fmt.Errorf("app run: %s", regErr.Error())
	}
	if regErr := registry.Register(operations.Definitions(authorizer, b.docs)...); regErr != nil {
		return fmt.Errorf("app run: %s", regErr.Error())
	}

	dispatcherArgs := gateway.DispatcherArgs{
		Registry: registry,
		Policy:   policy,
		Schema:   a.Config.Database.Schema,
		Retry: gateway.RetryPolicy{
			Attempts: a.Config.BackendRetryAttempts,
			Backoff:  a.Config.BackendRetryBackoff,
		},
		Verification: gateway.ClientVerification{
			Production:    a.Config.IsProduction(),
			BypassEnabled: a.Config.BypassEnabled(),
			BypassToken:   a.Config.ClientBypassToken,
		},
		Logger: a.Logger,
	}
	routerArgs := rpc.RouterArgs{
		Logger:          a.Logger,
		JWTUserSecret:   []byte(a.Config.JWTUserSecret),
		JWTClientSecret: []byte(a.Config.JWTClientSecret),
		Production:      a.Config.IsProduction(),
	}
	// nil указатель в интерфейсе не должен попасть в зависимости.
	if b.pool != nil {
		dispatcherArgs.Connector = b.pool
		routerArgs.Pool = b.pool
		go b.pool.Supervise(notifyCtx, a.Config.PoolHealthInterval)
	}
	if b.docs != nil {
		routerArgs.Docs = b.docs
	}
	routerArgs.Dispatcher = gateway.NewDispatcher(dispatcherArgs)
	a.Logger.WithField("operations", registry.Names()).Info("operations registered")

	server := &http.Server{
		Addr:              a.Config.RunAddress,
		Handler:           rpc.New(routerArgs),
		ReadHeaderTimeout: 5 * time.Second, //nolint:mnd
	}

	errChan := make(chan error, 1)

	go func() {
		if runErr := server.ListenAndServe(); runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
			errChan <- runErr
		}
	}()

	select {
	case <-notifyCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.Logger.WithError(shutdownErr).Error("http server shutdown")
		}
		return notifyCtx.Err() //nolint:wrapcheck
	case err := <-errChan:
		return err
	}
}

func (a *App) initBackends(ctx context.Context, settings escrow.Settings) (*backends, error) {
	if !a.Config.UseRelationalGateway {
		client, err := docstore.Connect(ctx, a.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init document store: %w", err)
		}
		store := docstore.New(client, a.Logger)
		if pingErr := store.Ping(ctx); pingErr != nil {
			a.Logger.WithError(pingErr).Warn("document store is not reachable yet")
		}
		return &backends{
			escrow: escrow.NewDocumentBackend(store, settings),
			docs:   store,
			close:  func() { _ = client.Close() },
		}, nil
	}

	repos, err := pgrepo.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("init repositories: %w", err)
	}
	handle := pool.New(a.Config.Database, a.Logger, pool.WithMigrations(a.Config.MigrationsDir))
	// пул ленивый: неудачный прогрев не мешает старту, кроме ошибки конфигурации.
	if warmErr := handle.Warmup(ctx, warmupAttempts, warmupInterval); warmErr != nil {
		if errors.Is(warmErr, pool.ErrNotConfigured) {
			return nil, fmt.Errorf("init pool: %w", warmErr)
		}
		a.Logger.WithError(warmErr).Warn("relational backend is not reachable yet")
	}
	return &backends{
		escrow: escrow.NewRelationalBackend(repos, settings),
		pool:   handle,
		close:  handle.Close,
	}, nil
}
