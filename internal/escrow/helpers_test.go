package escrow

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testAuthorizer() *authz.Authorizer {
	return authz.NewAuthorizer(authz.NewRoleEvaluator(authz.DefaultRules()))
}

func testGrant(t *testing.T, uid string) *authz.AdminGrant {
	t.Helper()
	grant, err := testAuthorizer().RequireAdmin(context.Background(), &authz.Identity{UID: uid, Roles: []string{"admin"}})
	require.NoError(t, err)
	return grant
}

func newTestDispatcher(t *testing.T, backend Backend, connector gateway.Connector) *gateway.Dispatcher {
	t.Helper()
	return newTestDispatcherWith(t, backend, connector, testAuthorizer())
}

// newTestDispatcherWith как newTestDispatcher, но права администратора проверяет az.
func newTestDispatcherWith(
	t *testing.T,
	backend Backend,
	connector gateway.Connector,
	az *authz.Authorizer,
) *gateway.Dispatcher {
	t.Helper()
	registry := gateway.NewRegistry()
	require.NoError(t, registry.Register(Definitions(backend, az)...))
	return gateway.NewDispatcher(gateway.DispatcherArgs{
		Registry:  registry,
		Connector: connector,
		Policy:    authz.NewRoleEvaluator(authz.DefaultRules()),
		Schema:    "public",
		Retry:     gateway.RetryPolicy{Attempts: 3},
		Logger:    discardLogger(),
	})
}

func caller(uid string, roles ...string) gateway.CallerContext {
	return gateway.CallerContext{
		Identity:       &authz.Identity{UID: uid, Roles: roles},
		ClientVerified: true,
		RequestID:      "req-" + uid,
	}
}

func payload(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
